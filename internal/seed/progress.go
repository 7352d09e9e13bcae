package seed

// ProgressFunc receives completion percentages in [0, 100]. Within one
// operation the values never decrease and a completed operation always ends
// with 100. Nothing is reported after a fatal error.
type ProgressFunc func(percent int)

func (f ProgressFunc) report(percent int) {
	if f != nil {
		f(percent)
	}
}

// Percent returns done/total as a whole percentage, rounding halves up.
// An empty total counts as complete.
func Percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	if done <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return (done*200 + total) / (2 * total)
}
