package database

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/go-sql-driver/mysql"
)

// MySQL server error numbers the connection check reports on.
const (
	erDBAccessDenied = 1044
	erAccessDenied   = 1045
	erBadDB          = 1049
)

// Describe turns a connection error into a message fit for an operator.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case erAccessDenied:
			return "Invalid user or password."
		case erDBAccessDenied:
			return "Access to the database is denied."
		case erBadDB:
			return "The database does not exist."
		}
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return "The database server is not running or the port is wrong."
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "The database server did not respond in time."
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "The database host could not be resolved."
	}

	return "Could not connect. Check the connection settings."
}
