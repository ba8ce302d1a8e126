package db

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// ErrDriverPanic marks a failure recovered from a panicking driver.
var ErrDriverPanic = errors.New("driver panic")

// ErrorReason classifies a call failure for reports, e.g. "timeout",
// "mysql:1305", "postgres:42883:undefined_function".
func ErrorReason(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, ErrDriverPanic) {
		return "driver_panic"
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return "connection"
	}
	if code, ok := MySQLErrCode(err); ok {
		return fmt.Sprintf("mysql:%d", code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if name := pqErr.Code.Name(); name != "" {
			return fmt.Sprintf("postgres:%s:%s", pqErr.Code, name)
		}
		return fmt.Sprintf("postgres:%s", pqErr.Code)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return "timeout"
	}
	return "sql_error"
}

// MySQLErrCode extracts the server error number.
func MySQLErrCode(err error) (uint16, bool) {
	if err == nil {
		return 0, false
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number, true
	}
	return 0, false
}
