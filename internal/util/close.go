package util

import (
	"database/sql"
	"io"
	"os"

	"github.com/pkg/errors"
)

// CloseWithErr closes c for a deferred call site and logs failures under
// name. Closing an already closed file or connection is not reported.
func CloseWithErr(c io.Closer, name string) {
	if c == nil {
		return
	}
	err := c.Close()
	switch {
	case err == nil, errors.Is(err, os.ErrClosed), errors.Is(err, sql.ErrConnDone):
		return
	case name == "":
		Warnf("close: %v", err)
	default:
		Warnf("close %s: %v", name, err)
	}
}
