package extract

import (
	"errors"
	"fmt"
)

// ErrExtractionTransient marks a page that did not render in time. The
// page policy retries it.
var ErrExtractionTransient = errors.New("listing page not ready")

// errPageNotAdvanced means the listing still showed the previous page
// after the next control was clicked.
var errPageNotAdvanced = fmt.Errorf("%w: still showing the previous page", ErrExtractionTransient)

// FormatError means the listing markup no longer matches the configured
// selectors. Retrying cannot fix it.
type FormatError struct {
	Page   int
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unexpected listing format on page %d: %s", e.Page, e.Reason)
}

// IsFormatError checks if an error is a listing format error.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}
