package render

import (
	"net/http"
	"strconv"
)

// Paging defaults for list endpoints.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ParsePaging reads the skip and limit query parameters. A missing limit
// means DefaultLimit; larger limits are clamped to MaxLimit.
func ParsePaging(r *http.Request) (skip, limit int, err *Error) {
	q := r.URL.Query()
	limit = DefaultLimit

	if v := q.Get("skip"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 0 {
			return 0, 0, NewValidationError("skip must be a non-negative integer")
		}
		skip = n
	}
	if v := q.Get("limit"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 {
			return 0, 0, NewValidationError("limit must be a positive integer")
		}
		limit = n
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return skip, limit, nil
}
