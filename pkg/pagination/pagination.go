// Package pagination provides shared limit/offset handling for list
// endpoints.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	// DefaultLimit is the page size applied when a request does not ask
	// for one.
	DefaultLimit = 20
	// MaxLimit caps the page size a client may request.
	MaxLimit = 100
)

// Params is the validated paging window of a list request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads the limit and offset query parameters, falling back
// to DefaultLimit and clamping out-of-range values.
func FromContext(c echo.Context) Params {
	p := Params{Limit: DefaultLimit}

	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 {
		p.Limit = v
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil && v > 0 {
		p.Offset = v
	}
	return p
}

// Response is the envelope every paginated listing returns.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

// NewResponse wraps one page of results with its paging metadata.
func NewResponse(data interface{}, total, limit, offset int) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}
