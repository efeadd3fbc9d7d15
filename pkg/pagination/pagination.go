package pagination

import (
	"net/http"
	"strconv"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Params holds pagination parameters extracted from query strings.
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

func DefaultParams() Params {
	return Params{Page: 1, PerPage: DefaultPerPage}
}

// New clamps page and perPage into range.
func New(page, perPage int) Params {
	p := DefaultParams()
	if page > 0 {
		p.Page = page
	}
	if perPage > 0 {
		p.PerPage = min(perPage, MaxPerPage)
	}
	return p
}

// FromRequest reads page and per_page. Malformed values fall back to the
// defaults.
func FromRequest(r *http.Request) Params {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	return New(page, perPage)
}

// Offset is the number of rows to skip.
func (p Params) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Limit is the SQL LIMIT for the page.
func (p Params) Limit() int {
	return p.PerPage
}

// Window returns the [start, end) slice bounds of the page within n items.
func (p Params) Window(n int) (int, int) {
	start := min(p.Offset(), n)
	return start, min(start+p.PerPage, n)
}

// Result wraps a paginated response.
type Result[T any] struct {
	Data       []T  `json:"data"`
	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

func NewResult[T any](data []T, totalCount int, params Params) Result[T] {
	if data == nil {
		data = []T{}
	}
	totalPages := (totalCount + params.PerPage - 1) / params.PerPage

	return Result[T]{
		Data:       data,
		TotalCount: totalCount,
		Page:       params.Page,
		PerPage:    params.PerPage,
		TotalPages: totalPages,
		HasNext:    params.Page < totalPages,
	}
}
