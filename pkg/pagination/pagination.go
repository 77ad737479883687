// Package pagination reads page/per_page query arguments and slices results.
package pagination

import (
	"fmt"
	"net/url"
	"strconv"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

type Params struct {
	Page    int
	PerPage int
}

// Error names the offending query argument.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func Default() Params {
	return Params{Page: 1, PerPage: DefaultPerPage}
}

// FromQuery parses page and per_page. Missing values take defaults; anything
// that is not a positive integer is an *Error. per_page is capped at MaxPerPage.
func FromQuery(q url.Values) (Params, error) {
	p := Default()

	var err error
	if p.Page, err = positive(q, "page", p.Page); err != nil {
		return Params{}, err
	}
	if p.PerPage, err = positive(q, "per_page", p.PerPage); err != nil {
		return Params{}, err
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p, nil
}

func positive(q url.Values, field string, def int) (int, error) {
	raw := q.Get(field)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, &Error{Field: field, Message: "must be number > 0"}
	}
	return n, nil
}

// Bounds returns the [start, end) window of a list of total items. Pages past
// the end yield an empty window, however large the page number.
func (p Params) Bounds(total int) (start, end int) {
	if p.Page < 1 || p.PerPage < 1 || p.Page-1 > total/p.PerPage {
		return total, total
	}
	start = (p.Page - 1) * p.PerPage
	if start > total {
		start = total
	}
	end = total
	if p.PerPage < total-start {
		end = start + p.PerPage
	}
	return start, end
}
