// Package pagination reads limit/offset windows from list requests and wraps
// one window of results with navigation links.
package pagination

import (
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit and ?offset. Missing or unparsable values fall back
// to DefaultLimit and 0; limit is clamped to MaxLimit.
func FromContext(c echo.Context) Params {
	return Params{
		Limit:  atoiOr(c.QueryParam("limit"), DefaultLimit),
		Offset: atoiOr(c.QueryParam("offset"), 0),
	}.Normalize()
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// Normalize clamps p into the accepted window.
func (p Params) Normalize() Params {
	switch {
	case p.Limit <= 0:
		p.Limit = DefaultLimit
	case p.Limit > MaxLimit:
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type Link struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// Page is one window of a listing of total items.
type Page[T any] struct {
	Data    []T    `json:"data"`
	Total   int    `json:"total"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
	HasMore bool   `json:"hasMore"`
	Links   []Link `json:"links,omitempty"`
}

func NewPage[T any](data []T, total int, p Params) *Page[T] {
	if data == nil {
		data = []T{}
	}
	return &Page[T]{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.Offset+len(data) < total,
	}
}

// WithLinks adds self, first, previous, next and last links built from u.
// Query parameters other than limit and offset are carried over unchanged.
func (pg *Page[T]) WithLinks(u *url.URL) *Page[T] {
	at := func(rel string, offset int) Link {
		q := u.Query()
		q.Set("limit", strconv.Itoa(pg.Limit))
		q.Set("offset", strconv.Itoa(offset))
		return Link{Relation: rel, URL: u.Path + "?" + q.Encode()}
	}

	pg.Links = []Link{at("self", pg.Offset), at("first", 0)}
	if pg.Offset > 0 {
		pg.Links = append(pg.Links, at("previous", max(pg.Offset-pg.Limit, 0)))
	}
	if pg.HasMore {
		pg.Links = append(pg.Links, at("next", pg.Offset+pg.Limit))
	}
	if pg.Total > 0 && pg.Limit > 0 {
		pg.Links = append(pg.Links, at("last", (pg.Total-1)/pg.Limit*pg.Limit))
	}
	return pg
}
