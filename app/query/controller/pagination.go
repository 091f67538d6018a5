package controller

import (
	"net/http"
	"strconv"

	indexermodels "github.com/canopy-network/bakerx/pkg/db/models/indexer"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

// SortOrder represents the sort direction for queries
type SortOrder string

const (
	SortOrderAsc  SortOrder = "asc"
	SortOrderDesc SortOrder = "desc"
)

type pageSpec struct {
	Limit  int
	Cursor uint64
	Sort   SortOrder
}

// storePage asks for one extra row so the handler can tell whether another page exists.
func (p pageSpec) storePage() indexermodels.Page {
	return indexermodels.Page{Limit: p.Limit + 1, Cursor: p.Cursor, Desc: p.Sort == SortOrderDesc}
}

type pagedResponse[T any] struct {
	Data       []T     `json:"data"`
	Limit      int     `json:"limit"`
	NextCursor *uint64 `json:"next_cursor,omitempty"`
}

// paginate trims rows fetched with storePage and derives the next cursor from the last kept row.
func paginate[T any](rows []T, page pageSpec, key func(T) uint64) pagedResponse[T] {
	resp := pagedResponse[T]{Data: rows, Limit: page.Limit}
	if resp.Data == nil {
		resp.Data = []T{}
	}
	if len(rows) > page.Limit {
		resp.Data = rows[:page.Limit]
		cursor := key(resp.Data[len(resp.Data)-1])
		resp.NextCursor = &cursor
	}
	return resp
}

func parsePageSpec(r *http.Request) (pageSpec, error) {
	qs := r.URL.Query()
	limit := defaultLimit
	if v := qs.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return pageSpec{}, errInvalidLimit
		}
		limit = min(n, maxLimit)
	}

	var cursor uint64
	if v := qs.Get("cursor"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return pageSpec{}, errInvalidCursor
		}
		cursor = n
	}

	// newest first unless asked otherwise
	sort := SortOrderDesc
	if v := qs.Get("sort"); v != "" {
		switch v {
		case "asc":
			sort = SortOrderAsc
		case "desc":
			sort = SortOrderDesc
		default:
			return pageSpec{}, errInvalidSort
		}
	}

	return pageSpec{Limit: limit, Cursor: cursor, Sort: sort}, nil
}

// parseUintParam returns nil when the query parameter is absent.
func parseUintParam(r *http.Request, name string) (*uint64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return nil, &parseError{msg: "invalid " + name}
	}
	return &n, nil
}

var (
	errInvalidLimit  = &parseError{msg: "invalid limit"}
	errInvalidCursor = &parseError{msg: "invalid cursor"}
	errInvalidSort   = &parseError{msg: "invalid sort, must be 'asc' or 'desc'"}
)

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }
