// Package rets talks to a RETS server: session login, DMQL searches over
// COMPACT-DECODED payloads, and multipart object retrieval. Raw protocol
// reply codes never leave this package.
package rets

import (
	"context"
	"errors"
	"fmt"
)

// Record is one search result row as a field dictionary.
type Record map[string]string

// Object is one binary payload from a GetObject response. ID is the
// source-assigned sequence number.
type Object struct {
	ID          int
	ContentType string
	Data        []byte
}

// SearchParams describes one paged query.
type SearchParams struct {
	Resource string // Property, Agent
	Class    string // RES, COM, LND, AGT
	Query    string // DMQL
	Limit    int
	Offset   int
}

// CountResult is the tagged outcome of a count-only query. The server's
// "no records found" reply code maps to Found=false, which is a normal
// outcome, not an error.
type CountResult struct {
	Found bool
	Total int
}

// Client is the data-source boundary the sync engine depends on.
type Client interface {
	// Count runs a count-only query.
	Count(ctx context.Context, p SearchParams) (CountResult, error)
	// Search streams each result row to fn. Returning an error from fn
	// stops the stream.
	Search(ctx context.Context, p SearchParams, fn func(Record) error) error
	// GetObjects streams every photo object owned by id. A server-side
	// "no object found" reply yields zero calls and a nil error.
	GetObjects(ctx context.Context, resource, id string, fn func(Object) error) error
}

// AuthError means login was rejected or the session is no longer accepted.
// It is the fatal tier: callers abort the affected sub-cycle.
type AuthError struct {
	Code    int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("rets: authentication failed (code %d): %s", e.Code, e.Message)
}

// ErrEmptyRow is returned by the compact decoder when a DATA row does not
// line up with the COLUMNS header.
var ErrEmptyRow = errors.New("rets: data row does not match columns")
