// Package importer drives the RETS synchronization pipeline: paged fetch,
// record upsert, image replacement, coordinate enrichment, and the
// watermark-advancing orchestrator that ties them together.
package importer

import (
	"context"
	"log"

	"retsync/rets"
)

// Fetcher turns one query into a bounded stream of records using the
// count-then-page protocol. Restartable from scratch, not resumable.
type Fetcher struct {
	client rets.Client
	limit  int
}

func NewFetcher(client rets.Client, limit int) *Fetcher {
	return &Fetcher{client: client, limit: limit}
}

// FetchAll counts matching records, then pages through them at the
// configured limit, streaming each row to fn. A "no records" count is a
// normal outcome: zero batches, nil error. Short pages are normal too.
// Returns the server-reported total.
func (f *Fetcher) FetchAll(ctx context.Context, p rets.SearchParams, fn func(rets.Record) error) (int, error) {
	count, err := f.client.Count(ctx, p)
	if err != nil {
		return 0, err
	}
	if !count.Found || count.Total == 0 {
		log.Printf("Fetcher: no %s/%s records for query %s", p.Resource, p.Class, p.Query)
		return 0, nil
	}

	log.Printf("Fetcher: importing %d %s/%s records", count.Total, p.Resource, p.Class)

	batches := (count.Total + f.limit - 1) / f.limit
	for i := 0; i < batches; i++ {
		page := p
		page.Limit = f.limit
		page.Offset = f.limit * i
		if err := f.client.Search(ctx, page, fn); err != nil {
			return count.Total, err
		}
	}

	return count.Total, nil
}
