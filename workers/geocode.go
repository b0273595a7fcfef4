// Package workers holds the background loops that run alongside the
// scheduler.
package workers

import (
	"context"
	"log"
	"time"

	"retsync/importer"
	"retsync/models"
)

// GeocodeWorker periodically backfills coordinates for properties the
// cycle's geocode phase skipped or that failed both lookup attempts.
type GeocodeWorker struct {
	enricher *importer.Enricher
	trigger  chan struct{}
}

func NewGeocodeWorker(enricher *importer.Enricher) *GeocodeWorker {
	return &GeocodeWorker{
		enricher: enricher,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an immediate pass. Coalesces if one is already queued.
func (w *GeocodeWorker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *GeocodeWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Geocode worker stopping")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		case <-w.trigger:
			w.processBatch(ctx)
		}
	}
}

func (w *GeocodeWorker) processBatch(ctx context.Context) {
	for _, class := range models.PropertyClasses {
		if _, _, err := w.enricher.EnrichAll(ctx, class); err != nil {
			log.Printf("Geocode: %v", err)
		}
	}
}
