package importer

import (
	"context"
	"fmt"
	"log"
	"time"

	"retsync/geocode"
	"retsync/models"
)

// Enricher backfills coordinates for properties that lack them. Lookups
// get one retry after a short pause; a property that fails both attempts
// is skipped until the next pass.
type Enricher struct {
	provider   geocode.Provider
	properties PropertyRepo
	retryDelay time.Duration
}

func NewEnricher(provider geocode.Provider, properties PropertyRepo) *Enricher {
	return &Enricher{provider: provider, properties: properties, retryDelay: 2 * time.Second}
}

// Enrich resolves and saves coordinates for one property. Properties that
// already have coordinates are left alone.
func (e *Enricher) Enrich(ctx context.Context, class models.PropertyClass, p *models.Property) error {
	if p.HasCoords() {
		return nil
	}

	addr := p.Address()
	coords, err := e.lookup(ctx, addr)
	if err != nil {
		return fmt.Errorf("geocode %s property %s (%s): %w", class.Label(), p.MLSAcct, addr, err)
	}

	if err := e.properties.UpdatePropertyCoords(ctx, class, p.ID, coords.Lat, coords.Lng); err != nil {
		return fmt.Errorf("geocode %s property %s: %w", class.Label(), p.MLSAcct, err)
	}
	return nil
}

func (e *Enricher) lookup(ctx context.Context, addr string) (geocode.Coords, error) {
	coords, err := e.provider.Geocode(ctx, addr)
	if err == nil {
		return coords, nil
	}

	select {
	case <-time.After(e.retryDelay):
	case <-ctx.Done():
		return geocode.Coords{}, ctx.Err()
	}
	return e.provider.Geocode(ctx, addr)
}

// EnrichAll backfills every property of the class missing coordinates, in
// natural key order. Individual failures are logged and counted, never
// propagated; only a storage listing error aborts the pass.
func (e *Enricher) EnrichAll(ctx context.Context, class models.PropertyClass) (updated, failed int, err error) {
	missing, err := e.properties.PropertiesMissingCoords(ctx, class)
	if err != nil {
		return 0, 0, fmt.Errorf("geocode %s properties: %w", class.Label(), err)
	}

	for i := range missing {
		if err := ctx.Err(); err != nil {
			return updated, failed, err
		}
		if err := e.Enrich(ctx, class, &missing[i]); err != nil {
			log.Printf("Enricher: %v", err)
			failed++
			continue
		}
		updated++
	}

	if updated > 0 || failed > 0 {
		log.Printf("Enricher: %s properties geocoded=%d failed=%d", class.Label(), updated, failed)
	}
	return updated, failed, nil
}
