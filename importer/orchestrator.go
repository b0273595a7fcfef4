package importer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"retsync/config"
	"retsync/models"
	"retsync/rets"
)

// WatermarkStore persists the high-water mark between cycles.
type WatermarkStore interface {
	ReadWatermark(ctx context.Context) (time.Time, error)
	WriteWatermark(ctx context.Context, t time.Time) error
}

// Ops receives run bookkeeping. May be nil when no ops store is wired.
type Ops interface {
	CreateRun(run *models.SyncRun) (int64, error)
	UpdateRun(run *models.SyncRun) error
	Log(runID *int64, level models.LogLevel, message, kind string) error
}

// ErrCycleInFlight is returned when a cycle is requested while another
// one is still running. The caller waits for the next tick instead.
var ErrCycleInFlight = errors.New("sync cycle already in flight")

// Orchestrator runs the sync cycle: records per kind, then images, then
// geocoding, and finally the watermark advance. One kind failing never
// blocks the others, and the watermark still advances so a poisoned
// window cannot wedge the pipeline.
type Orchestrator struct {
	cfg        *config.Config
	fetcher    *Fetcher
	upserter   *Upserter
	images     *ImageSync
	enricher   *Enricher
	watermark  WatermarkStore
	properties PropertyRepo
	agents     AgentRepo
	ops        Ops

	// cycleMu keeps cycles from overlapping. A slow cycle finishing
	// after a newer one started would otherwise write a stale
	// watermark and rewind it.
	cycleMu sync.Mutex
}

func NewOrchestrator(
	cfg *config.Config,
	fetcher *Fetcher,
	upserter *Upserter,
	images *ImageSync,
	enricher *Enricher,
	watermark WatermarkStore,
	properties PropertyRepo,
	agents AgentRepo,
	ops Ops,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		fetcher:    fetcher,
		upserter:   upserter,
		images:     images,
		enricher:   enricher,
		watermark:  watermark,
		properties: properties,
		agents:     agents,
		ops:        ops,
	}
}

// RunCycle syncs everything modified since the stored watermark and
// advances it to the cycle's start instant.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	return o.runCycle(ctx, nil)
}

// RunCycleFrom syncs everything modified since an explicit instant. The
// stored watermark is left untouched, so operator re-runs never move it.
func (o *Orchestrator) RunCycleFrom(ctx context.Context, since time.Time) error {
	return o.runCycle(ctx, &since)
}

func (o *Orchestrator) runCycle(ctx context.Context, since *time.Time) error {
	if !o.cycleMu.TryLock() {
		log.Print("Orchestrator: cycle already running, skipping")
		return ErrCycleInFlight
	}
	defer o.cycleMu.Unlock()

	var from time.Time
	if since != nil {
		from = *since
	} else {
		wm, err := o.watermark.ReadWatermark(ctx)
		if err != nil {
			return fmt.Errorf("read watermark: %w", err)
		}
		from = wm
	}
	now := time.Now()

	run := &models.SyncRun{
		CycleID:     uuid.New().String(),
		StartedAt:   now,
		Status:      models.RunStatusRunning,
		WindowStart: from,
		WindowEnd:   now,
	}
	o.createRun(run)
	log.Printf("Orchestrator: cycle %s syncing window %s .. %s",
		run.CycleID, from.Format(rets.TimeFormat), now.Format(rets.TimeFormat))

	var kindErrs []error
	kinds := 0
	for _, class := range models.PropertyClasses {
		kinds++
		if err := o.importProperties(ctx, class, from, now, run); err != nil {
			if ctx.Err() != nil {
				return o.abortCycle(run, err)
			}
			o.logRun(run, models.LogLevelError, err.Error(), class.Label())
			kindErrs = append(kindErrs, err)
		}
	}
	kinds++
	if err := o.importAgents(ctx, from, now, run); err != nil {
		if ctx.Err() != nil {
			return o.abortCycle(run, err)
		}
		o.logRun(run, models.LogLevelError, err.Error(), "agent")
		kindErrs = append(kindErrs, err)
	}

	// A failed kind does not hold the watermark back, the window stays
	// recoverable through an operator re-run. If every kind failed the
	// cycle imported nothing, so keep the watermark where it was.
	if len(kindErrs) == kinds {
		return o.abortCycle(run, errors.Join(kindErrs...))
	}

	kindErrs = append(kindErrs, o.imagePhase(ctx, from, run)...)
	kindErrs = append(kindErrs, o.geocodePhase(ctx, run)...)

	if err := ctx.Err(); err != nil {
		return o.abortCycle(run, err)
	}

	if since == nil {
		if err := o.watermark.WriteWatermark(ctx, now); err != nil {
			return o.abortCycle(run, fmt.Errorf("write watermark: %w", err))
		}
	}

	run.Status = models.RunStatusCompleted
	if len(kindErrs) > 0 {
		run.Status = models.RunStatusPartial
		run.ErrorMessage = errors.Join(kindErrs...).Error()
	}
	run.ErrorsCount = len(kindErrs)
	o.finishRun(run)

	log.Printf("Orchestrator: cycle %s %s: found=%d upserted=%d images=%d/%d geocoded=%d",
		run.CycleID, run.Status, run.RecordsFound, run.RecordsUpserted,
		run.ImagesReplaced, run.ImagesReplaced+run.ImageFailures, run.GeocodeUpdated)

	return errors.Join(kindErrs...)
}

// abortCycle marks the run failed and returns without touching the
// watermark, so the next cycle re-covers the same window.
func (o *Orchestrator) abortCycle(run *models.SyncRun, err error) error {
	run.Status = models.RunStatusFailed
	run.ErrorMessage = err.Error()
	run.ErrorsCount++
	o.finishRun(run)
	log.Printf("Orchestrator: cycle %s aborted: %v", run.CycleID, err)
	return err
}

// importProperties walks the window in day-sized slices so one oversized
// query cannot blow the feed's result cap.
func (o *Orchestrator) importProperties(ctx context.Context, class models.PropertyClass, from, to time.Time, run *models.SyncRun) error {
	statusFilter := ""
	if o.cfg.Sync.ImportOnlyActive {
		statusFilter = rets.Eq("STATUS", "A")
	}

	for _, w := range splitWindows(from, to, o.cfg.Sync.DaysPerBatch) {
		params := rets.SearchParams{
			Resource: "Property",
			Class:    string(class),
			Query:    rets.And(rets.DateRange("DATE_MODIFIED", w.start, w.end), statusFilter),
		}
		found, err := o.fetcher.FetchAll(ctx, params, func(rec rets.Record) error {
			if _, err := o.upserter.UpsertProperty(ctx, class, rec); err != nil {
				return err
			}
			run.RecordsUpserted++
			return nil
		})
		run.RecordsFound += found
		if err != nil {
			return fmt.Errorf("import %s properties: %w", class.Label(), err)
		}
	}
	return nil
}

func (o *Orchestrator) importAgents(ctx context.Context, from, to time.Time, run *models.SyncRun) error {
	params := rets.SearchParams{
		Resource: "Agent",
		Class:    "AGT",
		Query: rets.And(
			rets.DateRange("LA_DATE_MODIFIED", from, to),
			rets.Eq("LA_MEMBER_STATUS", "A"),
		),
	}
	found, err := o.fetcher.FetchAll(ctx, params, func(rec rets.Record) error {
		if _, err := o.upserter.UpsertAgent(ctx, rec); err != nil {
			return err
		}
		run.RecordsUpserted++
		return nil
	})
	run.RecordsFound += found
	if err != nil {
		return fmt.Errorf("import agents: %w", err)
	}
	return nil
}

// imagePhase rebuilds image sets for every owner whose photo timestamp
// moved past the window start. Failures are counted, never fatal.
func (o *Orchestrator) imagePhase(ctx context.Context, from time.Time, run *models.SyncRun) []error {
	var errs []error

	for _, class := range models.PropertyClasses {
		props, err := o.properties.PropertiesWithPhotosAfter(ctx, class, from)
		if err != nil {
			errs = append(errs, fmt.Errorf("list %s properties with new photos: %w", class.Label(), err))
			continue
		}
		owners := make([]Owner, 0, len(props))
		for i := range props {
			owners = append(owners, PropertyOwner(class, &props[i]))
		}
		report := o.images.ResyncAll(ctx, owners)
		run.ImagesReplaced += report.Replaced
		run.ImageFailures += report.Failed()
	}

	agents, err := o.agents.AgentsWithPhotosAfter(ctx, from, o.cfg.Sync.AgentOfficeCode)
	if err != nil {
		errs = append(errs, fmt.Errorf("list agents with new photos: %w", err))
		return errs
	}
	owners := make([]Owner, 0, len(agents))
	for i := range agents {
		owners = append(owners, AgentOwner(&agents[i]))
	}
	report := o.images.ResyncAll(ctx, owners)
	run.ImagesReplaced += report.Replaced
	run.ImageFailures += report.Failed()

	return errs
}

func (o *Orchestrator) geocodePhase(ctx context.Context, run *models.SyncRun) []error {
	if o.enricher == nil {
		return nil
	}
	var errs []error
	for _, class := range models.PropertyClasses {
		updated, failed, err := o.enricher.EnrichAll(ctx, class)
		run.GeocodeUpdated += updated
		run.GeocodeFailures += failed
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// RunGeocode backfills coordinates for every class outside a sync cycle.
func (o *Orchestrator) RunGeocode(ctx context.Context) error {
	if o.enricher == nil {
		return nil
	}
	var errs []error
	for _, class := range models.PropertyClasses {
		if _, _, err := o.enricher.EnrichAll(ctx, class); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SyncProperty re-imports a single property by MLS number, including its
// images and coordinates. Does not touch the watermark.
func (o *Orchestrator) SyncProperty(ctx context.Context, mlsAcct string, class models.PropertyClass) error {
	params := rets.SearchParams{
		Resource: "Property",
		Class:    string(class),
		Query:    rets.Eq("MLS_ACCT", mlsAcct),
	}

	var prop *models.Property
	_, err := o.fetcher.FetchAll(ctx, params, func(rec rets.Record) error {
		p, err := o.upserter.UpsertProperty(ctx, class, rec)
		if err != nil {
			return err
		}
		prop = p
		return nil
	})
	if err != nil {
		return fmt.Errorf("sync property %s: %w", mlsAcct, err)
	}
	if prop == nil {
		return fmt.Errorf("sync property %s: no %s record in feed", mlsAcct, class.Label())
	}

	if err := o.images.Resync(ctx, PropertyOwner(class, prop)); err != nil {
		return err
	}
	if o.enricher != nil {
		if err := o.enricher.Enrich(ctx, class, prop); err != nil {
			log.Printf("Orchestrator: %v", err)
		}
	}
	log.Printf("Orchestrator: synced %s property %s", class.Label(), mlsAcct)
	return nil
}

// SyncAgent re-imports a single agent by LA code, including the photo.
func (o *Orchestrator) SyncAgent(ctx context.Context, laCode string) error {
	params := rets.SearchParams{
		Resource: "Agent",
		Class:    "AGT",
		Query:    rets.Eq("LA_LA_CODE", laCode),
	}

	var agent *models.Agent
	_, err := o.fetcher.FetchAll(ctx, params, func(rec rets.Record) error {
		a, err := o.upserter.UpsertAgent(ctx, rec)
		if err != nil {
			return err
		}
		agent = a
		return nil
	})
	if err != nil {
		return fmt.Errorf("sync agent %s: %w", laCode, err)
	}
	if agent == nil {
		return fmt.Errorf("sync agent %s: no record in feed", laCode)
	}

	if err := o.images.Resync(ctx, AgentOwner(agent)); err != nil {
		return err
	}
	log.Printf("Orchestrator: synced agent %s", laCode)
	return nil
}

type window struct {
	start time.Time
	end   time.Time
}

// splitWindows slices [from, to) into consecutive spans of at most days.
// Adjacent windows share a boundary instant; upserts are idempotent so
// the overlap is harmless.
func splitWindows(from, to time.Time, days int) []window {
	var out []window
	span := time.Duration(days) * 24 * time.Hour
	for start := from; start.Before(to); start = start.Add(span) {
		end := start.Add(span)
		if end.After(to) {
			end = to
		}
		out = append(out, window{start: start, end: end})
	}
	return out
}

func (o *Orchestrator) createRun(run *models.SyncRun) {
	if o.ops == nil {
		return
	}
	id, err := o.ops.CreateRun(run)
	if err != nil {
		log.Printf("Orchestrator: record run: %v", err)
		return
	}
	run.ID = id
}

func (o *Orchestrator) finishRun(run *models.SyncRun) {
	if o.ops == nil || run.ID == 0 {
		return
	}
	now := time.Now()
	run.FinishedAt = &now
	if err := o.ops.UpdateRun(run); err != nil {
		log.Printf("Orchestrator: record run: %v", err)
	}
}

func (o *Orchestrator) logRun(run *models.SyncRun, level models.LogLevel, message, kind string) {
	log.Printf("Orchestrator: [%s] %s", kind, message)
	if o.ops == nil || run.ID == 0 {
		return
	}
	id := run.ID
	if err := o.ops.Log(&id, level, message, kind); err != nil {
		log.Printf("Orchestrator: record log: %v", err)
	}
}
