package importer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"retsync/config"
	"retsync/models"
	"retsync/rets"
)

func testConfig() *config.Config {
	return &config.Config{
		Sync: config.SyncConfig{
			Limit:            100,
			DaysPerBatch:     30,
			ImportOnlyActive: true,
			AgentOfficeCode:  "46",
		},
	}
}

func testOrchestrator(t *testing.T, cfg *config.Config, client *fakeClient, store *fakeStore, enricher *Enricher) *Orchestrator {
	t.Helper()
	fetcher := NewFetcher(client, cfg.Sync.Limit)
	upserter := NewUpserter(store, store, cfg.PropertyMappings, cfg.AgentMappings)
	images := NewImageSync(client, newFakeBlobStore(), store, t.TempDir())
	return NewOrchestrator(cfg, fetcher, upserter, images, enricher, store, store, store, nil)
}

func TestRunCycle_UpsertsAndAdvancesWatermark(t *testing.T) {
	client := newFakeClient()
	client.records[recKey("Property", "RES")] = []rets.Record{
		{"MLS_ACCT": "123456", "CITY": "Destin", "STATUS": "A"},
		{"MLS_ACCT": "123457", "CITY": "Miramar Beach", "STATUS": "A"},
	}
	client.records[recKey("Agent", "AGT")] = []rets.Record{
		{"LA_LA_CODE": "12345", "LA_FIRST_NAME": "JOHN", "LA_LAST_NAME": "SMITH", "LA_MEMBER_STATUS": "A"},
	}

	store := newFakeStore()
	store.watermark = time.Now().Add(-24 * time.Hour)
	before := store.watermark

	o := testOrchestrator(t, testConfig(), client, store, nil)
	start := time.Now()
	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if len(store.properties[models.ClassResidential]) != 2 {
		t.Fatalf("expected 2 residential properties, got %d", len(store.properties[models.ClassResidential]))
	}
	if len(store.agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(store.agents))
	}
	if !store.watermark.After(before) {
		t.Fatalf("expected watermark to advance past %v, still %v", before, store.watermark)
	}
	if store.watermark.Before(start.Add(-time.Second)) || store.watermark.After(time.Now()) {
		t.Fatalf("expected watermark near cycle start, got %v", store.watermark)
	}
}

func TestRunCycle_QueriesCarryWindowAndStatus(t *testing.T) {
	client := newFakeClient()
	store := newFakeStore()
	store.watermark = time.Now().Add(-24 * time.Hour)

	o := testOrchestrator(t, testConfig(), client, store, nil)
	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	// Three property classes plus agents, one window each at this span.
	if len(client.countCalls) != 4 {
		t.Fatalf("expected 4 count queries, got %d", len(client.countCalls))
	}
	for _, call := range client.countCalls[:3] {
		if call.Resource != "Property" {
			t.Fatalf("unexpected resource %s", call.Resource)
		}
		if !strings.Contains(call.Query, "(DATE_MODIFIED=") {
			t.Fatalf("expected date window in query, got %s", call.Query)
		}
		if !strings.Contains(call.Query, "(STATUS=A)") {
			t.Fatalf("expected active-only filter, got %s", call.Query)
		}
	}
	agentCall := client.countCalls[3]
	if agentCall.Resource != "Agent" || agentCall.Class != "AGT" {
		t.Fatalf("unexpected agent query target %s/%s", agentCall.Resource, agentCall.Class)
	}
	if !strings.Contains(agentCall.Query, "(LA_MEMBER_STATUS=A)") {
		t.Fatalf("expected active agent filter, got %s", agentCall.Query)
	}
}

func TestRunCycle_SplitsLongWindows(t *testing.T) {
	client := newFakeClient()
	store := newFakeStore()
	store.watermark = time.Now().Add(-72 * time.Hour)

	cfg := testConfig()
	cfg.Sync.DaysPerBatch = 1

	o := testOrchestrator(t, cfg, client, store, nil)
	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	// Three days at one day per batch: 3 windows per class, 1 agent query.
	if len(client.countCalls) != 10 {
		t.Fatalf("expected 10 count queries, got %d", len(client.countCalls))
	}
}

func TestRunCycle_PartialFailureStillAdvances(t *testing.T) {
	client := newFakeClient()
	client.records[recKey("Property", "RES")] = []rets.Record{
		{"MLS_ACCT": "123456", "CITY": "Destin", "STATUS": "A"},
	}
	client.records[recKey("Agent", "AGT")] = []rets.Record{
		{"LA_LA_CODE": "12345", "LA_MEMBER_STATUS": "A"},
	}

	store := newFakeStore()
	store.watermark = time.Now().Add(-24 * time.Hour)
	store.savedAgentErr = errors.New("connection reset")
	before := store.watermark

	o := testOrchestrator(t, testConfig(), client, store, nil)
	err := o.RunCycle(context.Background())
	if err == nil {
		t.Fatalf("expected cycle error for failed agent import")
	}

	if len(store.properties[models.ClassResidential]) != 1 {
		t.Fatalf("expected property import to survive agent failure")
	}
	if !store.watermark.After(before) {
		t.Fatalf("expected watermark to advance despite agent failure")
	}
}

func TestRunCycle_TotalFetchFailureAborts(t *testing.T) {
	client := newFakeClient()
	client.countErr = &rets.AuthError{Code: 401, Message: "login rejected"}

	store := newFakeStore()
	store.watermark = time.Now().Add(-24 * time.Hour)
	before := store.watermark

	o := testOrchestrator(t, testConfig(), client, store, nil)
	err := o.RunCycle(context.Background())

	var authErr *rets.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if !store.watermark.Equal(before) {
		t.Fatalf("expected watermark untouched after abort, got %v", store.watermark)
	}
}

func TestRunCycle_OverlappingCycleSkipped(t *testing.T) {
	client := newFakeClient()
	client.records[recKey("Property", "RES")] = []rets.Record{
		{"MLS_ACCT": "123456", "STATUS": "A"},
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	counts := 0
	client.onCount = func() {
		counts++
		if counts == 1 {
			close(entered)
			<-release
		}
	}

	store := newFakeStore()
	store.watermark = time.Now().Add(-time.Hour)

	o := testOrchestrator(t, testConfig(), client, store, nil)

	done := make(chan error, 1)
	go func() { done <- o.RunCycle(context.Background()) }()

	<-entered
	if err := o.RunCycle(context.Background()); !errors.Is(err, ErrCycleInFlight) {
		t.Fatalf("expected in-flight cycle to be skipped, got %v", err)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}
	if len(store.writes) != 1 {
		t.Fatalf("expected exactly one watermark write, got %d", len(store.writes))
	}
}

func TestRunCycle_OneKindFailureStillAdvances(t *testing.T) {
	client := newFakeClient()
	client.records[recKey("Property", "RES")] = []rets.Record{
		{"MLS_ACCT": "123456", "STATUS": "A"},
	}
	client.countErrFor[recKey("Property", "COM")] = &rets.AuthError{Code: 401, Message: "session expired"}

	store := newFakeStore()
	store.watermark = time.Now().Add(-24 * time.Hour)
	before := store.watermark

	o := testOrchestrator(t, testConfig(), client, store, nil)
	err := o.RunCycle(context.Background())

	if err == nil {
		t.Fatal("expected error from failed commercial fetch")
	}
	if len(store.properties[models.ClassResidential]) != 1 {
		t.Fatalf("expected residential record upserted, got %d", len(store.properties[models.ClassResidential]))
	}
	if !store.watermark.After(before) {
		t.Fatalf("expected watermark advanced despite one failed kind, got %v", store.watermark)
	}
}

func TestRunCycleFrom_DoesNotMoveWatermark(t *testing.T) {
	client := newFakeClient()
	client.records[recKey("Property", "RES")] = []rets.Record{
		{"MLS_ACCT": "123456", "STATUS": "A"},
	}

	store := newFakeStore()
	store.watermark = time.Now().Add(-24 * time.Hour)
	before := store.watermark

	o := testOrchestrator(t, testConfig(), client, store, nil)
	since := time.Now().Add(-30 * 24 * time.Hour)
	if err := o.RunCycleFrom(context.Background(), since); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if len(store.writes) != 0 {
		t.Fatalf("expected no watermark writes, got %d", len(store.writes))
	}
	if !store.watermark.Equal(before) {
		t.Fatalf("expected watermark unchanged, got %v", store.watermark)
	}
	if len(store.properties[models.ClassResidential]) != 1 {
		t.Fatalf("expected records imported on explicit re-run")
	}
}

func TestRunCycle_ImagePhaseUsesPhotoTimestamps(t *testing.T) {
	client := newFakeClient()
	store := newFakeStore()
	ctx := context.Background()
	wm := time.Now().Add(-24 * time.Hour)
	store.watermark = wm

	// One property with fresh photos, one stale, one agent in the office.
	store.SaveProperty(ctx, models.ClassResidential, &models.Property{
		ID: 1, MLSAcct: "1", PhotoDateModified: timePtr(time.Now().Add(-time.Hour)),
	})
	store.SaveProperty(ctx, models.ClassResidential, &models.Property{
		ID: 2, MLSAcct: "2", PhotoDateModified: timePtr(wm.Add(-time.Hour)),
	})
	store.agents["12345"] = &models.Agent{
		ID: 12345, LaCode: "12345", LoCode: "46",
		PhotoDateModified: timePtr(time.Now().Add(-time.Hour)),
	}
	store.agents["99999"] = &models.Agent{
		ID: 99999, LaCode: "99999", LoCode: "99",
		PhotoDateModified: timePtr(time.Now().Add(-time.Hour)),
	}

	client.objects[recKey("Property", "1")] = []rets.Object{{ID: 1, ContentType: "image/jpeg", Data: []byte("p")}}
	client.objects[recKey("Agent", "12345")] = []rets.Object{{ID: 1, ContentType: "image/jpeg", Data: []byte("a")}}

	o := testOrchestrator(t, testConfig(), client, store, nil)
	if err := o.RunCycle(ctx); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if imgs, _ := store.ImagesForOwner(ctx, "residential_images", 1); len(imgs) != 1 {
		t.Fatalf("expected images replaced for fresh property, got %d", len(imgs))
	}
	if imgs, _ := store.ImagesForOwner(ctx, "residential_images", 2); len(imgs) != 0 {
		t.Fatalf("expected stale property untouched, got %d images", len(imgs))
	}
	if imgs, _ := store.ImagesForOwner(ctx, "agent_images", 12345); len(imgs) != 1 {
		t.Fatalf("expected office agent photo replaced, got %d", len(imgs))
	}
	if imgs, _ := store.ImagesForOwner(ctx, "agent_images", 99999); len(imgs) != 0 {
		t.Fatalf("expected out-of-office agent skipped, got %d images", len(imgs))
	}
}

func TestSyncProperty(t *testing.T) {
	client := newFakeClient()
	client.records[recKey("Property", "RES")] = []rets.Record{
		{"MLS_ACCT": "123456", "CITY": "Destin", "STATUS": "A"},
	}
	client.objects[recKey("Property", "123456")] = []rets.Object{
		{ID: 1, ContentType: "image/jpeg", Data: []byte("photo")},
	}

	store := newFakeStore()
	o := testOrchestrator(t, testConfig(), client, store, nil)
	ctx := context.Background()

	if err := o.SyncProperty(ctx, "123456", models.ClassResidential); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if len(store.properties[models.ClassResidential]) != 1 {
		t.Fatalf("expected property stored")
	}
	if imgs, _ := store.ImagesForOwner(ctx, "residential_images", 123456); len(imgs) != 1 {
		t.Fatalf("expected 1 image record, got %d", len(imgs))
	}
	if len(store.writes) != 0 {
		t.Fatalf("expected no watermark writes for single-record sync")
	}
}

func TestSyncProperty_NotFound(t *testing.T) {
	client := newFakeClient()
	store := newFakeStore()
	o := testOrchestrator(t, testConfig(), client, store, nil)

	if err := o.SyncProperty(context.Background(), "999999", models.ClassResidential); err == nil {
		t.Fatalf("expected error for unknown property")
	}
}

func TestSyncAgent(t *testing.T) {
	client := newFakeClient()
	client.records[recKey("Agent", "AGT")] = []rets.Record{
		{"LA_LA_CODE": "12345", "LA_FIRST_NAME": "JOHN", "LA_LAST_NAME": "SMITH", "LA_MEMBER_STATUS": "A"},
	}
	client.objects[recKey("Agent", "12345")] = []rets.Object{
		{ID: 1, ContentType: "image/jpeg", Data: []byte("headshot")},
	}

	store := newFakeStore()
	o := testOrchestrator(t, testConfig(), client, store, nil)
	ctx := context.Background()

	if err := o.SyncAgent(ctx, "12345"); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if store.agents["12345"] == nil {
		t.Fatalf("expected agent stored")
	}
	if imgs, _ := store.ImagesForOwner(ctx, "agent_images", 12345); len(imgs) != 1 {
		t.Fatalf("expected 1 image record, got %d", len(imgs))
	}
}

func TestSplitWindows(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	windows := splitWindows(base, base.AddDate(0, 0, 75), 30)
	if len(windows) != 3 {
		t.Fatalf("expected 3 windows for 75 days at 30, got %d", len(windows))
	}
	if !windows[0].start.Equal(base) {
		t.Fatalf("first window should start at the watermark")
	}
	for i := 1; i < len(windows); i++ {
		if !windows[i].start.Equal(windows[i-1].end) {
			t.Fatalf("window %d leaves a gap: %v to %v", i, windows[i-1].end, windows[i].start)
		}
	}
	if !windows[2].end.Equal(base.AddDate(0, 0, 75)) {
		t.Fatalf("last window should end at the cycle start, got %v", windows[2].end)
	}

	if got := splitWindows(base, base, 30); len(got) != 0 {
		t.Fatalf("expected no windows for an empty span, got %d", len(got))
	}
	if got := splitWindows(base.Add(time.Hour), base, 30); len(got) != 0 {
		t.Fatalf("expected no windows when start is past end, got %d", len(got))
	}
}
