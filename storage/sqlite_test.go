package storage

import (
	"path/filepath"
	"testing"
	"time"

	"retsync/models"
)

func testOpsStore(t *testing.T) *OpsStore {
	t.Helper()
	store, err := NewOpsStore(filepath.Join(t.TempDir(), "ops.db"))
	if err != nil {
		t.Fatalf("open ops store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := testOpsStore(t)

	run := &models.SyncRun{
		CycleID:     "abc-123",
		StartedAt:   time.Now(),
		Status:      models.RunStatusRunning,
		WindowStart: time.Now().Add(-24 * time.Hour),
		WindowEnd:   time.Now(),
	}
	id, err := store.CreateRun(run)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected run id")
	}
	run.ID = id

	finished := time.Now()
	run.FinishedAt = &finished
	run.Status = models.RunStatusCompleted
	run.RecordsFound = 250
	run.RecordsUpserted = 250
	run.ImagesReplaced = 12
	if err := store.UpdateRun(run); err != nil {
		t.Fatalf("update run: %v", err)
	}

	runs, err := store.GetRecentRuns(10)
	if err != nil {
		t.Fatalf("get runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	got := runs[0]
	if got.CycleID != "abc-123" {
		t.Fatalf("unexpected cycle id %s", got.CycleID)
	}
	if got.Status != models.RunStatusCompleted {
		t.Fatalf("unexpected status %s", got.Status)
	}
	if got.RecordsFound != 250 || got.ImagesReplaced != 12 {
		t.Fatalf("unexpected counters %+v", got)
	}
	if got.FinishedAt == nil {
		t.Fatalf("expected finished timestamp")
	}
}

func TestRunLogs(t *testing.T) {
	store := testOpsStore(t)

	id, err := store.CreateRun(&models.SyncRun{CycleID: "x", StartedAt: time.Now(), Status: models.RunStatusRunning})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := store.Log(&id, models.LogLevelError, "import agents: connection reset", "agent"); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := store.Log(nil, models.LogLevelInfo, "daemon started", ""); err != nil {
		t.Fatalf("log without run: %v", err)
	}
}

func TestCommandQueue(t *testing.T) {
	store := testOpsStore(t)

	if err := store.EnqueueCommand(models.CmdSyncProperty, &models.CommandParams{MLSAcct: "123456", Class: "RES"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := store.EnqueueCommand(models.CmdSyncNow, nil); err != nil {
		t.Fatalf("enqueue without params: %v", err)
	}

	cmds, err := store.GetPendingCommands()
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("expected 2 pending commands, got %d", len(cmds))
	}

	var propCmd *models.Command
	for i := range cmds {
		if cmds[i].Command == models.CmdSyncProperty {
			propCmd = &cmds[i]
		}
	}
	if propCmd == nil {
		t.Fatalf("expected a sync_property command")
	}
	params, err := store.ParseCommandParams(propCmd)
	if err != nil {
		t.Fatalf("parse params: %v", err)
	}
	if params.MLSAcct != "123456" || params.Class != "RES" {
		t.Fatalf("unexpected params %+v", params)
	}

	if err := store.MarkCommandProcessed(propCmd.ID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	cmds, err = store.GetPendingCommands()
	if err != nil {
		t.Fatalf("get pending after processing: %v", err)
	}
	if len(cmds) != 1 {
		t.Fatalf("expected 1 pending command, got %d", len(cmds))
	}
	if cmds[0].Command != models.CmdSyncNow {
		t.Fatalf("unexpected remaining command %s", cmds[0].Command)
	}
}
