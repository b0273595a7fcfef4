package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"retsync/models"
)

// OpsStore keeps operational data (run history, log lines, and the
// on-demand command queue) in a local SQLite file beside the daemon.
type OpsStore struct {
	db *sql.DB
}

func NewOpsStore(dbPath string) (*OpsStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &OpsStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *OpsStore) Close() error {
	return s.db.Close()
}

func (s *OpsStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_runs (
		id INTEGER PRIMARY KEY,
		cycle_id TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		window_start DATETIME,
		window_end DATETIME,
		records_found INTEGER DEFAULT 0,
		records_upserted INTEGER DEFAULT 0,
		images_replaced INTEGER DEFAULT 0,
		image_failures INTEGER DEFAULT 0,
		geocode_updated INTEGER DEFAULT 0,
		geocode_failures INTEGER DEFAULT 0,
		errors_count INTEGER DEFAULT 0,
		error_message TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS sync_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		kind TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON sync_runs(status, started_at);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON sync_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Runs
// =============================================================================

func (s *OpsStore) CreateRun(run *models.SyncRun) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO sync_runs (cycle_id, started_at, status, window_start, window_end)
		VALUES (?, ?, ?, ?, ?)`,
		run.CycleID, run.StartedAt, run.Status, run.WindowStart, run.WindowEnd)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *OpsStore) UpdateRun(run *models.SyncRun) error {
	_, err := s.db.Exec(`
		UPDATE sync_runs SET
			finished_at = ?, status = ?,
			records_found = ?, records_upserted = ?,
			images_replaced = ?, image_failures = ?,
			geocode_updated = ?, geocode_failures = ?,
			errors_count = ?, error_message = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status,
		run.RecordsFound, run.RecordsUpserted,
		run.ImagesReplaced, run.ImageFailures,
		run.GeocodeUpdated, run.GeocodeFailures,
		run.ErrorsCount, run.ErrorMessage, run.ID)
	return err
}

func (s *OpsStore) GetRecentRuns(limit int) ([]models.SyncRun, error) {
	rows, err := s.db.Query(`
		SELECT id, cycle_id, started_at, finished_at, status, window_start, window_end,
			records_found, records_upserted, images_replaced, image_failures,
			geocode_updated, geocode_failures, errors_count, error_message
		FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		if err := rows.Scan(&run.ID, &run.CycleID, &run.StartedAt, &run.FinishedAt,
			&run.Status, &run.WindowStart, &run.WindowEnd,
			&run.RecordsFound, &run.RecordsUpserted, &run.ImagesReplaced, &run.ImageFailures,
			&run.GeocodeUpdated, &run.GeocodeFailures, &run.ErrorsCount, &run.ErrorMessage); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// Logs
// =============================================================================

func (s *OpsStore) Log(runID *int64, level models.LogLevel, message, kind string) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_logs (run_id, timestamp, level, message, kind)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, kind)
	return err
}

// =============================================================================
// Commands
// =============================================================================

func (s *OpsStore) EnqueueCommand(cmd models.CommandType, params *models.CommandParams) error {
	var raw []byte
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		if err != nil {
			return err
		}
	}
	_, err := s.db.Exec(`INSERT INTO commands (command, params) VALUES (?, ?)`, cmd, raw)
	return err
}

func (s *OpsStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, COALESCE(params, '{}'), created_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		if err := rows.Scan(&cmd.ID, &cmd.Command, &cmd.Params, &cmd.CreatedAt); err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *OpsStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

// ParseCommandParams decodes a command's params payload.
func (s *OpsStore) ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	params := &models.CommandParams{}
	if len(cmd.Params) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(cmd.Params, params); err != nil {
		return nil, fmt.Errorf("parse command %d params: %w", cmd.ID, err)
	}
	return params, nil
}
