package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdSyncNow      CommandType = "sync_now"
	CmdSyncProperty CommandType = "sync_property"
	CmdSyncAgent    CommandType = "sync_agent"
	CmdRunGeocode   CommandType = "run_geocode"
)

// Command is an on-demand request queued in the ops store and picked up by
// the scheduler's poll loop.
type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	MLSAcct string `json:"mls_acct,omitempty"`
	Class   string `json:"class,omitempty"`
	LaCode  string `json:"la_code,omitempty"`
}
