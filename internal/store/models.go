package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Task kinds name the network operation that replays a queued write.
const (
	KindCreateOrder    = "create_order"
	KindProcessPayment = "process_payment"
)

// Task statuses. Successful replay deletes the row instead of mutating status.
const (
	StatusPending = "pending"
	StatusSyncing = "syncing"
	StatusFailed  = "failed"
)

// QueuedTask is a durably recorded write intent awaiting replay.
type QueuedTask struct {
	ID         string          `db:"id"`
	Kind       string          `db:"kind"`
	Payload    json.RawMessage `db:"payload"`
	Status     string          `db:"status"`
	RetryCount int             `db:"retry_count"`
	LastError  sql.NullString  `db:"last_error"`
	CreatedAt  time.Time       `db:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at"`
}

// Snapshot is a cached copy of a server-side reference collection.
type Snapshot struct {
	Key     string          `db:"key"`
	Data    json.RawMessage `db:"data"`
	SavedAt time.Time       `db:"saved_at"`
	TTL     time.Duration   `db:"ttl_millis"`
}

// Fresh reports whether the snapshot is inside the given freshness window.
func (s *Snapshot) Fresh(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.SavedAt) < ttl
}

// Session is the durable mirror of the in-memory auth session.
type Session struct {
	AccessToken  string          `db:"access_token"`
	RefreshToken string          `db:"refresh_token"`
	User         json.RawMessage `db:"user_json"`
}
