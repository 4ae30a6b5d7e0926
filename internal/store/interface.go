package store

import (
	"context"
)

// Store is the durable local store shared by the snapshot cache, the sync
// queue and the auth session mirror. Reads for missing keys return (nil, nil);
// deletes of missing keys succeed silently.
type Store interface {
	// Snapshots
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	GetSnapshot(ctx context.Context, key string) (*Snapshot, error)
	ClearSnapshots(ctx context.Context) error

	// Queue
	EnqueueTask(ctx context.Context, task *QueuedTask) error
	GetTask(ctx context.Context, id string) (*QueuedTask, error)
	ListReplayableTasks(ctx context.Context) ([]*QueuedTask, error)
	MarkTaskSyncing(ctx context.Context, id string) error
	MarkTaskFailed(ctx context.Context, id string, errMsg string) error
	DeleteTask(ctx context.Context, id string) error
	CountQueuedTasks(ctx context.Context) (int, error)

	// Session mirror
	SaveSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context) (*Session, error)
	ClearSession(ctx context.Context) error

	// General
	Close() error
}
