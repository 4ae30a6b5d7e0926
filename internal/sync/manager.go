package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Saymandev/Advanced-Poss-sub004/internal/logger"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/platform"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/store"
)

// Replayer is the write side of the upstream client: the two operations a
// queued task can replay.
type Replayer interface {
	CreateOrder(ctx context.Context, payload json.RawMessage) error
	ProcessPayment(ctx context.Context, payload json.RawMessage) error
}

// Manager is the durable write queue. Writes recorded while disconnected are
// replayed oldest-first, one at a time, under a single-flight lock.
type Manager struct {
	store   store.Store
	api     Replayer
	network platform.Network

	mu       sync.Mutex
	draining bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(s store.Store, api Replayer, network platform.Network) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:   s,
		api:     api,
		network: network,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start watches connectivity and drains on every offline-to-online edge.
func (m *Manager) Start() {
	transitions := m.network.Subscribe()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.ctx.Done():
				return
			case online := <-transitions:
				if online {
					logger.Log.Info("Connection restored, draining queue")
					m.Drain(m.ctx)
				}
			}
		}
	}()
}

func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Enqueue durably records a write intent and returns its id without touching
// the network. A store failure here is a correctness problem and is returned
// to the caller rather than swallowed.
func (m *Manager) Enqueue(ctx context.Context, kind string, payload json.RawMessage) (string, error) {
	switch kind {
	case store.KindCreateOrder, store.KindProcessPayment:
	default:
		return "", fmt.Errorf("unknown task kind %q", kind)
	}

	now := time.Now()
	task := &store.QueuedTask{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   payload,
		Status:    store.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.EnqueueTask(ctx, task); err != nil {
		return "", fmt.Errorf("failed to queue %s: %w", kind, err)
	}

	logger.Log.Info("Queued write task", zap.String("id", task.ID), zap.String("kind", kind))
	return task.ID, nil
}

// PendingCount reports how many tasks still await replay.
func (m *Manager) PendingCount(ctx context.Context) (int, error) {
	return m.store.CountQueuedTasks(ctx)
}

// Draining reports whether a drain pass is currently running.
func (m *Manager) Draining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draining
}

// Drain replays every queued task sequentially, oldest first. At most one
// drain runs at a time no matter how many triggers fire; extra invocations
// return immediately with Skipped set, as does a drain while offline. One
// task's failure never aborts the batch.
func (m *Manager) Drain(ctx context.Context) DrainResult {
	if !m.tryBeginDrain() {
		return DrainResult{Skipped: true}
	}
	defer m.endDrain()

	if !m.network.IsOnline() {
		return DrainResult{Skipped: true}
	}

	tasks, err := m.store.ListReplayableTasks(ctx)
	if err != nil {
		logger.Log.Error("Failed to load queued tasks", zap.Error(err))
		return DrainResult{Skipped: true}
	}
	if len(tasks) == 0 {
		return DrainResult{}
	}

	logger.Log.Info("Draining queue", zap.Int("tasks", len(tasks)))

	result := DrainResult{Attempted: len(tasks)}
	for _, task := range tasks {
		if err := m.replay(ctx, task); err != nil {
			result.Failed++
			logger.Log.Warn("Task replay failed",
				zap.String("id", task.ID),
				zap.String("kind", task.Kind),
				zap.Int("retryCount", task.RetryCount+1),
				zap.Error(err),
			)
			if err := m.store.MarkTaskFailed(ctx, task.ID, err.Error()); err != nil {
				logger.Log.Error("Failed to record task failure", zap.String("id", task.ID), zap.Error(err))
			}
			continue
		}
		result.Succeeded++
		if err := m.store.DeleteTask(ctx, task.ID); err != nil {
			logger.Log.Error("Failed to remove replayed task", zap.String("id", task.ID), zap.Error(err))
		}
	}

	logger.Log.Info("Drain finished",
		zap.Int("attempted", result.Attempted),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
	)
	return result
}

func (m *Manager) replay(ctx context.Context, task *store.QueuedTask) error {
	// Advisory status update; replay proceeds even if it cannot be recorded.
	if err := m.store.MarkTaskSyncing(ctx, task.ID); err != nil {
		logger.Log.Error("Failed to mark task syncing", zap.String("id", task.ID), zap.Error(err))
	}

	switch task.Kind {
	case store.KindCreateOrder:
		return m.api.CreateOrder(ctx, task.Payload)
	case store.KindProcessPayment:
		return m.api.ProcessPayment(ctx, task.Payload)
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

// tryBeginDrain is the single-flight gate. The check and the set happen under
// one lock acquisition so two concurrent triggers can never both pass.
func (m *Manager) tryBeginDrain() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draining {
		return false
	}
	m.draining = true
	return true
}

func (m *Manager) endDrain() {
	m.mu.Lock()
	m.draining = false
	m.mu.Unlock()
}
