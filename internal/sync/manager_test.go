package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Saymandev/Advanced-Poss-sub004/internal/config"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/platform"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/store"
)

type fakeReplayer struct {
	mu    stdsync.Mutex
	calls []string
	fail  func(kind string, payload json.RawMessage) error
	block chan struct{} // set before use to hold replays until closed
}

func newFakeReplayer() *fakeReplayer {
	return &fakeReplayer{}
}

func (f *fakeReplayer) record(kind string, payload json.RawMessage) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls = append(f.calls, kind+":"+string(payload))
	fail := f.fail
	f.mu.Unlock()
	if fail != nil {
		return fail(kind, payload)
	}
	return nil
}

func (f *fakeReplayer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeReplayer) CreateOrder(_ context.Context, payload json.RawMessage) error {
	return f.record(store.KindCreateOrder, payload)
}

func (f *fakeReplayer) ProcessPayment(_ context.Context, payload json.RawMessage) error {
	return f.record(store.KindProcessPayment, payload)
}

func newTestManager(t *testing.T, online bool) (*Manager, *fakeReplayer, store.Store, *platform.StubNetwork) {
	t.Helper()
	s, err := store.NewSQLiteStore(config.StorageConfig{
		FilePath: filepath.Join(t.TempDir(), "queue.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	replayer := newFakeReplayer()
	network := platform.NewStubNetwork(online)
	return NewManager(s, replayer, network), replayer, s, network
}

func TestEnqueueNeverTouchesNetwork(t *testing.T) {
	m, replayer, s, _ := newTestManager(t, false)
	ctx := context.Background()

	id, err := m.Enqueue(ctx, store.KindCreateOrder, []byte(`{"tableId":"T1"}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, 0, replayer.callCount())

	task, err := s.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.StatusPending, task.Status)
}

func TestEnqueueRejectsUnknownKind(t *testing.T) {
	m, _, _, _ := newTestManager(t, true)
	_, err := m.Enqueue(context.Background(), "refund", []byte(`{}`))
	require.Error(t, err)
}

func TestDrainSuccessEmptiesQueue(t *testing.T) {
	m, _, s, _ := newTestManager(t, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Enqueue(ctx, store.KindCreateOrder, []byte(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
	}

	result := m.Drain(ctx)
	require.False(t, result.Skipped)
	require.Equal(t, 3, result.Attempted)
	require.Equal(t, 3, result.Succeeded)
	require.Equal(t, 0, result.Failed)

	count, err := s.CountQueuedTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestDrainPartialFailure(t *testing.T) {
	m, replayer, s, _ := newTestManager(t, true)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	var ids []string
	for i := 0; i < 3; i++ {
		task := &store.QueuedTask{
			ID:        fmt.Sprintf("task-%d", i),
			Kind:      store.KindCreateOrder,
			Payload:   []byte(fmt.Sprintf(`{"n":%d}`, i)),
			Status:    store.StatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base,
		}
		require.NoError(t, s.EnqueueTask(ctx, task))
		ids = append(ids, task.ID)
	}

	replayer.fail = func(_ string, payload json.RawMessage) error {
		if string(payload) == `{"n":1}` {
			return fmt.Errorf("payment gateway timeout")
		}
		return nil
	}

	result := m.Drain(ctx)
	require.Equal(t, 3, result.Attempted)
	require.Equal(t, 2, result.Succeeded)
	require.Equal(t, 1, result.Failed)

	// Tasks 0 and 2 are gone, task 1 remains failed with one retry recorded.
	for _, id := range []string{ids[0], ids[2]} {
		task, err := s.GetTask(ctx, id)
		require.NoError(t, err)
		require.Nil(t, task)
	}
	failed, err := s.GetTask(ctx, ids[1])
	require.NoError(t, err)
	require.NotNil(t, failed)
	require.Equal(t, store.StatusFailed, failed.Status)
	require.Equal(t, 1, failed.RetryCount)
	require.Equal(t, "payment gateway timeout", failed.LastError.String)
}

func TestDrainReplaysOldestFirst(t *testing.T) {
	m, replayer, s, _ := newTestManager(t, true)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	// Inserted out of order on purpose.
	for _, n := range []int{2, 0, 1} {
		require.NoError(t, s.EnqueueTask(ctx, &store.QueuedTask{
			ID:        fmt.Sprintf("task-%d", n),
			Kind:      store.KindProcessPayment,
			Payload:   []byte(fmt.Sprintf(`{"seq":%d}`, n)),
			Status:    store.StatusPending,
			CreatedAt: base.Add(time.Duration(n) * time.Minute),
			UpdatedAt: base,
		}))
	}

	m.Drain(ctx)
	require.Equal(t, []string{
		`process_payment:{"seq":0}`,
		`process_payment:{"seq":1}`,
		`process_payment:{"seq":2}`,
	}, replayer.calls)
}

func TestDrainSkipsWhenOffline(t *testing.T) {
	m, replayer, _, _ := newTestManager(t, false)
	ctx := context.Background()

	_, err := m.Enqueue(ctx, store.KindCreateOrder, []byte(`{}`))
	require.NoError(t, err)

	result := m.Drain(ctx)
	require.True(t, result.Skipped)
	require.Equal(t, 0, replayer.callCount())
}

func TestSingleFlightDrain(t *testing.T) {
	m, replayer, _, _ := newTestManager(t, true)
	ctx := context.Background()

	_, err := m.Enqueue(ctx, store.KindCreateOrder, []byte(`{}`))
	require.NoError(t, err)

	replayer.block = make(chan struct{})
	firstDone := make(chan DrainResult, 1)
	go func() { firstDone <- m.Drain(ctx) }()

	// Wait for the first drain to take the lock and block in replay.
	require.Eventually(t, m.Draining, time.Second, 5*time.Millisecond)

	second := m.Drain(ctx)
	require.True(t, second.Skipped)

	close(replayer.block)
	first := <-firstDone
	require.False(t, first.Skipped)
	require.Equal(t, 1, first.Succeeded)
	require.Equal(t, 1, replayer.callCount())
}

func TestFailedTaskRetriedOnNextDrain(t *testing.T) {
	m, replayer, s, _ := newTestManager(t, true)
	ctx := context.Background()

	id, err := m.Enqueue(ctx, store.KindProcessPayment, []byte(`{"amount":20}`))
	require.NoError(t, err)

	replayer.fail = func(string, json.RawMessage) error { return fmt.Errorf("boom") }
	m.Drain(ctx)

	task, err := s.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, task.Status)
	require.Equal(t, 1, task.RetryCount)

	// Failed is not a dead letter: the next drain picks it up again.
	replayer.fail = nil
	result := m.Drain(ctx)
	require.Equal(t, 1, result.Succeeded)

	task, err = s.GetTask(ctx, id)
	require.NoError(t, err)
	require.Nil(t, task)
}

func TestReconnectTriggersDrain(t *testing.T) {
	m, _, s, network := newTestManager(t, false)
	ctx := context.Background()

	_, err := m.Enqueue(ctx, store.KindCreateOrder,
		[]byte(`{"tableId":"T1","items":[{"menuItemId":"M1","quantity":2,"price":10}],"totalAmount":20,"status":"pending"}`))
	require.NoError(t, err)

	count, err := m.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	m.Start()
	defer m.Stop()
	network.SetOnline(true)

	require.Eventually(t, func() bool {
		count, err := s.CountQueuedTasks(ctx)
		return err == nil && count == 0
	}, 2*time.Second, 10*time.Millisecond)
}
