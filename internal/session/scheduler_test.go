package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"inventory-admin/internal/observability"
)

func TestScheduler_ImmediateFirstTick(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	scheduler := NewScheduler(store, observability.NewLogger(), time.Hour)
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	// The first tick runs on Start, not after the first interval.
	require.Eventually(t, func() bool {
		return store.refreshCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_TicksPeriodically(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	store.addActive("u1", "Ana", "a@x.com", time.Now().UTC().Add(-time.Minute))

	scheduler := NewScheduler(store, observability.NewLogger(), 10*time.Millisecond)
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	require.Eventually(t, func() bool {
		return store.refreshCount() >= 3
	}, time.Second, 5*time.Millisecond)

	record := store.record(0)
	require.NotNil(t, record.DurationMs)
	require.GreaterOrEqual(t, *record.DurationMs, int64(60_000))
}

func TestScheduler_TickWithNoActiveRecordsIsNoop(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	scheduler := NewScheduler(store, observability.NewLogger(), 10*time.Millisecond)
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	require.Eventually(t, func() bool {
		return store.refreshCount() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	scheduler := NewScheduler(store, observability.NewLogger(), 10*time.Millisecond)

	scheduler.Start(context.Background())
	scheduler.Start(context.Background())
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	require.Eventually(t, func() bool {
		return store.refreshCount() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_StopHaltsTicking(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	scheduler := NewScheduler(store, observability.NewLogger(), 10*time.Millisecond)
	scheduler.Start(context.Background())

	require.Eventually(t, func() bool {
		return store.refreshCount() >= 2
	}, time.Second, 5*time.Millisecond)

	scheduler.Stop()
	after := store.refreshCount()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, after, store.refreshCount())

	// Stop on a stopped scheduler is a no-op.
	scheduler.Stop()
}
