package library

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder[T any] struct {
	mu  sync.Mutex
	got []Result[T]
}

func (r *recorder[T]) deliver(res Result[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, res)
}

func (r *recorder[T]) results() []Result[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result[T](nil), r.got...)
}

func TestDispatcherSupersededResultIsDiscarded(t *testing.T) {
	d := NewDispatcher(2, nil)
	defer d.Close()
	rec := &recorder[int]{}

	started := make(chan struct{})
	release := make(chan struct{})
	// the first load ignores cancellation and finishes after the second is issued
	t1, err := Dispatch(d, SlotLedger, func(context.Context) (int, error) {
		close(started)
		<-release
		return 1, nil
	}, rec.deliver)
	require.NoError(t, err)
	<-started

	t2, err := Dispatch(d, SlotLedger, func(context.Context) (int, error) {
		return 2, nil
	}, rec.deliver)
	require.NoError(t, err)
	assert.False(t, d.IsCurrent(t1))
	assert.True(t, d.IsCurrent(t2))

	close(release)
	d.Wait()

	got := rec.results()
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Value)
	assert.Equal(t, t2, got[0].Ticket)
	assert.Equal(t, uint64(2), d.Current(SlotLedger))
}

func TestDispatcherCancelsSupersededLoad(t *testing.T) {
	d := NewDispatcher(1, nil)
	defer d.Close()
	rec := &recorder[string]{}

	started := make(chan struct{})
	cancelled := make(chan error, 1)
	_, err := Dispatch(d, SlotInventory, func(ctx context.Context) (string, error) {
		close(started)
		<-ctx.Done()
		cancelled <- ctx.Err()
		return "", ctx.Err()
	}, rec.deliver)
	require.NoError(t, err)
	<-started

	_, err = Dispatch(d, SlotInventory, func(context.Context) (string, error) {
		return "fresh", nil
	}, rec.deliver)
	require.NoError(t, err)

	select {
	case err := <-cancelled:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("superseded load was not cancelled")
	}
	d.Wait()

	got := rec.results()
	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].Value)
	assert.NoError(t, got[0].Err)
}

func TestDispatcherLastRequestWins(t *testing.T) {
	d := NewDispatcher(4, nil)
	defer d.Close()
	rec := &recorder[int]{}
	rng := rand.New(rand.NewSource(7))

	const n = 50
	delays := make([]time.Duration, n+1)
	for i := range delays {
		delays[i] = time.Duration(rng.Intn(3)) * time.Millisecond
	}
	for i := 1; i <= n; i++ {
		i := i
		_, err := Dispatch(d, SlotLedger, func(context.Context) (int, error) {
			time.Sleep(delays[i])
			return i, nil
		}, rec.deliver)
		require.NoError(t, err)
	}
	d.Wait()

	got := rec.results()
	require.NotEmpty(t, got)
	assert.Equal(t, n, got[len(got)-1].Value, "final state is the last issued load")
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Seq, got[i-1].Seq, "deliveries follow issue order")
	}
}

func TestDispatcherSlotsAreIndependent(t *testing.T) {
	d := NewDispatcher(2, nil)
	defer d.Close()
	items := &recorder[string]{}
	ledger := &recorder[string]{}

	_, err := Dispatch(d, SlotInventory, func(context.Context) (string, error) { return "items", nil }, items.deliver)
	require.NoError(t, err)
	_, err = Dispatch(d, SlotLedger, func(context.Context) (string, error) { return "ledger", nil }, ledger.deliver)
	require.NoError(t, err)
	d.Wait()

	require.Len(t, items.results(), 1)
	require.Len(t, ledger.results(), 1)
	assert.Equal(t, uint64(1), d.Current(SlotInventory))
	assert.Equal(t, uint64(1), d.Current(SlotLedger))
}

func TestDispatcherAwaitWaitsForOneTicket(t *testing.T) {
	d := NewDispatcher(2, nil)
	defer d.Close()
	items := &recorder[string]{}
	ledger := &recorder[string]{}

	release := make(chan struct{})
	defer close(release)
	_, err := Dispatch(d, SlotInventory, func(context.Context) (string, error) {
		<-release
		return "items", nil
	}, items.deliver)
	require.NoError(t, err)

	lt, err := Dispatch(d, SlotLedger, func(context.Context) (string, error) { return "ledger", nil }, ledger.deliver)
	require.NoError(t, err)
	require.NoError(t, d.Await(context.Background(), lt), "a blocked slot does not hold up another")
	require.Len(t, ledger.results(), 1)
	assert.Empty(t, items.results())

	require.NoError(t, d.Await(context.Background(), lt), "finished tickets return at once")
}

func TestDispatcherAwaitSupersededAndCancelled(t *testing.T) {
	d := NewDispatcher(2, nil)
	defer d.Close()
	rec := &recorder[int]{}

	release := make(chan struct{})
	first, err := Dispatch(d, SlotLedger, func(context.Context) (int, error) {
		<-release
		return 1, nil
	}, rec.deliver)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Await(ctx, first), context.DeadlineExceeded)

	second, err := Dispatch(d, SlotLedger, func(context.Context) (int, error) { return 2, nil }, rec.deliver)
	require.NoError(t, err)
	close(release)
	require.NoError(t, d.Await(context.Background(), first))
	require.NoError(t, d.Await(context.Background(), second))

	got := rec.results()
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Value)
}

func TestDispatcherDeliversErrors(t *testing.T) {
	d := NewDispatcher(1, nil)
	defer d.Close()
	rec := &recorder[int]{}

	storeFailure := &Error{Kind: ErrStore, Op: "ledger query", Err: errors.New("disk I/O error")}
	_, err := Dispatch(d, SlotLedger, func(context.Context) (int, error) { return 0, storeFailure }, rec.deliver)
	require.NoError(t, err)
	d.Wait()

	_, err = Dispatch(d, SlotLedger, func(context.Context) (int, error) { return 7, nil }, rec.deliver)
	require.NoError(t, err)
	d.Wait()

	got := rec.results()
	require.Len(t, got, 2)
	assert.ErrorIs(t, got[0].Err, ErrStore)
	assert.NoError(t, got[1].Err)
	assert.Equal(t, 7, got[1].Value)
}

func TestDispatcherRecoversPanics(t *testing.T) {
	d := NewDispatcher(1, nil)
	defer d.Close()
	rec := &recorder[int]{}

	_, err := Dispatch(d, SlotInventory, func(context.Context) (int, error) { panic("boom") }, rec.deliver)
	require.NoError(t, err)
	d.Wait()

	got := rec.results()
	require.Len(t, got, 1)
	assert.ErrorIs(t, got[0].Err, ErrStore)
	assert.Contains(t, got[0].Err.Error(), "boom")
}

func TestDispatcherBoundsWorkers(t *testing.T) {
	const workers = 2
	d := NewDispatcher(workers, nil)
	defer d.Close()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for _, slot := range []Slot{"a", "b", "c", "d", "e"} {
		wg.Add(1)
		_, err := Dispatch(d, slot, func(context.Context) (int, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return 0, nil
		}, func(Result[int]) { wg.Done() })
		require.NoError(t, err)
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(workers))
	assert.Positive(t, peak.Load())
}

func TestDispatcherClose(t *testing.T) {
	d := NewDispatcher(1, nil)
	rec := &recorder[int]{}

	started := make(chan struct{})
	_, err := Dispatch(d, SlotLedger, func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	}, rec.deliver)
	require.NoError(t, err)
	<-started

	d.Close()
	assert.Empty(t, rec.results(), "in-flight load is dropped on close")

	_, err = Dispatch(d, SlotLedger, func(context.Context) (int, error) { return 1, nil }, rec.deliver)
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}
