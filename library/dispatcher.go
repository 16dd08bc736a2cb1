package library

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

const (
	// DefaultWorkers bounds concurrent background loads.
	DefaultWorkers = 4

	logMsgLoadDiscarded = "load discarded"
	logMsgLoadFailed    = "load failed"
	logAttrSlot         = "slot"
	logAttrSeq          = "seq"
	logAttrReason       = "reason"
	logAttrError        = "error"
)

// ErrDispatcherClosed is returned by Dispatch after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Slot names a consumer of asynchronous results for which only the latest
// request matters.
type Slot string

const (
	SlotInventory Slot = "inventory"
	SlotLedger    Slot = "ledger"
)

// Ticket identifies one dispatched load.
type Ticket struct {
	Slot Slot
	Seq  uint64
}

// Result is what a deliver callback receives. Err is set when the load
// failed; the dispatcher itself keeps running.
type Result[T any] struct {
	Ticket
	Value T
	Err   error
}

// Dispatcher runs loads off the caller's goroutine. Every load is tagged with
// a per-slot sequence number; issuing a new load for a slot cancels the
// previous one and guarantees its result is never delivered.
//
// Loads for the same slot run one at a time. Across slots, at most the
// configured number of workers run at once.
type Dispatcher struct {
	mu      sync.Mutex
	latest  map[Slot]uint64
	cancels map[Slot]context.CancelFunc
	lanes   map[Slot]*sync.Mutex
	done    map[Ticket]chan struct{}
	closed  bool

	sem  *semaphore.Weighted
	wg   sync.WaitGroup
	ctx  context.Context
	stop context.CancelFunc
	log  Logger
}

// NewDispatcher returns a dispatcher with the given worker bound.
func NewDispatcher(workers int, logger Logger) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = discardLogger()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Dispatcher{
		latest:  make(map[Slot]uint64),
		cancels: make(map[Slot]context.CancelFunc),
		lanes:   make(map[Slot]*sync.Mutex),
		done:    make(map[Ticket]chan struct{}),
		sem:     semaphore.NewWeighted(int64(workers)),
		ctx:     ctx,
		stop:    stop,
		log:     logger,
	}
}

// Dispatch schedules load for slot and returns immediately. deliver is called
// from a worker goroutine at most once, and only if no newer load for the
// same slot has been issued by the time the result is ready.
func Dispatch[T any](d *Dispatcher, slot Slot, load func(context.Context) (T, error), deliver func(Result[T])) (Ticket, error) {
	t, ctx, err := d.issue(slot)
	if err != nil {
		return Ticket{}, err
	}
	go runLoad(ctx, d, t, load, deliver)
	return t, nil
}

// Current returns the sequence number of the latest load issued for slot.
func (d *Dispatcher) Current(slot Slot) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latest[slot]
}

// IsCurrent reports whether t is still the latest load for its slot.
func (d *Dispatcher) IsCurrent(t Ticket) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed && d.latest[t.Slot] == t.Seq
}

// Wait blocks until every dispatched load has finished or been discarded.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Await blocks until the load identified by t has been delivered or
// discarded, or ctx is done. A ticket that already finished returns at once.
func (d *Dispatcher) Await(ctx context.Context, t Ticket) error {
	d.mu.Lock()
	done, ok := d.done[t]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels in-flight loads and waits for their workers to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.stop()
	d.wg.Wait()
}

func (d *Dispatcher) issue(slot Slot) (Ticket, context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Ticket{}, nil, ErrDispatcherClosed
	}
	if cancel, ok := d.cancels[slot]; ok {
		cancel()
	}
	d.latest[slot]++
	t := Ticket{Slot: slot, Seq: d.latest[slot]}
	ctx, cancel := context.WithCancel(d.ctx)
	d.cancels[slot] = cancel
	if _, ok := d.lanes[slot]; !ok {
		d.lanes[slot] = &sync.Mutex{}
	}
	d.done[t] = make(chan struct{})
	d.wg.Add(1)
	return t, ctx, nil
}

func (d *Dispatcher) lane(slot Slot) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lanes[slot]
}

func (d *Dispatcher) release(t Ticket) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.latest[t.Slot] == t.Seq {
		if cancel, ok := d.cancels[t.Slot]; ok {
			cancel()
			delete(d.cancels, t.Slot)
		}
	}
}

func (d *Dispatcher) finish(t Ticket) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if done, ok := d.done[t]; ok {
		close(done)
		delete(d.done, t)
	}
}

func (d *Dispatcher) discard(t Ticket, reason string) {
	d.log.Debug(logMsgLoadDiscarded, logAttrSlot, string(t.Slot), logAttrSeq, t.Seq, logAttrReason, reason)
}

func runLoad[T any](ctx context.Context, d *Dispatcher, t Ticket, load func(context.Context) (T, error), deliver func(Result[T])) {
	defer d.wg.Done()
	defer d.finish(t)
	defer d.release(t)

	lane := d.lane(t.Slot)
	lane.Lock()
	defer lane.Unlock()

	if !d.IsCurrent(t) {
		d.discard(t, "superseded before start")
		return
	}
	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.discard(t, "superseded while waiting for a worker")
		return
	}
	v, err := safeLoad(ctx, t, load)
	d.sem.Release(1)

	if !d.IsCurrent(t) {
		d.discard(t, "superseded")
		return
	}
	if err != nil {
		d.log.Warn(logMsgLoadFailed, logAttrSlot, string(t.Slot), logAttrSeq, t.Seq, logAttrError, err.Error())
	}
	deliver(Result[T]{Ticket: t, Value: v, Err: err})
}

func safeLoad[T any](ctx context.Context, t Ticket, load func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: ErrStore, Op: "load " + string(t.Slot), Msg: fmt.Sprint("panic: ", r)}
		}
	}()
	return load(ctx)
}
