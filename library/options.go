package library

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Logger receives operational messages. *slog.Logger satisfies it.
//
// Debug: SQL and dispatcher bookkeeping (development use)
// Info: mutations and schema changes
// Warn: data-integrity anomalies and failed background loads
// Error: failures that abort an operation.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

func discardLogger() Logger { return slog.New(discardHandler{}) }

// Clock supplies timestamps for ledger entries.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// StepClock is a deterministic Clock that advances by Step on every call.
// It is safe for concurrent use.
type StepClock struct {
	start time.Time
	step  time.Duration
	n     atomic.Int64
}

// NewStepClock returns a clock whose first reading is start.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{start: start.UTC(), step: step}
}

func (c *StepClock) Now() time.Time {
	n := c.n.Add(1) - 1
	return c.start.Add(time.Duration(n) * c.step)
}

// Option configures a LibraryManager.
type Option func(*options)

type options struct {
	logger     Logger
	clock      Clock
	pageSize   int
	workers    int
	bcryptCost int
}

func defaultOptions() options {
	return options{
		logger:     discardLogger(),
		clock:      realClock{},
		pageSize:   DefaultPageSize,
		workers:    DefaultWorkers,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// WithLogger sets the logger used by every component.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithPageSize sets the fixed ledger page size.
func WithPageSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.pageSize = size
		}
	}
}

// WithWorkers bounds the number of background loads running at once.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithBcryptCost sets the hashing cost for new credentials. Tests use
// bcrypt.MinCost to stay fast.
func WithBcryptCost(cost int) Option {
	return func(o *options) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			o.bcryptCost = cost
		}
	}
}
