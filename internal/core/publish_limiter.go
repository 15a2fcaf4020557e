package core

// publish_limiter.go admits publishes and reverts into the ledger.
//
// Each admitted operation holds a database transaction and per-account
// locks until it finishes, so the number running at once is capped. An
// import can have at most one operation in flight: a second publish or
// revert of the same import fails at once with ErrImportBusy instead of
// queueing behind the first. Other callers wait up to maxWait for a slot.

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTooManyPublishes is returned when every slot is taken and the wait
// timeout expires.
var ErrTooManyPublishes = errors.New("too many concurrent publishes, please try again later")

// ErrImportBusy is returned when the import already has a publish or revert
// in flight.
var ErrImportBusy = errors.New("import is busy")

// DefaultMaxConcurrentPublishes is the default limit for parallel publishes.
const DefaultMaxConcurrentPublishes = 4

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// LedgerOp names an operation that writes to the ledger.
type LedgerOp string

const (
	OpPublish LedgerOp = "publish"
	OpRevert  LedgerOp = "revert"
)

type inFlight struct {
	op      LedgerOp
	since   time.Time
	running bool
}

// PublishLimiter admits ledger writes, one per import and at most
// maxConcurrent overall.
type PublishLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu      sync.Mutex
	imports map[uuid.UUID]*inFlight
	idle    chan struct{} // closed while nothing is admitted or waiting
}

// NewPublishLimiter creates a limiter allowing maxConcurrent operations.
// Non-positive arguments select the defaults.
func NewPublishLimiter(maxConcurrent int, maxWait time.Duration) *PublishLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentPublishes
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	idle := make(chan struct{})
	close(idle)
	return &PublishLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
		imports: make(map[uuid.UUID]*inFlight),
		idle:    idle,
	}
}

// Admit reserves importID for op and waits for a slot. On success the
// caller must call the returned release exactly once.
func (l *PublishLimiter) Admit(ctx context.Context, importID uuid.UUID, op LedgerOp) (release func(), err error) {
	if err := l.reserve(importID, op); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()
	select {
	case l.slots <- struct{}{}:
	case <-waitCtx.Done():
		l.unreserve(importID)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrTooManyPublishes
	}

	l.mu.Lock()
	l.imports[importID].running = true
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.slots
			l.unreserve(importID)
		})
	}, nil
}

func (l *PublishLimiter) reserve(importID uuid.UUID, op LedgerOp) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.imports[importID]; ok {
		return fmt.Errorf("%w: %s already in progress", ErrImportBusy, cur.op)
	}
	if len(l.imports) == 0 {
		l.idle = make(chan struct{})
	}
	l.imports[importID] = &inFlight{op: op, since: time.Now()}
	return nil
}

func (l *PublishLimiter) unreserve(importID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.imports, importID)
	if len(l.imports) == 0 {
		close(l.idle)
	}
}

// WaitForDrain blocks until no operation is running or waiting, or ctx is
// done.
func (l *PublishLimiter) WaitForDrain(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunningOp describes one admitted or waiting operation.
type RunningOp struct {
	ImportID uuid.UUID `json:"import_id"`
	Op       LedgerOp  `json:"op"`
	Since    time.Time `json:"since"`
	Waiting  bool      `json:"waiting,omitempty"`
}

// LimiterStatus is a snapshot of a PublishLimiter.
type LimiterStatus struct {
	Active        int         `json:"active"`
	Waiting       int         `json:"waiting"`
	Available     int         `json:"available"`
	MaxConcurrent int         `json:"max_concurrent"`
	Imports       []RunningOp `json:"imports,omitempty"`
}

// Status returns the current limiter state, oldest operation first.
func (l *PublishLimiter) Status() LimiterStatus {
	l.mu.Lock()
	st := LimiterStatus{MaxConcurrent: cap(l.slots)}
	for id, f := range l.imports {
		if f.running {
			st.Active++
		} else {
			st.Waiting++
		}
		st.Imports = append(st.Imports, RunningOp{ImportID: id, Op: f.op, Since: f.since, Waiting: !f.running})
	}
	l.mu.Unlock()

	st.Available = st.MaxConcurrent - st.Active
	sort.Slice(st.Imports, func(i, j int) bool {
		a, b := st.Imports[i], st.Imports[j]
		if !a.Since.Equal(b.Since) {
			return a.Since.Before(b.Since)
		}
		return a.ImportID.String() < b.ImportID.String()
	})
	return st
}
