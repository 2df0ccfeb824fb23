package scheduler

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"virtmcp/internal/api"
	"virtmcp/pkg/logging"
)

// Intent separates operations that need the per-key lock from those that
// do not.
type Intent int

const (
	IntentRead Intent = iota
	IntentMutate
)

func (i Intent) String() string {
	if i == IntentMutate {
		return "mutate"
	}
	return "read"
}

// Status is the lifecycle of an Operation.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Operation is the transient record of one accepted request.
type Operation struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Kind      string    `json:"kind"`
	Target    string    `json:"target,omitempty"`
	Intent    string    `json:"intent"`
	Status    Status    `json:"status"`
	QueuedAt  time.Time `json:"queued_at"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Deadline  time.Time `json:"deadline,omitempty"`
}

// Observer receives one callback per finished operation.
type Observer interface {
	ObserveOperation(kind string, status string, duration time.Duration)
	SetInFlight(n int)
}

type ticket struct {
	op    *Operation
	ready chan struct{}
}

// keyQueue is the FIFO of mutating operations for one key.
type keyQueue struct {
	running *ticket
	waiting []*ticket
}

// has reports whether an operation of kind on target is running or queued.
func (q *keyQueue) has(kind, target string) bool {
	same := func(t *ticket) bool {
		return t.op.Kind == kind && t.op.Target == target
	}
	if q.running != nil && same(q.running) {
		return true
	}
	return slices.ContainsFunc(q.waiting, same)
}

// Scheduler bounds total concurrency and serializes mutating operations per
// key. Keys are usually VM names.
type Scheduler struct {
	sem      *semaphore.Weighted
	limit    int
	observer Observer

	mu     sync.Mutex
	queues map[string]*keyQueue
	active map[string]*Operation
}

// New creates a scheduler admitting at most limit concurrent operations.
func New(limit int, observer Observer) *Scheduler {
	if limit < 1 {
		limit = 1
	}
	return &Scheduler{
		sem:      semaphore.NewWeighted(int64(limit)),
		limit:    limit,
		observer: observer,
		queues:   make(map[string]*keyQueue),
		active:   make(map[string]*Operation),
	}
}

// Limit returns the global concurrency ceiling.
func (s *Scheduler) Limit() int {
	return s.limit
}

// Lease is held for the duration of one operation.
type Lease struct {
	s      *Scheduler
	op     *Operation
	ticket *ticket
	once   sync.Once
}

// Operation returns a copy of the leased operation record.
func (l *Lease) Operation() Operation {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return *l.op
}

// Release ends the operation with the outcome derived from err and hands the
// key to the next waiter. It is safe to call more than once.
func (l *Lease) Release(err error) {
	l.once.Do(func() {
		l.s.release(l, statusFor(err))
	})
}

func statusFor(err error) Status {
	switch {
	case err == nil:
		return StatusSucceeded
	case api.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return StatusTimedOut
	default:
		return StatusFailed
	}
}

// Acquire admits an operation with no target. See AcquireFor.
func (s *Scheduler) Acquire(ctx context.Context, key, kind string, intent Intent) (*Lease, error) {
	return s.AcquireFor(ctx, key, kind, "", intent)
}

// AcquireFor admits an operation of kind on target within key, for example a
// snapshot name within a VM. It fails fast with ResourceLimitError when the
// global ceiling is reached and with StateConflictError when the same kind
// and target is already running or queued on key. Otherwise mutating
// operations wait FIFO behind earlier ones on the same key; reads never wait.
func (s *Scheduler) AcquireFor(ctx context.Context, key, kind, target string, intent Intent) (*Lease, error) {
	if !s.sem.TryAcquire(1) {
		logging.Warn("Scheduler", "Rejected %s on %s: concurrency limit %d reached", kind, key, s.limit)
		return nil, &api.ResourceLimitError{Resource: "concurrent operations", Limit: s.limit}
	}

	op := &Operation{
		ID:       uuid.New().String(),
		Key:      key,
		Kind:     kind,
		Target:   target,
		Intent:   intent.String(),
		Status:   StatusQueued,
		QueuedAt: time.Now(),
	}
	if deadline, ok := ctx.Deadline(); ok {
		op.Deadline = deadline
	}
	lease := &Lease{s: s, op: op}

	if intent == IntentRead {
		s.mu.Lock()
		s.start(op)
		s.mu.Unlock()
		return lease, nil
	}

	t := &ticket{op: op, ready: make(chan struct{})}
	lease.ticket = t

	s.mu.Lock()
	q, ok := s.queues[key]
	if !ok {
		q = &keyQueue{}
		s.queues[key] = q
	}
	if q.has(kind, target) {
		s.mu.Unlock()
		s.sem.Release(1)
		logging.Info("Scheduler", "Rejected duplicate %s on %s", describe(kind, target), key)
		return nil, api.NewInProgressError(key, describe(kind, target))
	}
	if q.running == nil {
		q.running = t
		close(t.ready)
		s.start(op)
		s.mu.Unlock()
		return lease, nil
	}
	q.waiting = append(q.waiting, t)
	s.active[op.ID] = op
	ahead := q.running.op.Kind
	s.mu.Unlock()

	logging.Debug("Scheduler", "Queued %s on %s behind %s", kind, key, ahead)

	select {
	case <-t.ready:
		return lease, nil
	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-t.ready:
			// Granted while we were giving up; pass the key on.
			s.mu.Unlock()
			lease.Release(ctx.Err())
		default:
			s.removeWaiting(q, t)
			delete(s.active, op.ID)
			s.mu.Unlock()
			s.sem.Release(1)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &api.TimeoutError{Command: kind + " on " + key + " (queued)", Timeout: time.Since(op.QueuedAt).Round(time.Millisecond).String()}
		}
		return nil, ctx.Err()
	}
}

// start marks op running. Callers hold s.mu.
func (s *Scheduler) start(op *Operation) {
	op.Status = StatusRunning
	op.StartedAt = time.Now()
	s.active[op.ID] = op
	if s.observer != nil {
		s.observer.SetInFlight(s.countRunning())
	}
}

func (s *Scheduler) countRunning() int {
	n := 0
	for _, op := range s.active {
		if op.Status == StatusRunning {
			n++
		}
	}
	return n
}

func (s *Scheduler) removeWaiting(q *keyQueue, t *ticket) {
	for i, w := range q.waiting {
		if w == t {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			break
		}
	}
	if q.running == nil && len(q.waiting) == 0 {
		delete(s.queues, t.op.Key)
	}
}

func (s *Scheduler) release(l *Lease, status Status) {
	s.mu.Lock()
	l.op.Status = status
	delete(s.active, l.op.ID)
	duration := time.Since(l.op.StartedAt)

	if l.ticket != nil {
		if q, ok := s.queues[l.op.Key]; ok && q.running == l.ticket {
			q.running = nil
			if len(q.waiting) > 0 {
				next := q.waiting[0]
				q.waiting = q.waiting[1:]
				q.running = next
				s.start(next.op)
				close(next.ready)
			} else {
				delete(s.queues, l.op.Key)
			}
		}
	}
	running := s.countRunning()
	s.mu.Unlock()

	s.sem.Release(1)

	if s.observer != nil {
		s.observer.ObserveOperation(l.op.Kind, string(status), duration)
		s.observer.SetInFlight(running)
	}
}

// Run acquires a lease, runs fn and releases the lease on every exit path,
// including panics.
func (s *Scheduler) Run(ctx context.Context, key, kind string, intent Intent, fn func(ctx context.Context) error) error {
	return s.RunFor(ctx, key, kind, "", intent, fn)
}

// RunFor is Run for an operation on a target within key.
func (s *Scheduler) RunFor(ctx context.Context, key, kind, target string, intent Intent, fn func(ctx context.Context) error) (err error) {
	lease, err := s.AcquireFor(ctx, key, kind, target, intent)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			lease.Release(errors.New("panic"))
			panic(r)
		}
		lease.Release(err)
	}()
	return fn(ctx)
}

// InFlight returns the operations currently queued or running, oldest first.
func (s *Scheduler) InFlight() []Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := make([]Operation, 0, len(s.active))
	for _, op := range s.active {
		ops = append(ops, *op)
	}
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].QueuedAt.Before(ops[j].QueuedAt)
	})
	return ops
}

func describe(kind, target string) string {
	if target == "" {
		return kind
	}
	return kind + " " + target
}
