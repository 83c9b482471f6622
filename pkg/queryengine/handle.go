package queryengine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tuskdb/tuskcore/internal/fsm"
)

// HandleState is the lifecycle state of a QueryHandle, per spec.md §4.F:
// Pending → Executing → (Completing | Cancelling | Failing) → Terminated.
// Cancellation observed before the engine ever opens a stream is the one
// direct Pending → Cancelling edge.
type HandleState string

const (
	StatePending    HandleState = "Pending"
	StateExecuting  HandleState = "Executing"
	StateCompleting HandleState = "Completing"
	StateCancelling HandleState = "Cancelling"
	StateFailing    HandleState = "Failing"
	StateTerminated HandleState = "Terminated"
)

var handleTransitions = map[HandleState][]HandleState{
	StatePending:    {StateExecuting, StateCancelling},
	StateExecuting:  {StateCompleting, StateCancelling, StateFailing},
	StateCompleting: {StateTerminated},
	StateCancelling: {StateTerminated},
	StateFailing:    {StateTerminated},
}

// CancelRequester is the subset of dbpool.PooledConnection used to send a
// protocol-level cancel request. Declared locally so this package does not
// import dbpool; dbpool.PooledConnection satisfies it structurally.
type CancelRequester interface {
	CancelRequest(ctx context.Context) error
}

// Handle is the per-execution record the engine reads cancellation from
// and the Registry dispatches cancellation through. It is safe for
// concurrent use: Cancel may be called from a different goroutine than
// the one driving Execute/ExecuteStreaming.
type Handle struct {
	ID           uuid.UUID
	DescriptorID uuid.UUID
	SQL          string
	StartedAt    time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conn  CancelRequester
	state *fsm.Machine[HandleState]
}

// NewHandle creates a Pending handle deriving its cooperative
// cancellation token from parent. parent is typically the Registry's
// own long-lived context, not the caller's per-request context, so that
// cancelling one request's context does not cancel the cooperative
// token for every handle on the registry.
func NewHandle(parent context.Context, descriptorID uuid.UUID, sql string) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{
		ID:           uuid.New(),
		DescriptorID: descriptorID,
		SQL:          sql,
		StartedAt:    time.Now(),
		ctx:          ctx,
		cancel:       cancel,
		state:        fsm.New(StatePending, handleTransitions),
	}
}

// AttachConnection records the PooledConnection the handle is currently
// executing on, so Cancel can also issue a protocol-level cancel
// request. Cleared implicitly when the handle terminates; callers need
// not call it again for a later execution on the same handle ID since
// each execution gets its own Handle.
func (h *Handle) AttachConnection(conn CancelRequester) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conn = conn
}

// Cancel sets the cooperative cancellation token and, if a connection is
// attached, best-effort sends a connection-level cancel request. Either
// alone is sufficient for the engine to observe cancellation within one
// event-loop iteration; calling both is what the Registry does per
// spec.md §4.F.
func (h *Handle) Cancel(ctx context.Context) error {
	h.cancel()

	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()

	if conn != nil {
		return conn.CancelRequest(ctx)
	}
	return nil
}

// IsCancelled reports whether the cooperative token has been set. Once
// true it remains true monotonically, per spec.md's QueryHandle
// invariant.
func (h *Handle) IsCancelled() bool {
	return h.ctx.Err() != nil
}

// Done returns the handle's cancellation channel, closed when Cancel is
// called. Used by the engine to race the driver call against the token.
func (h *Handle) Done() <-chan struct{} {
	return h.ctx.Done()
}

// State returns the handle's current lifecycle state.
func (h *Handle) State() HandleState {
	return h.state.Current()
}

// transition moves the handle to the given state. Invalid transitions
// are silently ignored: State is exposed for observation, and the
// engine's own control flow already enforces which transitions it will
// ever attempt.
func (h *Handle) transition(to HandleState) {
	if h.state.Fire(to) == nil && to == StateTerminated {
		h.mu.Lock()
		h.conn = nil
		h.mu.Unlock()
	}
}
