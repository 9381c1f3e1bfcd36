// Package approval implements the consent queue gating every sensitive
// operation. A task is journaled durably before it becomes visible, exposed
// to the UI as an ordered snapshot, and resolved, rejected, or expired
// exactly once through its completion handle.
package approval

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/pushchain/wallet-core/db"
	walleterrors "github.com/pushchain/wallet-core/errors"
	"github.com/pushchain/wallet-core/events"
	"github.com/pushchain/wallet-core/store"
	"github.com/pushchain/wallet-core/types"
)

// DefaultTTL force-expires unanswered tasks.
const DefaultTTL = 5 * time.Minute

// Task types enqueued by the dispatch pipeline.
const (
	TypeRequestAccounts = "requestAccounts"
	TypeSignMessage     = "signMessage"
	TypeSignTypedData   = "signTypedData"
	TypeTransaction     = "transaction"
	TypeSwitchChain     = "switchChain"
	TypeAddChain        = "addChain"
)

// Terminal reasons recorded in the journal and published to the UI.
const (
	ReasonUserReject    = "user_reject"
	ReasonTimeout       = "timeout"
	ReasonSessionLost   = "session_lost"
	ReasonInternalError = "internal_error"
)

// Journal outcomes.
const (
	outcomePending  = "pending"
	outcomeApproved = "approved"
	outcomeRejected = "rejected"
	outcomeExpired  = "expired"
)

// Task is one consent request. Immutable once created; ID is the sole
// correlation key across queue, persistence, and UI.
type Task struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Origin    string          `json:"origin"`
	Namespace string          `json:"namespace"`
	ChainRef  types.ChainRef  `json:"chain_ref"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Summary is the UI-visible form of a pending task.
type Summary struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Origin    string          `json:"origin"`
	Namespace string          `json:"namespace"`
	ChainRef  types.ChainRef  `json:"chain_ref"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Outcome announces how a task finished.
type Outcome struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Origin   string         `json:"origin"`
	ChainRef types.ChainRef `json:"chain_ref"`
	Outcome  string         `json:"outcome"` // "approved", "rejected", "expired"
	Reason   string         `json:"reason,omitempty"`
}

func summaryOf(t Task) Summary {
	return Summary{
		ID:        t.ID,
		Type:      t.Type,
		Origin:    t.Origin,
		Namespace: t.Namespace,
		ChainRef:  t.ChainRef,
		Payload:   append(json.RawMessage(nil), t.Payload...),
		CreatedAt: t.CreatedAt,
	}
}

func cloneSummary(s Summary) Summary {
	s.Payload = append(json.RawMessage(nil), s.Payload...)
	return s
}

func cloneSummaries(ss []Summary) []Summary {
	out := make([]Summary, len(ss))
	for i, s := range ss {
		out[i] = cloneSummary(s)
	}
	return out
}

// pendingEntry is the runtime-only pairing of a task with its completion
// handle and originating request context.
type pendingEntry struct {
	task    Task
	handle  *promise
	reqCtx  types.RequestContext
	timer   *time.Timer
}

// Executor performs the sensitive action behind an approved task.
type Executor func() (interface{}, error)

// Queue holds at most one live completion handle per task id.
type Queue struct {
	mu       sync.Mutex
	pending  map[string]*pendingEntry
	database *db.DB
	ttl      time.Duration
	now      func() time.Time

	requested *events.Topic[Summary]
	finished  *events.Topic[Outcome]
	state     *events.Topic[[]Summary]

	logger zerolog.Logger
}

// NewQueue creates an approval queue journaling into the wallet database.
// ttl <= 0 takes DefaultTTL.
func NewQueue(database *db.DB, ttl time.Duration, logger zerolog.Logger) *Queue {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	identity := func(o Outcome) Outcome { return o }
	return &Queue{
		pending:   make(map[string]*pendingEntry),
		database:  database,
		ttl:       ttl,
		now:       time.Now,
		requested: events.NewTopic[Summary](events.TopicApprovalRequested, cloneSummary, logger),
		finished:  events.NewTopic[Outcome](events.TopicApprovalFinished, identity, logger),
		state:     events.NewTopic[[]Summary](events.TopicApprovalState, cloneSummaries, logger),
		logger:    logger.With().Str("component", "approval_queue").Logger(),
	}
}

// Requested exposes the approval-requested topic.
func (q *Queue) Requested() *events.Topic[Summary] { return q.requested }

// Finished exposes the approval-finished topic.
func (q *Queue) Finished() *events.Topic[Outcome] { return q.finished }

// State exposes the pending-queue snapshot topic.
func (q *Queue) State() *events.Topic[[]Summary] { return q.state }

// RequestApproval journals the task, makes it visible, and suspends the
// caller until it is resolved, rejected, or expired. Fails synchronously on a
// missing request context, an origin mismatch, or a duplicate live id.
func (q *Queue) RequestApproval(ctx context.Context, task Task, reqCtx types.RequestContext) (interface{}, error) {
	if reqCtx == (types.RequestContext{}) {
		return nil, walleterrors.NewValidationError("request context is required")
	}
	if task.Origin != reqCtx.Origin {
		return nil, walleterrors.NewValidationError("task origin does not match request context origin")
	}
	if task.ID == "" {
		return nil, walleterrors.NewValidationError("task id is required")
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = q.now()
	}

	q.mu.Lock()
	if _, exists := q.pending[task.ID]; exists {
		q.mu.Unlock()
		// A duplicate live id is a programming error, not a user-facing one.
		return nil, walleterrors.NewInternalError("duplicate approval id "+task.ID, nil)
	}

	// Durable record before visibility: a crash between creation and
	// visibility cannot orphan state.
	if err := q.journalCreate(task); err != nil {
		q.mu.Unlock()
		return nil, err
	}

	entry := &pendingEntry{
		task:   task,
		handle: newPromise(),
		reqCtx: reqCtx,
	}
	entry.timer = time.AfterFunc(q.ttl, func() { q.expire(task.ID, ReasonTimeout) })
	q.pending[task.ID] = entry

	summary := summaryOf(task)
	snapshot := q.snapshotLocked()
	q.mu.Unlock()

	q.logger.Info().
		Str("id", task.ID).
		Str("type", task.Type).
		Str("origin", task.Origin).
		Str("chain", task.ChainRef.String()).
		Msg("approval requested")

	q.requested.Publish(summary)
	q.state.Publish(snapshot)

	return entry.handle.await(ctx)
}

// Resolve runs the executor for a pending task. On success the task is
// removed, marked approved, and the original caller is fulfilled with the
// executor's result; on failure the task is marked rejected with reason
// internal_error and the caller fails with the same error. A stale id still
// records a terminal outcome and fails loudly so callers cannot silently
// succeed on an expired approval.
func (q *Queue) Resolve(id string, executor Executor) (interface{}, error) {
	if executor == nil {
		return nil, walleterrors.NewValidationError("executor is required")
	}

	entry := q.detach(id)
	if entry == nil {
		q.journalFinalize(id, outcomeExpired, ReasonSessionLost)
		return nil, walleterrors.NewSessionError("approval not found: " + id)
	}

	// The queue lock is not held here: an executor may itself enqueue and
	// await a nested approval (the send-transaction flow does).
	value, err := executor()
	if err != nil {
		q.journalFinalize(id, outcomeRejected, ReasonInternalError)
		entry.handle.fail(err)
		q.publishFinished(entry.task, outcomeRejected, ReasonInternalError)
		q.logger.Warn().Err(err).Str("id", id).Msg("approval executor failed")
		return nil, err
	}

	q.journalFinalize(id, outcomeApproved, "")
	entry.handle.fulfil(value)
	q.publishFinished(entry.task, outcomeApproved, "")
	q.logger.Info().Str("id", id).Str("type", entry.task.Type).Msg("approval resolved")
	return value, nil
}

// Reject removes the task and fails the original caller with the supplied
// error, or a default user-rejection. Rejecting an absent id is a no-op.
func (q *Queue) Reject(id string, reason error) {
	entry := q.detach(id)
	if entry == nil {
		q.logger.Debug().Str("id", id).Msg("reject on absent approval, ignoring")
		return
	}

	if reason == nil {
		reason = walleterrors.NewUserRejected("")
	}
	q.journalFinalize(id, outcomeRejected, ReasonUserReject)
	entry.handle.fail(reason)
	q.publishFinished(entry.task, outcomeRejected, ReasonUserReject)
	q.logger.Info().Str("id", id).Msg("approval rejected")
}

// ExpirePendingByRequestContext bulk-expires every task whose request context
// matches a now-dead connection. Matching is exact on (portID, sessionID),
// not origin, because one origin may hold several live connections.
func (q *Queue) ExpirePendingByRequestContext(portID, sessionID, reason string) int {
	if reason == "" {
		reason = ReasonSessionLost
	}

	q.mu.Lock()
	var matched []string
	for id, entry := range q.pending {
		if entry.reqCtx.PortID == portID && entry.reqCtx.SessionID == sessionID {
			matched = append(matched, id)
		}
	}
	q.mu.Unlock()

	for _, id := range matched {
		q.expire(id, reason)
	}
	if len(matched) > 0 {
		q.logger.Info().
			Str("port_id", portID).
			Str("session_id", sessionID).
			Int("expired", len(matched)).
			Msg("expired approvals for dead connection")
	}
	return len(matched)
}

// FinalizeAbandoned closes journal rows left pending by a previous process:
// their completion handles died with it, so they can never resolve. Rows for
// currently live approvals are untouched. Run once at startup.
func (q *Queue) FinalizeAbandoned() (int, error) {
	q.mu.Lock()
	live := make([]string, 0, len(q.pending))
	for id := range q.pending {
		live = append(live, id)
	}
	q.mu.Unlock()

	now := q.now()
	query := q.database.Client().
		Model(&store.ApprovalRecord{}).
		Where("outcome = ?", outcomePending)
	if len(live) > 0 {
		query = query.Where("approval_id NOT IN ?", live)
	}
	res := query.Updates(map[string]any{
		"outcome":     outcomeExpired,
		"reason":      ReasonSessionLost,
		"resolved_at": &now,
	})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "failed to finalize abandoned approvals")
	}
	if res.RowsAffected > 0 {
		q.logger.Info().Int64("count", res.RowsAffected).Msg("finalized abandoned approval journal rows")
	}
	return int(res.RowsAffected), nil
}

// Has reports whether a completion handle is pending for id.
func (q *Queue) Has(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[id]
	return ok
}

// Pending returns the visible queue, sorted by (createdAt, id) for
// deterministic display regardless of insertion order.
func (q *Queue) Pending() []Summary {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// detach atomically removes the entry for id, stopping its TTL timer.
// Both the resolve path and the expiry paths converge here, so a second
// removal attempt on an already-absent id is a no-op, never a crash.
func (q *Queue) detach(id string) *pendingEntry {
	q.mu.Lock()
	entry, ok := q.pending[id]
	if ok {
		delete(q.pending, id)
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	snapshot := q.snapshotLocked()
	q.mu.Unlock()

	if ok {
		q.state.Publish(snapshot)
		return entry
	}
	return nil
}

// expire applies reject-equivalent logic with a session-flavored error.
func (q *Queue) expire(id, reason string) {
	entry := q.detach(id)
	if entry == nil {
		return
	}

	q.journalFinalize(id, outcomeExpired, reason)
	entry.handle.fail(walleterrors.NewSessionError("approval expired: " + reason).WithContext("reason", reason))
	q.publishFinished(entry.task, outcomeExpired, reason)
	q.logger.Info().Str("id", id).Str("reason", reason).Msg("approval expired")
}

func (q *Queue) snapshotLocked() []Summary {
	out := make([]Summary, 0, len(q.pending))
	for _, entry := range q.pending {
		out = append(out, summaryOf(entry.task))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (q *Queue) publishFinished(task Task, outcome, reason string) {
	q.finished.Publish(Outcome{
		ID:       task.ID,
		Type:     task.Type,
		Origin:   task.Origin,
		ChainRef: task.ChainRef,
		Outcome:  outcome,
		Reason:   reason,
	})
}

func (q *Queue) journalCreate(task Task) error {
	record := store.ApprovalRecord{
		ApprovalID: task.ID,
		Type:       task.Type,
		Origin:     task.Origin,
		Namespace:  task.Namespace,
		ChainRef:   task.ChainRef.String(),
		Payload:    task.Payload,
		Outcome:    outcomePending,
	}
	if err := q.database.Client().Create(&record).Error; err != nil {
		return errors.Wrapf(err, "failed to journal approval %s", task.ID)
	}
	return nil
}

// journalFinalize records the terminal outcome for a journal row still
// pending. Guarding on the pending outcome keeps double finalization inert.
func (q *Queue) journalFinalize(id, outcome, reason string) {
	now := q.now()
	res := q.database.Client().
		Model(&store.ApprovalRecord{}).
		Where("approval_id = ? AND outcome = ?", id, outcomePending).
		Updates(map[string]any{
			"outcome":     outcome,
			"reason":      reason,
			"resolved_at": &now,
		})
	if res.Error != nil {
		q.logger.Error().Err(res.Error).Str("id", id).Msg("failed to finalize approval journal")
	}
}
