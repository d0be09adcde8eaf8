package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"botforge/backend/internal/config"
	"botforge/backend/internal/exchange"
	"botforge/backend/internal/model"
	"botforge/backend/internal/util"
	"botforge/backend/pkg/logger"
)

// SessionStore persists bot sessions
type SessionStore interface {
	Create(ctx context.Context, session *model.BotSession) error
	GetByID(ctx context.Context, sessionID string) (*model.BotSession, error)
	Update(ctx context.Context, session *model.BotSession) error
	UpdateStatus(ctx context.Context, sessionID, status string, errorMsg *string) (*model.BotSession, error)
	IncrementOrderCounters(ctx context.Context, sessionID string, success bool) error
	ListByOwner(ctx context.Context, ownerID string) ([]*model.BotSession, error)
	ListActive(ctx context.Context) ([]*model.BotSession, error)
}

// LedgerStore persists the append-only order ledger
type LedgerStore interface {
	Append(ctx context.Context, record *model.OrderRecord) error
	GetByIntent(ctx context.Context, sessionID, intentID string) (*model.OrderRecord, error)
	ListBySession(ctx context.Context, sessionID string) ([]*model.OrderRecord, error)
}

// BotSlots reserves concurrent bot capacity on a subscription
type BotSlots interface {
	AcquireBotSlot(ctx context.Context, subscriptionID string) error
	ReleaseBotSlot(subscriptionID string)
}

// Notifier pushes session and order events to connected clients
type Notifier interface {
	NotifySessionUpdate(ctx context.Context, userID string, payload model.WSSessionUpdatePayload)
	NotifyOrderExecuted(ctx context.Context, userID string, payload model.WSOrderExecutedPayload)
}

// Orchestrator owns the bot session lifecycle. Each running session
// holds one exchange adapter and one worker goroutine; all orders for
// a session pass through that worker, so execution is serialized per
// session without per-order locking.
type Orchestrator struct {
	sessions SessionStore
	ledger   LedgerStore
	slots    BotSlots
	notifier Notifier
	factory  exchange.Factory
	cfg      config.OrchestratorConfig
	log      *logger.Logger

	// reserved maps "owner|exchange:SYMBOL" to the session holding the
	// slot. Reservation happens before any I/O so two concurrent
	// starts for the same pair cannot both win.
	mu        sync.Mutex
	reserved  map[string]string
	instances map[string]*sessionInstance
}

type sessionInstance struct {
	session  *model.BotSession
	client   exchange.Client
	submitCh chan *submission
	stopCh   chan struct{}
	done     chan struct{}
	running  bool // guarded by Orchestrator.mu
	stopping bool // guarded by Orchestrator.mu
}

type submission struct {
	intent *model.OrderIntent
	result chan submitResult
}

type submitResult struct {
	outcome *model.ExecutionOutcome
	err     error
}

func NewOrchestrator(
	sessions SessionStore,
	ledger LedgerStore,
	slots BotSlots,
	notifier Notifier,
	factory exchange.Factory,
	cfg config.OrchestratorConfig,
) *Orchestrator {
	return &Orchestrator{
		sessions:  sessions,
		ledger:    ledger,
		slots:     slots,
		notifier:  notifier,
		factory:   factory,
		cfg:       cfg,
		log:       logger.GetLogger(),
		reserved:  make(map[string]string),
		instances: make(map[string]*sessionInstance),
	}
}

// StartSession starts a bot session for one (owner, pair) slot
func (o *Orchestrator) StartSession(ctx context.Context, ownerID string, req *model.StartSessionRequest) (*model.BotSession, error) {
	// 1. Validate parameters
	pair := model.Pair{Exchange: req.Exchange, Symbol: req.Symbol}
	if !pair.Valid() {
		return nil, util.ErrValidation("Exchange and symbol are required")
	}
	cfg := req.Config
	if cfg.OrderType == "" {
		cfg.OrderType = model.OrderTypeMarket
	}
	if cfg.OrderType != model.OrderTypeMarket && cfg.OrderType != model.OrderTypeLimit {
		return nil, util.ErrValidation("Order type must be market or limit")
	}
	if cfg.DefaultQuantity != "" {
		qty, err := decimal.NewFromString(cfg.DefaultQuantity)
		if err != nil || !qty.IsPositive() {
			return nil, util.ErrValidation("Default quantity must be a positive number")
		}
	}

	// 2. Reserve a concurrent bot slot on the subscription
	if err := o.slots.AcquireBotSlot(ctx, req.SubscriptionID); err != nil {
		return nil, err
	}

	session := &model.BotSession{
		SessionID:      uuid.New().String(),
		OwnerID:        ownerID,
		SubscriptionID: req.SubscriptionID,
		Pair:           pair,
		Status:         model.SessionStatusStarting,
		Config:         cfg,
	}

	// 3. Reserve the (owner, pair) slot before any I/O
	slotKey := pair.SlotKey(ownerID)
	inst := &sessionInstance{
		session:  session,
		submitCh: make(chan *submission, 16),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	o.mu.Lock()
	if holder, taken := o.reserved[slotKey]; taken {
		o.mu.Unlock()
		o.slots.ReleaseBotSlot(req.SubscriptionID)
		return nil, util.ErrAlreadyRunning(fmt.Sprintf("A session is already active for %s (session %s)", pair.String(), holder))
	}
	o.reserved[slotKey] = session.SessionID
	o.instances[session.SessionID] = inst
	o.mu.Unlock()

	// 4. Persist in starting state
	if err := o.sessions.Create(ctx, session); err != nil {
		o.releaseSlot(session)
		return nil, util.ErrInternalServer("Failed to create session")
	}

	// 5. Connect the exchange adapter under the connect timeout
	connectCtx, cancel := context.WithTimeout(ctx, o.cfg.ConnectTimeout)
	defer cancel()

	client, err := o.factory(connectCtx, pair, cfg)
	if err == nil {
		err = client.Ready(connectCtx)
	}
	if err != nil {
		o.failStart(inst, fmt.Sprintf("adapter connect failed: %v", err))
		return nil, util.ErrAdapter("Failed to connect exchange adapter", err)
	}
	inst.client = client

	// 6. Transition to running and start the worker
	session.Status = model.SessionStatusRunning
	if err := o.sessions.Update(ctx, session); err != nil {
		client.Close()
		o.failStart(inst, "failed to persist running state")
		return nil, util.ErrInternalServer("Failed to start session")
	}

	o.mu.Lock()
	inst.running = true
	o.mu.Unlock()

	go o.runSession(inst)

	o.log.Infof("Session %s started for %s", session.SessionID, pair.String())
	o.notifySession(ctx, session)

	return session, nil
}

// SubmitOrder executes an order intent on a running session. Replays
// of an already-executed intent return the recorded outcome without
// touching the exchange.
func (o *Orchestrator) SubmitOrder(ctx context.Context, sessionID string, intent *model.OrderIntent) (*model.ExecutionOutcome, error) {
	if record, err := o.ledger.GetByIntent(ctx, sessionID, intent.IntentID); err == nil && record != nil {
		return record.Outcome(true), nil
	}

	// Intents are only accepted once the session reached running;
	// anything arriving while the adapter is still connecting is
	// rejected rather than queued against a session that may fail.
	o.mu.Lock()
	inst, ok := o.instances[sessionID]
	if !ok || !inst.running || inst.stopping {
		o.mu.Unlock()
		if _, err := o.sessions.GetByID(ctx, sessionID); err != nil {
			return nil, util.ErrNotFound("Session not found")
		}
		return nil, util.ErrSessionNotRunning("Session is not accepting orders")
	}
	o.mu.Unlock()

	sub := &submission{
		intent: intent,
		result: make(chan submitResult, 1),
	}

	deadline := time.NewTimer(o.cfg.SubmitTimeout)
	defer deadline.Stop()

	select {
	case inst.submitCh <- sub:
	case <-inst.stopCh:
		return nil, util.ErrSessionNotRunning("Session is stopping")
	case <-deadline.C:
		return nil, util.ErrTimedOut("Order submission queue is saturated")
	case <-ctx.Done():
		return nil, util.ErrTimedOut("Request cancelled before submission")
	}

	select {
	case res := <-sub.result:
		return res.outcome, res.err
	case <-deadline.C:
		return nil, util.ErrTimedOut("Order execution did not complete in time")
	case <-ctx.Done():
		return nil, util.ErrTimedOut("Request cancelled during execution")
	}
}

// StopSession stops a session and waits for its worker to finish
// draining. Stopping an already-stopped session is a no-op; a stop
// racing another stop waits for the first one's outcome.
func (o *Orchestrator) StopSession(ctx context.Context, ownerID, sessionID string) error {
	session, err := o.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return util.ErrNotFound("Session not found")
	}
	if ownerID != "" && session.OwnerID != ownerID {
		return util.ErrForbidden("Access denied")
	}

	o.mu.Lock()
	inst, ok := o.instances[sessionID]
	if !ok {
		o.mu.Unlock()
		if session.IsTerminal() {
			return nil
		}
		// Active in storage but not in memory: a previous process died
		// holding this session. Reconcile to stopped.
		o.sessions.UpdateStatus(ctx, sessionID, model.SessionStatusStopped, nil)
		return nil
	}
	if inst.stopping {
		done := inst.done
		o.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return util.ErrTimedOut("Timed out waiting for session to stop")
		}
	}
	inst.stopping = true
	o.mu.Unlock()

	o.sessions.UpdateStatus(ctx, sessionID, model.SessionStatusStopping, nil)
	close(inst.stopCh)

	select {
	case <-inst.done:
		return nil
	case <-ctx.Done():
		return util.ErrTimedOut("Timed out waiting for session to stop")
	}
}

// ActiveSessionID reports which session currently holds the slot for
// an (owner, pair), if any
func (o *Orchestrator) ActiveSessionID(ownerID string, pair model.Pair) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.reserved[pair.SlotKey(ownerID)]
	return id, ok
}

// GetSession retrieves a session and verifies ownership
func (o *Orchestrator) GetSession(ctx context.Context, ownerID, sessionID string) (*model.BotSession, error) {
	session, err := o.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, util.ErrNotFound("Session not found")
	}
	if session.OwnerID != ownerID {
		return nil, util.ErrForbidden("Access denied")
	}
	return session, nil
}

// ListSessions lists all of a user's sessions
func (o *Orchestrator) ListSessions(ctx context.Context, ownerID string) ([]*model.BotSession, error) {
	return o.sessions.ListByOwner(ctx, ownerID)
}

// SessionOrders retrieves the order ledger of one session
func (o *Orchestrator) SessionOrders(ctx context.Context, ownerID, sessionID string) ([]*model.OrderRecord, error) {
	if _, err := o.GetSession(ctx, ownerID, sessionID); err != nil {
		return nil, err
	}
	return o.ledger.ListBySession(ctx, sessionID)
}

// Statistics aggregates a user's session and order history
func (o *Orchestrator) Statistics(ctx context.Context, ownerID string) (*model.SessionStatistics, error) {
	sessions, err := o.sessions.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	stats := &model.SessionStatistics{}
	for _, s := range sessions {
		stats.TotalSessions++
		if s.IsActive() {
			stats.ActiveSessions++
		}
		stats.SuccessfulOrders += s.SuccessfulOrders
		stats.FailedOrders += s.FailedOrders
	}
	stats.TotalOrders = stats.SuccessfulOrders + stats.FailedOrders

	return stats, nil
}

// RecoverStale reconciles sessions left active by a previous process.
// Their adapters and workers are gone, so they are marked failed
// rather than resumed.
func (o *Orchestrator) RecoverStale(ctx context.Context) error {
	stale, err := o.sessions.ListActive(ctx)
	if err != nil {
		return err
	}

	for _, session := range stale {
		msg := "interrupted by restart"
		if _, err := o.sessions.UpdateStatus(ctx, session.SessionID, model.SessionStatusFailed, &msg); err != nil {
			o.log.Errorf("Failed to reconcile stale session %s: %v", session.SessionID, err)
			continue
		}
		o.log.Warnf("Reconciled stale session %s (%s)", session.SessionID, session.Pair.String())
	}

	return nil
}

// Shutdown stops every running session, used on graceful process exit
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	ids := make([]string, 0, len(o.instances))
	for id := range o.instances {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			if err := o.StopSession(ctx, "", sessionID); err != nil {
				o.log.Errorf("Failed to stop session %s during shutdown: %v", sessionID, err)
			}
		}(id)
	}
	wg.Wait()
}

// runSession is the per-session worker loop
func (o *Orchestrator) runSession(inst *sessionInstance) {
	for {
		select {
		case sub := <-inst.submitCh:
			o.execute(inst, sub)
		case <-inst.stopCh:
			o.drainAndFinish(inst)
			return
		}
	}
}

// execute runs one order intent to a terminal ledger entry
func (o *Orchestrator) execute(inst *sessionInstance, sub *submission) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.SubmitTimeout)
	defer cancel()

	session := inst.session
	intent := sub.intent

	// A concurrent submit may have raced past the caller-side replay
	// check; the worker is the serialization point, so re-check here.
	if record, err := o.ledger.GetByIntent(ctx, session.SessionID, intent.IntentID); err == nil && record != nil {
		sub.result <- submitResult{outcome: record.Outcome(true)}
		return
	}

	req, orderType, err := o.buildRequest(session, intent)
	if err != nil {
		sub.result <- submitResult{err: err}
		return
	}

	result, execErr := o.placeWithRetry(ctx, inst.client, orderType, req)

	now := time.Now()
	record := &model.OrderRecord{
		OrderID:   uuid.New().String(),
		IntentID:  intent.IntentID,
		SessionID: session.SessionID,
		OwnerID:   session.OwnerID,
		BotID:     session.Config.Extra["bot_id"],
		Pair:      session.Pair,
		Action:    intent.Action,
		OrderType: orderType,
		Quantity:  req.Quantity,
		Price:     intent.LimitPrice,
		CreatedAt: now,
	}

	if execErr != nil {
		record.Status = model.OrderStatusFailed
		if ctx.Err() != nil {
			record.Status = model.OrderStatusTimedOut
		}
		record.Error = execErr.Error()
	} else {
		record.Status = model.OrderStatusExecuted
		record.ExecutedPrice = &result.ExecutedPrice
		record.ExecutedQuantity = &result.ExecutedQuantity
		record.ExchangeOrderID = result.ExchangeOrderID
		record.ExecutedAt = &now
	}

	if err := o.ledger.Append(ctx, record); err != nil {
		o.log.Errorf("Failed to append ledger entry for intent %s: %v", intent.IntentID, err)
		sub.result <- submitResult{err: util.ErrInternalServer("Failed to record order")}
		return
	}

	success := record.Status == model.OrderStatusExecuted
	if err := o.sessions.IncrementOrderCounters(ctx, session.SessionID, success); err != nil {
		o.log.Errorf("Failed to update counters for session %s: %v", session.SessionID, err)
	}

	o.notifier.NotifyOrderExecuted(ctx, session.OwnerID, model.WSOrderExecutedPayload{
		SessionID: session.SessionID,
		OrderID:   record.OrderID,
		Pair:      session.Pair.String(),
		Action:    record.Action,
		Status:    record.Status,
	})

	sub.result <- submitResult{outcome: record.Outcome(false)}
}

func (o *Orchestrator) buildRequest(session *model.BotSession, intent *model.OrderIntent) (exchange.OrderRequest, string, error) {
	qty := intent.Quantity
	if qty.IsZero() && session.Config.DefaultQuantity != "" {
		var err error
		qty, err = decimal.NewFromString(session.Config.DefaultQuantity)
		if err != nil {
			return exchange.OrderRequest{}, "", util.ErrValidation("Invalid default quantity on session")
		}
	}
	if !qty.IsPositive() {
		return exchange.OrderRequest{}, "", util.ErrValidation("Order quantity must be positive")
	}

	orderType := session.Config.OrderType
	req := exchange.OrderRequest{
		Pair:     session.Pair,
		Action:   intent.Action,
		Quantity: qty,
	}
	if orderType == model.OrderTypeLimit {
		if intent.LimitPrice == nil {
			return exchange.OrderRequest{}, "", util.ErrValidation("Limit sessions require a price on each intent")
		}
		req.LimitPrice = *intent.LimitPrice
	}

	return req, orderType, nil
}

// placeWithRetry retries transient adapter failures with doubling
// backoff. Non-transient failures surface immediately.
func (o *Orchestrator) placeWithRetry(ctx context.Context, client exchange.Client, orderType string, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	backoff := o.cfg.RetryBackoff

	var result *exchange.OrderResult
	var err error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if orderType == model.OrderTypeLimit {
			result, err = client.PlaceLimitOrder(ctx, req)
		} else {
			result, err = client.PlaceMarketOrder(ctx, req)
		}
		if err == nil {
			return result, nil
		}
		if !exchange.IsTransient(err) || ctx.Err() != nil {
			return nil, err
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return nil, err
		}
	}

	return nil, err
}

// drainAndFinish empties the submit queue under the drain timeout,
// then finalizes the session
func (o *Orchestrator) drainAndFinish(inst *sessionInstance) {
	deadline := time.Now().Add(o.cfg.DrainTimeout)

drain:
	for time.Now().Before(deadline) {
		select {
		case sub := <-inst.submitCh:
			o.execute(inst, sub)
		default:
			break drain
		}
	}

	// Anything still queued after the deadline is recorded as
	// cancelled; the ledger stays authoritative for every intent
	for {
		select {
		case sub := <-inst.submitCh:
			o.cancelQueued(inst, sub)
		default:
			o.finalize(inst)
			return
		}
	}
}

func (o *Orchestrator) cancelQueued(inst *sessionInstance, sub *submission) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session := inst.session
	intent := sub.intent

	if record, err := o.ledger.GetByIntent(ctx, session.SessionID, intent.IntentID); err == nil && record != nil {
		sub.result <- submitResult{outcome: record.Outcome(true)}
		return
	}

	record := &model.OrderRecord{
		OrderID:   uuid.New().String(),
		IntentID:  intent.IntentID,
		SessionID: session.SessionID,
		OwnerID:   session.OwnerID,
		BotID:     session.Config.Extra["bot_id"],
		Pair:      session.Pair,
		Action:    intent.Action,
		OrderType: session.Config.OrderType,
		Quantity:  intent.Quantity,
		Price:     intent.LimitPrice,
		Status:    model.OrderStatusCancelled,
		Error:     "session stopped before execution",
		CreatedAt: time.Now(),
	}

	if err := o.ledger.Append(ctx, record); err != nil {
		o.log.Errorf("Failed to record cancelled intent %s: %v", intent.IntentID, err)
		sub.result <- submitResult{err: util.ErrSessionNotRunning("Session stopped before execution")}
		return
	}

	sub.result <- submitResult{outcome: record.Outcome(false)}
}

func (o *Orchestrator) finalize(inst *sessionInstance) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if inst.client != nil {
		inst.client.Close()
	}

	session, err := o.sessions.UpdateStatus(ctx, inst.session.SessionID, model.SessionStatusStopped, nil)
	if err != nil {
		o.log.Errorf("Failed to persist stopped session %s: %v", inst.session.SessionID, err)
		session = inst.session
		session.Status = model.SessionStatusStopped
	}

	o.releaseSlot(inst.session)
	o.log.Infof("Session %s stopped", inst.session.SessionID)
	o.notifySession(ctx, session)

	close(inst.done)
}

// failStart tears down a session that never reached running
func (o *Orchestrator) failStart(inst *sessionInstance, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session := inst.session
	if _, err := o.sessions.UpdateStatus(ctx, session.SessionID, model.SessionStatusFailed, &reason); err != nil {
		o.log.Errorf("Failed to persist failed session %s: %v", session.SessionID, err)
	}
	o.releaseSlot(session)

	// The submit gate rejects intents before the session runs, so the
	// queue should be empty here; reject stragglers rather than leave
	// their callers blocked
	for {
		select {
		case sub := <-inst.submitCh:
			sub.result <- submitResult{err: util.ErrSessionNotRunning("Session failed to start")}
		default:
			session.Status = model.SessionStatusFailed
			session.ErrorMessage = &reason
			o.notifySession(ctx, session)
			return
		}
	}
}

// releaseSlot frees both the pair reservation and the subscription's
// concurrent bot slot
func (o *Orchestrator) releaseSlot(session *model.BotSession) {
	slotKey := session.Pair.SlotKey(session.OwnerID)

	o.mu.Lock()
	if o.reserved[slotKey] == session.SessionID {
		delete(o.reserved, slotKey)
	}
	delete(o.instances, session.SessionID)
	o.mu.Unlock()

	o.slots.ReleaseBotSlot(session.SubscriptionID)
}

func (o *Orchestrator) notifySession(ctx context.Context, session *model.BotSession) {
	payload := model.WSSessionUpdatePayload{
		SessionID:        session.SessionID,
		Pair:             session.Pair.String(),
		Status:           session.Status,
		SuccessfulOrders: session.SuccessfulOrders,
		FailedOrders:     session.FailedOrders,
	}
	if session.ErrorMessage != nil {
		payload.Error = *session.ErrorMessage
	}
	o.notifier.NotifySessionUpdate(ctx, session.OwnerID, payload)
}
