package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"botforge/backend/internal/exchange"
	"botforge/backend/internal/model"
)

// In-memory stores backing the service tests. They mirror the Redis
// repositories' behavior closely enough for lifecycle and settlement
// semantics.

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.BotSession
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]*model.BotSession)}
}

func (s *memSessionStore) Create(ctx context.Context, session *model.BotSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session.StartedAt = time.Now()
	cp := *session
	s.sessions[session.SessionID] = &cp
	return nil
}

func (s *memSessionStore) GetByID(ctx context.Context, sessionID string) (*model.BotSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found")
	}
	cp := *session
	return &cp, nil
}

func (s *memSessionStore) Update(ctx context.Context, session *model.BotSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions[session.SessionID] = &cp
	return nil
}

func (s *memSessionStore) UpdateStatus(ctx context.Context, sessionID, status string, errorMsg *string) (*model.BotSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found")
	}
	session.Status = status
	session.ErrorMessage = errorMsg
	if session.IsTerminal() {
		now := time.Now()
		session.StoppedAt = &now
	}
	cp := *session
	return &cp, nil
}

func (s *memSessionStore) IncrementOrderCounters(ctx context.Context, sessionID string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session not found")
	}
	if success {
		session.SuccessfulOrders++
	} else {
		session.FailedOrders++
	}
	return nil
}

func (s *memSessionStore) ListByOwner(ctx context.Context, ownerID string) ([]*model.BotSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.BotSession
	for _, session := range s.sessions {
		if session.OwnerID == ownerID {
			cp := *session
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memSessionStore) ListActive(ctx context.Context) ([]*model.BotSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.BotSession
	for _, session := range s.sessions {
		if session.IsActive() {
			cp := *session
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memLedger struct {
	mu      sync.Mutex
	records []*model.OrderRecord
	byKey   map[string]*model.OrderRecord
}

func newMemLedger() *memLedger {
	return &memLedger{byKey: make(map[string]*model.OrderRecord)}
}

func (l *memLedger) Append(ctx context.Context, record *model.OrderRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *record
	l.records = append(l.records, &cp)
	l.byKey[record.SessionID+"|"+record.IntentID] = &cp
	return nil
}

func (l *memLedger) GetByIntent(ctx context.Context, sessionID, intentID string) (*model.OrderRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.byKey[sessionID+"|"+intentID]
	if !ok {
		return nil, nil
	}
	cp := *record
	return &cp, nil
}

func (l *memLedger) ListBySession(ctx context.Context, sessionID string) ([]*model.OrderRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*model.OrderRecord
	for _, record := range l.records {
		if record.SessionID == sessionID {
			cp := *record
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (l *memLedger) EntriesSince(ctx context.Context, botID string, since time.Time) ([]*model.OrderRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*model.OrderRecord
	for _, record := range l.records {
		if record.BotID == botID && record.CreatedAt.After(since) {
			cp := *record
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

type fakeSlots struct {
	mu       sync.Mutex
	held     int
	acquired int
	released int
	limit    int
}

func (f *fakeSlots) AcquireBotSlot(ctx context.Context, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limit > 0 && f.held >= f.limit {
		return fmt.Errorf("quota exceeded")
	}
	f.held++
	f.acquired++
	return nil
}

func (f *fakeSlots) ReleaseBotSlot(subscriptionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held--
	f.released++
}

func (f *fakeSlots) current() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held
}

type nopNotifier struct{}

func (nopNotifier) NotifySessionUpdate(ctx context.Context, userID string, payload model.WSSessionUpdatePayload) {
}
func (nopNotifier) NotifyOrderExecuted(ctx context.Context, userID string, payload model.WSOrderExecutedPayload) {
}

// scriptedClient fails the first failures placements with a transient
// error, then fills at price
type scriptedClient struct {
	mu       sync.Mutex
	failures int
	calls    int
	price    decimal.Decimal
	fatal    bool
}

func (c *scriptedClient) Ready(ctx context.Context) error { return nil }
func (c *scriptedClient) Close() error                    { return nil }

func (c *scriptedClient) place(req exchange.OrderRequest) (*exchange.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failures > 0 {
		c.failures--
		if c.fatal {
			return nil, fmt.Errorf("rejected by exchange")
		}
		return nil, exchange.Transientf("connection reset")
	}
	return &exchange.OrderResult{
		ExchangeOrderID:  fmt.Sprintf("ex-%d", c.calls),
		ExecutedPrice:    c.price,
		ExecutedQuantity: req.Quantity,
	}, nil
}

func (c *scriptedClient) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	return c.place(req)
}

func (c *scriptedClient) PlaceLimitOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	return c.place(req)
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func clientFactory(client exchange.Client, err error) exchange.Factory {
	return func(ctx context.Context, pair model.Pair, cfg model.SessionConfig) (exchange.Client, error) {
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

type fakeEndpointStore struct {
	mu        sync.Mutex
	endpoints map[string]*model.WebhookEndpoint // secret hash -> endpoint
	triggers  []bool
}

func newFakeEndpointStore() *fakeEndpointStore {
	return &fakeEndpointStore{endpoints: make(map[string]*model.WebhookEndpoint)}
}

func (f *fakeEndpointStore) add(hash string, endpoint *model.WebhookEndpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endpoints[hash] = endpoint
}

func (f *fakeEndpointStore) GetBySecretHash(ctx context.Context, secretHash string) (*model.WebhookEndpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	endpoint, ok := f.endpoints[secretHash]
	if !ok {
		return nil, fmt.Errorf("endpoint not found")
	}
	cp := *endpoint
	return &cp, nil
}

func (f *fakeEndpointStore) RecordTrigger(ctx context.Context, endpointID, ipAddress string, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, success)
	return nil
}

type fakeAdmitter struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeAdmitter) CheckAndIncrementWebhook(ctx context.Context, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeAdmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memPositionStore struct {
	mu        sync.Mutex
	positions map[string]*model.ManagedBotPosition
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{positions: make(map[string]*model.ManagedBotPosition)}
}

func (s *memPositionStore) Create(ctx context.Context, position *model.ManagedBotPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *position
	s.positions[position.PositionID] = &cp
	return nil
}

func (s *memPositionStore) GetByID(ctx context.Context, positionID string) (*model.ManagedBotPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	position, ok := s.positions[positionID]
	if !ok {
		return nil, fmt.Errorf("position not found")
	}
	cp := *position
	return &cp, nil
}

func (s *memPositionStore) Update(ctx context.Context, position *model.ManagedBotPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *position
	s.positions[position.PositionID] = &cp
	return nil
}

func (s *memPositionStore) ListByInvestor(ctx context.Context, investorID string) ([]*model.ManagedBotPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ManagedBotPosition
	for _, position := range s.positions {
		if position.InvestorID == investorID {
			cp := *position
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakePlanStore struct {
	sub  *model.Subscription
	plan *model.Plan
	err  error
}

func (f *fakePlanStore) ResolvePlan(ctx context.Context, subscriptionID string) (*model.Subscription, *model.Plan, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.sub, f.plan, nil
}

// fakeMeter is an in-memory UsageMeter with real window bucketing
type fakeMeter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newFakeMeter() *fakeMeter {
	return &fakeMeter{counts: make(map[string]int64)}
}

func (m *fakeMeter) IncrAPICall(ctx context.Context, subscriptionID string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := "api|" + subscriptionID + "|" + now.UTC().Format("2006-01-02")
	m.counts[key]++
	return m.counts[key], nil
}

func (m *fakeMeter) IncrWebhook(ctx context.Context, subscriptionID string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := "wh|" + subscriptionID + "|" + now.UTC().Format("2006-01-02T15:04")
	m.counts[key]++
	return m.counts[key], nil
}

func (m *fakeMeter) WebhookWindowReset(now time.Time) time.Duration {
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
