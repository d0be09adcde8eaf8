package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"botforge/backend/internal/config"
	"botforge/backend/internal/exchange"
	"botforge/backend/internal/model"
	"botforge/backend/internal/service"
	"botforge/backend/internal/util"
	"botforge/backend/pkg/secrets"
)

// jsonEndpointStore persists endpoints the way the Redis repository
// does: serialized to a JSON blob that carries the secret alongside
// the API-facing fields. Going through real serialization here keeps
// the intake path honest about what survives storage.
type jsonEndpointStore struct {
	mu       sync.Mutex
	blobs    map[string][]byte // secret hash -> stored blob
	triggers []bool
}

type endpointBlob struct {
	model.WebhookEndpoint
	Secret string `json:"secret"`
}

func newJSONEndpointStore() *jsonEndpointStore {
	return &jsonEndpointStore{blobs: make(map[string][]byte)}
}

func (s *jsonEndpointStore) add(t *testing.T, endpoint *model.WebhookEndpoint) {
	t.Helper()
	raw, err := json.Marshal(&endpointBlob{WebhookEndpoint: *endpoint, Secret: endpoint.Secret})
	if err != nil {
		t.Fatalf("failed to store endpoint: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[secrets.HashSecret(endpoint.Secret)] = raw
}

func (s *jsonEndpointStore) GetBySecretHash(ctx context.Context, secretHash string) (*model.WebhookEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.blobs[secretHash]
	if !ok {
		return nil, fmt.Errorf("endpoint not found")
	}
	var blob endpointBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, err
	}
	endpoint := blob.WebhookEndpoint
	endpoint.Secret = blob.Secret
	return &endpoint, nil
}

func (s *jsonEndpointStore) RecordTrigger(ctx context.Context, endpointID, ipAddress string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, success)
	return nil
}

func (s *jsonEndpointStore) triggerLog() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(s.triggers))
	copy(out, s.triggers)
	return out
}

type stubAdmitter struct {
	err error
}

func (a *stubAdmitter) CheckAndIncrementWebhook(ctx context.Context, subscriptionID string) error {
	return a.err
}

type stubSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.BotSession
}

func newStubSessionStore() *stubSessionStore {
	return &stubSessionStore{sessions: make(map[string]*model.BotSession)}
}

func (s *stubSessionStore) Create(ctx context.Context, session *model.BotSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions[session.SessionID] = &cp
	return nil
}

func (s *stubSessionStore) GetByID(ctx context.Context, sessionID string) (*model.BotSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found")
	}
	cp := *session
	return &cp, nil
}

func (s *stubSessionStore) Update(ctx context.Context, session *model.BotSession) error {
	return s.Create(ctx, session)
}

func (s *stubSessionStore) UpdateStatus(ctx context.Context, sessionID, status string, errorMsg *string) (*model.BotSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found")
	}
	session.Status = status
	session.ErrorMessage = errorMsg
	cp := *session
	return &cp, nil
}

func (s *stubSessionStore) IncrementOrderCounters(ctx context.Context, sessionID string, success bool) error {
	return nil
}

func (s *stubSessionStore) ListByOwner(ctx context.Context, ownerID string) ([]*model.BotSession, error) {
	return nil, nil
}

func (s *stubSessionStore) ListActive(ctx context.Context) ([]*model.BotSession, error) {
	return nil, nil
}

type stubLedger struct {
	mu      sync.Mutex
	records map[string]*model.OrderRecord
}

func newStubLedger() *stubLedger {
	return &stubLedger{records: make(map[string]*model.OrderRecord)}
}

func (l *stubLedger) Append(ctx context.Context, record *model.OrderRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *record
	l.records[record.SessionID+"|"+record.IntentID] = &cp
	return nil
}

func (l *stubLedger) GetByIntent(ctx context.Context, sessionID, intentID string) (*model.OrderRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[sessionID+"|"+intentID]
	if !ok {
		return nil, nil
	}
	cp := *record
	return &cp, nil
}

func (l *stubLedger) ListBySession(ctx context.Context, sessionID string) ([]*model.OrderRecord, error) {
	return nil, nil
}

func (l *stubLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

type stubSlots struct{}

func (stubSlots) AcquireBotSlot(ctx context.Context, subscriptionID string) error { return nil }
func (stubSlots) ReleaseBotSlot(subscriptionID string)                            {}

type stubNotifier struct{}

func (stubNotifier) NotifySessionUpdate(ctx context.Context, userID string, payload model.WSSessionUpdatePayload) {
}
func (stubNotifier) NotifyOrderExecuted(ctx context.Context, userID string, payload model.WSOrderExecutedPayload) {
}

// stubExchange fills at a fixed price, or rejects every order when
// rejectAll is set
type stubExchange struct {
	rejectAll bool
}

func (c *stubExchange) Ready(ctx context.Context) error { return nil }
func (c *stubExchange) Close() error                    { return nil }

func (c *stubExchange) place(req exchange.OrderRequest) (*exchange.OrderResult, error) {
	if c.rejectAll {
		return nil, fmt.Errorf("insufficient balance")
	}
	return &exchange.OrderResult{
		ExchangeOrderID:  "ex-1",
		ExecutedPrice:    decimal.NewFromInt(100),
		ExecutedQuantity: req.Quantity,
	}, nil
}

func (c *stubExchange) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	return c.place(req)
}

func (c *stubExchange) PlaceLimitOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	return c.place(req)
}

type webhookEnv struct {
	router *gin.Engine
	store  *jsonEndpointStore
	ledger *stubLedger
	orch   *service.Orchestrator
}

func newWebhookEnv(t *testing.T, client exchange.Client, admitErr error) *webhookEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newJSONEndpointStore()
	store.add(t, &model.WebhookEndpoint{
		ID:             "ep-1",
		OwnerID:        "user-1",
		SubscriptionID: "sub-1",
		Name:           "BTC momentum",
		Secret:         "topsecret",
		Exchange:       "binance",
		Symbol:         "BTCUSDT",
		Active:         true,
	})

	ledger := newStubLedger()
	orch := service.NewOrchestrator(
		newStubSessionStore(),
		ledger,
		stubSlots{},
		stubNotifier{},
		func(ctx context.Context, pair model.Pair, cfg model.SessionConfig) (exchange.Client, error) {
			return client, nil
		},
		config.OrchestratorConfig{
			ConnectTimeout: time.Second,
			DrainTimeout:   100 * time.Millisecond,
			SubmitTimeout:  2 * time.Second,
			MaxRetries:     1,
			RetryBackoff:   time.Millisecond,
		},
	)
	gate := service.NewSecurityGate(store, &stubAdmitter{err: admitErr})
	h := NewWebhookHandler(gate, orch, "X-Signature")

	router := gin.New()
	router.POST("/webhook/receive/:secret", h.Receive)

	return &webhookEnv{router: router, store: store, ledger: ledger, orch: orch}
}

func (env *webhookEnv) startSession(t *testing.T) *model.BotSession {
	t.Helper()
	session, err := env.orch.StartSession(context.Background(), "user-1", &model.StartSessionRequest{
		Exchange:       "binance",
		Symbol:         "BTCUSDT",
		SubscriptionID: "sub-1",
		Config:         model.SessionConfig{DefaultQuantity: "1"},
	})
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	return session
}

func (env *webhookEnv) deliver(secret, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/receive/"+secret, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) *util.Response {
	t.Helper()
	var resp util.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v\n%s", err, w.Body.String())
	}
	return &resp
}

func TestReceiveExecutesOrder(t *testing.T) {
	env := newWebhookEnv(t, &stubExchange{}, nil)
	env.startSession(t)

	w := env.deliver("topsecret", `{"action":"buy","ticker":"BTCUSDT","quantity":"0.5"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeResponse(t, w)
	if !resp.Success {
		t.Fatalf("expected success envelope: %s", w.Body.String())
	}

	if env.ledger.count() != 1 {
		t.Fatalf("expected one ledger entry, got %d", env.ledger.count())
	}
	if log := env.store.triggerLog(); len(log) != 1 || !log[0] {
		t.Fatalf("expected one successful trigger, got %v", log)
	}
}

func TestReceiveWrongSecret(t *testing.T) {
	env := newWebhookEnv(t, &stubExchange{}, nil)
	env.startSession(t)

	w := env.deliver("guessed", `{"action":"buy","ticker":"BTCUSDT","quantity":"0.5"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != util.ErrCodeUnauthorized {
		t.Fatalf("unexpected error envelope: %s", w.Body.String())
	}

	// Unknown secrets have no endpoint to count against
	if log := env.store.triggerLog(); len(log) != 0 {
		t.Fatalf("no trigger should be recorded, got %v", log)
	}
}

func TestReceiveMalformedPayload(t *testing.T) {
	env := newWebhookEnv(t, &stubExchange{}, nil)
	env.startSession(t)

	for _, body := range []string{
		`{"action":"hold","ticker":"BTCUSDT","quantity":"1"}`,
		`{"action":"buy","quantity":"1"}`,
		`{"action":"buy","ticker":"BTCUSDT","quantity":"-5"}`,
		`{"action":"buy","ticker":"BTCUSDT"}`,
	} {
		w := env.deliver("topsecret", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, w.Code)
		}
		resp := decodeResponse(t, w)
		if resp.Error == nil || resp.Error.Code != util.ErrCodeMalformedPayload {
			t.Fatalf("body %s: unexpected error envelope: %s", body, w.Body.String())
		}
	}

	if env.ledger.count() != 0 {
		t.Fatalf("malformed deliveries must not reach the ledger, got %d", env.ledger.count())
	}
	for i, success := range env.store.triggerLog() {
		if success {
			t.Fatalf("trigger %d recorded as successful", i)
		}
	}
}

func TestReceiveRateLimited(t *testing.T) {
	admitErr := util.ErrRateLimited("Webhook quota of 10 per minute exceeded", "Window resets in 30 seconds")
	env := newWebhookEnv(t, &stubExchange{}, admitErr)
	env.startSession(t)

	w := env.deliver("topsecret", `{"action":"buy","ticker":"BTCUSDT","quantity":"0.5"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != util.ErrCodeRateLimit {
		t.Fatalf("unexpected error envelope: %s", w.Body.String())
	}

	if log := env.store.triggerLog(); len(log) != 1 || log[0] {
		t.Fatalf("expected one failed trigger, got %v", log)
	}
}

func TestReceiveAdapterFailure(t *testing.T) {
	env := newWebhookEnv(t, &stubExchange{rejectAll: true}, nil)
	env.startSession(t)

	w := env.deliver("topsecret", `{"action":"buy","ticker":"BTCUSDT","quantity":"0.5"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("a rejected order must not report success, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeResponse(t, w)
	if resp.Success {
		t.Fatalf("failure must not use the success envelope: %s", w.Body.String())
	}
	if resp.Error == nil || resp.Error.Code != util.ErrCodeAdapterError {
		t.Fatalf("unexpected error envelope: %s", w.Body.String())
	}

	// The ledger keeps the failed entry and the trigger counts it as failed
	if env.ledger.count() != 1 {
		t.Fatalf("failed orders still get a ledger entry, got %d", env.ledger.count())
	}
	if log := env.store.triggerLog(); len(log) != 1 || log[0] {
		t.Fatalf("expected one failed trigger, got %v", log)
	}
}

func TestReceiveNoSession(t *testing.T) {
	env := newWebhookEnv(t, &stubExchange{}, nil)

	w := env.deliver("topsecret", `{"action":"buy","ticker":"BTCUSDT","quantity":"0.5"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != util.ErrCodeSessionNotRunning {
		t.Fatalf("unexpected error envelope: %s", w.Body.String())
	}
}
