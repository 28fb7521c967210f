package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/DatDio/backend-sub001/internal/apikey"
	"github.com/DatDio/backend-sub001/internal/app"
	"github.com/DatDio/backend-sub001/internal/depositcode"
	"github.com/DatDio/backend-sub001/internal/domain"
	"github.com/DatDio/backend-sub001/internal/ratelimit"
	"github.com/DatDio/backend-sub001/internal/store"
)

// httpRepoStub is an in-memory Repository backing full-router tests. It keeps
// the same dedup semantics as the real store so the webhook ack contract can
// be exercised end to end.
type httpRepoStub struct {
	store.Repository

	mu        sync.Mutex
	wallets   map[int64]*domain.Wallet
	dedup     map[string]time.Time
	unmatched []domain.UnmatchedWebhook
	keys      map[string]*domain.APIKey // by digest

	refundErr error
	cancelErr error
}

func newHTTPRepoStub() *httpRepoStub {
	return &httpRepoStub{
		wallets: map[int64]*domain.Wallet{},
		dedup:   map[string]time.Time{},
		keys:    map[string]*domain.APIKey{},
	}
}

func (s *httpRepoStub) addWallet(userID, balance, bonusPercent int64) *domain.Wallet {
	w := &domain.Wallet{ID: uuid.New(), UserID: userID, Balance: balance, RankBonusPercent: bonusPercent}
	s.wallets[userID] = w
	return w
}

func (s *httpRepoStub) addKey(userID int64, digest string) *domain.APIKey {
	k := &domain.APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		Label:     "test",
		KeyDigest: digest,
		Status:    domain.APIKeyStatusActive,
		CreatedAt: time.Now(),
	}
	s.keys[digest] = k
	return k
}

func (s *httpRepoStub) FindWalletByUserID(ctx context.Context, userID int64) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil, store.ErrWalletNotFound
	}
	copied := *w
	return &copied, nil
}

func (s *httpRepoStub) CommitDeposit(ctx context.Context, params store.CommitDepositParams) (*store.CommitDepositResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := params.Provider + "|" + params.ExternalID
	if _, exists := s.dedup[key]; exists {
		return &store.CommitDepositResult{Duplicate: true}, nil
	}
	var wallet *domain.Wallet
	for _, w := range s.wallets {
		if w.ID == params.WalletID {
			wallet = w
			break
		}
	}
	if wallet == nil {
		return nil, store.ErrWalletNotFound
	}
	s.dedup[key] = time.Now()
	bonus := params.Amount * wallet.RankBonusPercent / 100
	before := wallet.Balance
	wallet.Balance += params.Amount + bonus
	now := time.Now()
	tx := &domain.LedgerTransaction{
		ID:            uuid.New(),
		Code:          params.Code,
		WalletID:      wallet.ID,
		Type:          domain.TxTypeDeposit,
		Status:        domain.TxStatusSuccess,
		Amount:        params.Amount,
		BonusAmount:   bonus,
		BalanceBefore: before,
		BalanceAfter:  wallet.Balance,
		CompletedAt:   &now,
	}
	if !params.OccurredAt.IsZero() {
		occurredAt := params.OccurredAt
		tx.OccurredAt = &occurredAt
	}
	return &store.CommitDepositResult{UserID: wallet.UserID, Transaction: tx}, nil
}

func (s *httpRepoStub) FindExternalEvent(ctx context.Context, provider, externalID string) (*domain.ExternalEventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	receivedAt, ok := s.dedup[provider+"|"+externalID]
	if !ok {
		return nil, store.ErrEventNotFound
	}
	return &domain.ExternalEventRecord{Provider: provider, ExternalID: externalID, ReceivedAt: receivedAt}, nil
}

func (s *httpRepoStub) RecordUnmatchedWebhook(ctx context.Context, record domain.UnmatchedWebhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unmatched = append(s.unmatched, record)
	return nil
}

func (s *httpRepoStub) ListUnmatchedWebhooks(ctx context.Context, limit, offset int) ([]domain.UnmatchedWebhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.UnmatchedWebhook(nil), s.unmatched...), nil
}

func (s *httpRepoStub) FindAPIKeyByDigest(ctx context.Context, digest string) (*domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[digest]
	if !ok {
		return nil, store.ErrAPIKeyNotFound
	}
	copied := *k
	return &copied, nil
}

func (s *httpRepoStub) TouchAPIKeyLastUsed(ctx context.Context, keyID uuid.UUID, usedAt time.Time) error {
	return nil
}

func (s *httpRepoStub) RefundDeposit(ctx context.Context, code, refundCode, reason string) (*domain.LedgerTransaction, error) {
	if s.refundErr != nil {
		return nil, s.refundErr
	}
	return &domain.LedgerTransaction{Code: refundCode, Type: domain.TxTypeRefund, Status: domain.TxStatusSuccess}, nil
}

func (s *httpRepoStub) CancelPendingTransaction(ctx context.Context, code string) error {
	return s.cancelErr
}

type noopDispatcher struct{}

func (noopDispatcher) PublishDepositSuccess(ctx context.Context, event domain.DepositSuccessEvent) error {
	return nil
}

const testAdminSecret = "router-test-admin-secret"

func newTestRouter(t *testing.T, repo *httpRepoStub, limiterCfg ratelimit.Config) (http.Handler, *depositcode.Codec) {
	t.Helper()

	codec, err := depositcode.New("router-test-secret", "DIO")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	service := app.NewService(repo, codec, noopDispatcher{})
	return Routes(RouterConfig{
		Handlers:        NewHandlers(service),
		Limiter:         ratelimit.New(limiterCfg),
		Authenticator:   apikey.NewAuthenticator(repo),
		AdminSecret:     testAdminSecret,
		MetricsRegistry: prometheus.NewRegistry(),
	}), codec
}

func generousLimiter() ratelimit.Config {
	return ratelimit.Config{Capacity: 1000, Interval: time.Minute, MaxKeys: 100, ExemptPaths: []string{"/health", "/metrics"}}
}

func sepayBody(externalID, content string, amount int64) []byte {
	payload := map[string]interface{}{
		"id":             12345,
		"gateway":        "VietinBank",
		"transferType":   "in",
		"transferAmount": amount,
		"content":        content,
		"referenceCode":  externalID,
	}
	b, _ := json.Marshal(payload)
	return b
}

func postWebhook(router http.Handler, providerID string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+providerID, bytes.NewReader(body))
	req.RemoteAddr = "10.0.0.1:5000"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) webhookAck {
	t.Helper()
	var ack webhookAck
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v (body %q)", err, rec.Body.String())
	}
	return ack
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (body %q)", err, rec.Body.String())
	}
	return body
}

func TestWebhookCreditsMatchedDeposit(t *testing.T) {
	repo := newHTTPRepoStub()
	repo.addWallet(7, 0, 0)
	router, codec := newTestRouter(t, repo, generousLimiter())

	code, err := codec.Encode(7)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	rec := postWebhook(router, "sepay", sepayBody("FT001", "chuyen tien "+code, 150000))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}
	ack := decodeAck(t, rec)
	if !ack.Success || ack.Summary.Credited != 1 {
		t.Fatalf("ack = %+v, want success with credited=1", ack)
	}
	if got := repo.wallets[7].Balance; got != 150000 {
		t.Fatalf("balance = %d, want 150000", got)
	}
}

func TestWebhookDuplicateDeliveryAcked(t *testing.T) {
	repo := newHTTPRepoStub()
	repo.addWallet(7, 0, 0)
	router, codec := newTestRouter(t, repo, generousLimiter())

	code, _ := codec.Encode(7)
	body := sepayBody("FT002", code, 90000)

	postWebhook(router, "sepay", body)
	rec := postWebhook(router, "sepay", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	ack := decodeAck(t, rec)
	if ack.Summary.Duplicates != 1 || ack.Summary.Credited != 0 {
		t.Fatalf("ack = %+v, want duplicates=1", ack)
	}
	if got := repo.wallets[7].Balance; got != 90000 {
		t.Fatalf("balance = %d, want single credit of 90000", got)
	}
}

func TestWebhookUnmatchedStillAcked(t *testing.T) {
	repo := newHTTPRepoStub()
	router, _ := newTestRouter(t, repo, generousLimiter())

	rec := postWebhook(router, "sepay", sepayBody("FT003", "no deposit code here", 50000))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 so the provider stops retrying", rec.Code)
	}
	ack := decodeAck(t, rec)
	if ack.Summary.Unmatched != 1 {
		t.Fatalf("ack = %+v, want unmatched=1", ack)
	}
	if len(repo.unmatched) != 1 {
		t.Fatalf("unmatched records = %d, want 1", len(repo.unmatched))
	}
}

func TestWebhookUnknownProvider(t *testing.T) {
	repo := newHTTPRepoStub()
	router, _ := newTestRouter(t, repo, generousLimiter())

	rec := postWebhook(router, "paypal", []byte(`{}`))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != codeNotFound {
		t.Fatalf("error code = %q, want %q", body.Code, codeNotFound)
	}
}

func TestWebhookMalformedPayloadRejected(t *testing.T) {
	repo := newHTTPRepoStub()
	router, _ := newTestRouter(t, repo, generousLimiter())

	rec := postWebhook(router, "sepay", []byte(`{not json`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != codeInvalidPayload {
		t.Fatalf("error code = %q, want %q", body.Code, codeInvalidPayload)
	}
}

func TestRateLimitRejectionShape(t *testing.T) {
	repo := newHTTPRepoStub()
	router, _ := newTestRouter(t, repo, ratelimit.Config{
		Capacity:    2,
		Interval:    time.Hour,
		MaxKeys:     100,
		ExemptPaths: []string{"/health", "/metrics"},
	})

	var rec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
		req.RemoteAddr = "10.0.0.2:6000"
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, req)
	}

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != codeRateLimited {
		t.Fatalf("error code = %q, want %q", body.Code, codeRateLimited)
	}
}

func TestHealthBypassesRateLimit(t *testing.T) {
	repo := newHTTPRepoStub()
	router, _ := newTestRouter(t, repo, ratelimit.Config{
		Capacity:    1,
		Interval:    time.Hour,
		MaxKeys:     100,
		ExemptPaths: []string{"/health", "/metrics"},
	})

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.0.0.3:7000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("health probe %d status = %d, want 200", i, rec.Code)
		}
	}
}

func TestWalletRequiresAPIKey(t *testing.T) {
	repo := newHTTPRepoStub()
	router, _ := newTestRouter(t, repo, generousLimiter())

	req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
	req.RemoteAddr = "10.0.0.4:8000"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != codeUnauthorized {
		t.Fatalf("error code = %q, want %q", body.Code, codeUnauthorized)
	}
}

func TestWalletWithValidAPIKey(t *testing.T) {
	repo := newHTTPRepoStub()
	repo.addWallet(42, 250000, 5)
	plaintext, digest, err := apikey.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	repo.addKey(42, digest)
	router, _ := newTestRouter(t, repo, generousLimiter())

	req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
	req.RemoteAddr = "10.0.0.5:9000"
	req.Header.Set(apikey.HeaderName, plaintext)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}
	var wallet domain.Wallet
	if err := json.Unmarshal(rec.Body.Bytes(), &wallet); err != nil {
		t.Fatalf("decode wallet: %v", err)
	}
	if wallet.UserID != 42 || wallet.Balance != 250000 {
		t.Fatalf("wallet = %+v, want user 42 with balance 250000", wallet)
	}
}

func TestDepositCodeEndpoint(t *testing.T) {
	repo := newHTTPRepoStub()
	repo.addWallet(42, 0, 0)
	plaintext, digest, err := apikey.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	repo.addKey(42, digest)
	router, codec := newTestRouter(t, repo, generousLimiter())

	req := httptest.NewRequest(http.MethodGet, "/wallet/deposit-code", nil)
	req.RemoteAddr = "10.0.0.5:9001"
	req.Header.Set(apikey.HeaderName, plaintext)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want, _ := codec.Encode(42)
	if resp["deposit_code"] != want {
		t.Fatalf("deposit_code = %q, want %q", resp["deposit_code"], want)
	}
	if !strings.HasPrefix(resp["deposit_code"], "DIO-") {
		t.Fatalf("deposit_code = %q, want DIO- prefix", resp["deposit_code"])
	}
}

func adminToken(t *testing.T, secret, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "1",
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func postAdmin(router http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = "10.0.0.6:1000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAdminRefundAuth(t *testing.T) {
	repo := newHTTPRepoStub()
	router, _ := newTestRouter(t, repo, generousLimiter())

	cases := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"wrong secret", adminToken(t, "some-other-secret", "admin"), http.StatusUnauthorized},
		{"non-admin role", adminToken(t, testAdminSecret, "support"), http.StatusForbidden},
		{"admin", adminToken(t, testAdminSecret, "admin"), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postAdmin(router, "/admin/transactions/TXNABC/refund", tc.token)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tc.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestAdminRefundErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		refundErr  error
		wantStatus int
		wantCode   string
	}{
		{"unknown transaction", store.ErrTransactionNotFound, http.StatusNotFound, codeNotFound},
		{"not refundable", store.ErrNotRefundable, http.StatusConflict, codeConflict},
		{"drained wallet", store.ErrInsufficientFunds, http.StatusConflict, codeConflict},
		{"storage failure", fmt.Errorf("connection reset"), http.StatusInternalServerError, codeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newHTTPRepoStub()
			repo.refundErr = tc.refundErr
			router, _ := newTestRouter(t, repo, generousLimiter())

			rec := postAdmin(router, "/admin/transactions/TXNABC/refund", adminToken(t, testAdminSecret, "admin"))
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if body := decodeError(t, rec); body.Code != tc.wantCode {
				t.Fatalf("error code = %q, want %q", body.Code, tc.wantCode)
			}
		})
	}
}

func TestAdminListUnmatchedWebhooks(t *testing.T) {
	repo := newHTTPRepoStub()
	repo.unmatched = []domain.UnmatchedWebhook{{
		ID:         uuid.New(),
		Provider:   "sepay",
		ExternalID: "FT009",
		Amount:     70000,
		Reason:     "no deposit code found in description",
	}}
	router, _ := newTestRouter(t, repo, generousLimiter())

	req := httptest.NewRequest(http.MethodGet, "/admin/unmatched-webhooks", nil)
	req.RemoteAddr = "10.0.0.7:2000"
	req.Header.Set("Authorization", "Bearer "+adminToken(t, testAdminSecret, "admin"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		UnmatchedWebhooks []domain.UnmatchedWebhook `json:"unmatched_webhooks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.UnmatchedWebhooks) != 1 || resp.UnmatchedWebhooks[0].ExternalID != "FT009" {
		t.Fatalf("resp = %+v, want the recorded FT009 entry", resp)
	}
}
