package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/boletos-backend/internal/access"
	"github.com/angelmondragon/boletos-backend/internal/invoices"
	"github.com/angelmondragon/boletos-backend/internal/reconciliation"
	pkgAuth "github.com/angelmondragon/boletos-backend/pkg/auth"
	"github.com/angelmondragon/boletos-backend/pkg/config"
	"github.com/angelmondragon/boletos-backend/pkg/db/models"
	"github.com/angelmondragon/boletos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
	"github.com/angelmondragon/boletos-backend/pkg/metrics"
)

var routerNow = time.Date(2024, time.March, 5, 15, 0, 0, 0, time.UTC)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type stubRedis struct{ stubPinger }

func (stubRedis) FixedWindowAllow(context.Context, string, int64, time.Duration) (bool, int64, error) {
	return true, 1, nil
}

type stubVerifier struct{}

func (stubVerifier) Verify(token string) bool { return token == "shared-secret" }

type stubResolver struct{}

func (stubResolver) Resolve(_ context.Context, reference string) (uint64, error) {
	if reference == "BOL-1" {
		return 1, nil
	}
	return 0, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
}

// storeInvoices serves reads straight from the memory store.
type storeInvoices struct {
	store *reconciliation.MemoryStore
}

func (s storeInvoices) Create(context.Context, *access.Actor, invoices.CreateInput) (*invoices.View, error) {
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "not supported")
}

func (s storeInvoices) Get(ctx context.Context, _ *access.Actor, id uint64) (*invoices.View, error) {
	inv, err := s.store.LoadInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	view := invoices.NewView(*inv, routerNow)
	return &view, nil
}

func (s storeInvoices) List(context.Context, *access.Actor, invoices.ListInput) (*invoices.ListView, error) {
	return &invoices.ListView{}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev", CORSAllowedOrigins: []string{"http://localhost:3000"}},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "boletos", ExpirationMinutes: 60},
		Callback: config.CallbackConfig{
			RateLimitWindow: time.Minute,
			RateLimitPerIP:  100,
		},
	}
}

func newTestRouter(t *testing.T) (http.Handler, *reconciliation.MemoryStore) {
	t.Helper()
	inv := models.Invoice{
		ID:              1,
		ReferenceNumber: "BOL-1",
		Principal:       decimal.RequireFromString("200.00"),
		DueDate:         time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC),
		PoloID:          "polo-sul",
		CreatedBy:       uuid.New(),
		Status:          enums.InvoiceStatusPending,
		DiscountOffered: true,
		DiscountAmount:  decimal.RequireFromString("50.00"),
		DiscountFloor:   decimal.RequireFromString("10.00"),
	}
	store := reconciliation.NewMemoryStore(inv)
	clock := invoices.NewClock(time.UTC, func() time.Time { return routerNow })
	registry := prometheus.NewRegistry()

	svc, err := reconciliation.NewService(reconciliation.ServiceParams{
		Store:          store,
		Audit:          store,
		Clock:          clock,
		StorageTimeout: time.Second,
		Metrics:        metrics.NewReconciliationMetrics(registry),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	router := NewRouter(testConfig(), nil, Deps{
		DB:               stubPinger{},
		Redis:            stubRedis{},
		Invoices:         storeInvoices{store: store},
		Manual:           reconciliation.NewManualAdapter(svc, clock),
		Callback:         reconciliation.NewCallbackAdapter(svc, stubResolver{}, store, nil),
		CallbackVerifier: stubVerifier{},
		Metrics:          registry,
	})
	return router, store
}

func adminToken(t *testing.T, polo *string, caps ...enums.Capability) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(testConfig().JWT, time.Now(), pkgAuth.AccessTokenPayload{
		AdminID:      uuid.New(),
		PoloID:       polo,
		Capabilities: caps,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestHealthRoutes(t *testing.T) {
	router, _ := newTestRouter(t)
	for _, path := range []string{"/health/live", "/health/ready"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	router, _ := newTestRouter(t)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/admin/invoices/1/cancel", strings.NewReader(`{"reason":"x"}`)))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestManualMarkPaidEndToEnd(t *testing.T) {
	router, store := newTestRouter(t)
	polo := "polo-sul"
	token := adminToken(t, &polo, enums.CapabilityInvoiceMarkPaid, enums.CapabilityInvoiceRead)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/invoices/1/mark-paid",
			strings.NewReader(`{"paidAmount":"150.00","useDiscount":true}`))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", "form-submit-1")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp
	}

	first := send()
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", first.Code, first.Body.String())
	}
	var body struct {
		Data struct {
			Success         bool    `json:"success"`
			Status          string  `json:"status"`
			PaidAmount      *string `json:"paidAmount"`
			DiscountApplied *string `json:"discountApplied"`
		} `json:"data"`
	}
	if err := json.NewDecoder(first.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Data.Success || body.Data.Status != "paid" {
		t.Fatalf("unexpected result %+v", body.Data)
	}
	if body.Data.PaidAmount == nil || *body.Data.PaidAmount != "150.00" {
		t.Fatalf("expected paid 150.00, got %v", body.Data.PaidAmount)
	}

	second := send()
	if second.Code != http.StatusOK {
		t.Fatalf("replay expected 200 got %d", second.Code)
	}

	inv, err := store.LoadInvoice(context.Background(), 1)
	if err != nil {
		t.Fatalf("load invoice: %v", err)
	}
	if inv.Status != enums.InvoiceStatusPaid || !inv.DiscountConsumed {
		t.Fatalf("unexpected invoice state %s consumed=%v", inv.Status, inv.DiscountConsumed)
	}
}

func TestManualForbiddenAcrossPolos(t *testing.T) {
	router, _ := newTestRouter(t)
	polo := "polo-norte"
	token := adminToken(t, &polo, enums.CapabilityInvoiceCancel)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/invoices/1/cancel", strings.NewReader(`{"reason":"duplicate"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestPaymentCallbackRoute(t *testing.T) {
	router, store := newTestRouter(t)
	payload := `{"externalTransactionId":"txn-9","externalInvoiceReference":"BOL-1","reportedStatus":"paid","reportedAmount":"200.00","eventTimestamp":"2024-03-05T12:00:00Z"}`

	unauth := httptest.NewRecorder()
	router.ServeHTTP(unauth, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", strings.NewReader(payload)))
	if unauth.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", unauth.Code)
	}

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", strings.NewReader(payload))
		req.Header.Set("X-Webhook-Token", "shared-secret")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200 got %d: %s", i, resp.Code, resp.Body.String())
		}
		if got := strings.TrimSpace(resp.Body.String()); got != `{"data":{"accepted":true}}` {
			t.Fatalf("unexpected body %s", got)
		}
	}

	inv, _ := store.LoadInvoice(context.Background(), 1)
	if inv.Status != enums.InvoiceStatusPaid {
		t.Fatalf("expected paid invoice, got %s", inv.Status)
	}
}

func TestMetricsRoute(t *testing.T) {
	router, _ := newTestRouter(t)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}
