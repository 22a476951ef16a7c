package webhooks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	reconsvc "github.com/angelmondragon/boletos-backend/internal/reconciliation"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
)

type stubHandler struct {
	payload reconsvc.CallbackPayload
	calls   int
	ack     reconsvc.CallbackAck
	err     error
}

func (s *stubHandler) Handle(_ context.Context, payload reconsvc.CallbackPayload) (reconsvc.CallbackAck, error) {
	s.calls++
	s.payload = payload
	return s.ack, s.err
}

const validCallback = `{
	"externalTransactionId": "txn-1",
	"externalInvoiceReference": "BOL-20240301-ABCDEF12",
	"reportedStatus": "paid",
	"reportedAmount": "150.00",
	"eventTimestamp": "2024-03-05T12:00:00Z",
	"discountApplied": true
}`

func TestPaymentCallbackAcknowledges(t *testing.T) {
	handler := &stubHandler{ack: reconsvc.CallbackAck{Accepted: true, Outcome: "applied"}}
	resp := httptest.NewRecorder()
	PaymentCallback(handler, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(validCallback)))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if got := strings.TrimSpace(resp.Body.String()); got != `{"data":{"accepted":true}}` {
		t.Fatalf("unexpected body %s", got)
	}
	if handler.payload.ExternalTransactionID != "txn-1" || handler.payload.ReportedAmount.StringFixed(2) != "150.00" {
		t.Fatalf("unexpected payload %+v", handler.payload)
	}
	if !handler.payload.DiscountApplied {
		t.Fatal("expected discount flag to be decoded")
	}
}

func TestPaymentCallbackRejectsUndecodable(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"externalTransactionId":`,
		"missing fields":  `{"reportedStatus":"paid"}`,
		"bad amount type": `{"externalTransactionId":"t","externalInvoiceReference":"r","reportedStatus":"paid","reportedAmount":"abc","eventTimestamp":"2024-03-05T12:00:00Z"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			handler := &stubHandler{}
			resp := httptest.NewRecorder()
			PaymentCallback(handler, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d", resp.Code)
			}
			if handler.calls != 0 {
				t.Fatal("handler should not run for undecodable payloads")
			}
		})
	}
}

func TestPaymentCallbackTransientIs503WithoutDetail(t *testing.T) {
	handler := &stubHandler{err: pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("pq: connection refused at 10.0.0.5"), "load invoice")}
	resp := httptest.NewRecorder()
	PaymentCallback(handler, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(validCallback)))

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
	if strings.Contains(resp.Body.String(), "10.0.0.5") || strings.Contains(resp.Body.String(), "load invoice") {
		t.Fatalf("internal detail leaked: %s", resp.Body.String())
	}
}

func TestPaymentCallbackUnsupportedStatusIs400(t *testing.T) {
	handler := &stubHandler{err: pkgerrors.New(pkgerrors.CodeValidation, "unsupported reported status")}
	resp := httptest.NewRecorder()
	PaymentCallback(handler, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(validCallback)))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestPaymentCallbackKeyReuseIsGeneric409(t *testing.T) {
	handler := &stubHandler{err: pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used for a different request").
		WithDetails(map[string]string{"recordedInvoiceId": "42"})}
	resp := httptest.NewRecorder()
	PaymentCallback(handler, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(validCallback)))

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	want := `{"error":{"code":"IDEMPOTENCY_KEY_REUSED","message":"idempotency key reused"}}`
	if got := strings.TrimSpace(resp.Body.String()); got != want {
		t.Fatalf("unexpected body %s", got)
	}
}
