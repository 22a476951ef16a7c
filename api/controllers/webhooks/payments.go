package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/angelmondragon/boletos-backend/api/responses"
	"github.com/angelmondragon/boletos-backend/api/validators"
	reconsvc "github.com/angelmondragon/boletos-backend/internal/reconciliation"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
	"github.com/angelmondragon/boletos-backend/pkg/logger"
)

const maxCallbackBytes = 64 << 10

// CallbackHandler reconciles one processor notification.
type CallbackHandler interface {
	Handle(ctx context.Context, payload reconsvc.CallbackPayload) (reconsvc.CallbackAck, error)
}

// PaymentCallback receives payment processor notifications. The caller is
// authenticated by middleware before the body is read.
func PaymentCallback(handler CallbackHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if handler == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "callback handler unavailable"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		var payload reconsvc.CallbackPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode callback"))
			return
		}
		if err := validators.ValidateStruct(&payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			ctx = logg.WithIdempotencyKey(ctx, reconsvc.CallbackKey(payload.ExternalTransactionID))
		}
		ack, err := handler.Handle(ctx, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, publicCallbackError(err))
			return
		}
		if logg != nil {
			logg.Info(logg.WithField(ctx, "outcome", ack.Outcome), "callback.acknowledged")
		}
		responses.WriteSuccess(w, ack)
	}
}

// publicCallbackError hides internal detail from the processor. It only
// needs to know whether to retry.
func publicCallbackError(err error) error {
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeValidation:
		return pkgerrors.New(pkgerrors.CodeValidation, "malformed callback")
	case pkgerrors.CodeIdempotency:
		return pkgerrors.New(pkgerrors.CodeIdempotency, pkgerrors.MetadataFor(pkgerrors.CodeIdempotency).PublicMessage)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "callback processing unavailable")
	}
}
