package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/telemart/storefront-backend/api/responses"
	yookassawebhook "github.com/telemart/storefront-backend/internal/webhooks/yookassa"
	pkgerrors "github.com/telemart/storefront-backend/pkg/errors"
	"github.com/telemart/storefront-backend/pkg/logger"
)

const signatureHeader = "X-Webhook-Signature"

type yookassaGateway interface {
	HandleDelivery(ctx context.Context, body []byte, signature string) (yookassawebhook.Outcome, error)
}

// YooKassaWebhook receives payment notifications. Anything the gateway could
// admit is acked with 200 so the provider stops redelivering; only transient
// failures and bad signatures bounce.
func YooKassaWebhook(gateway yookassaGateway, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if gateway == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook gateway unavailable"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		outcome, err := gateway.HandleDelivery(ctx, body, r.Header.Get(signatureHeader))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"outcome": string(outcome)})
	}
}
