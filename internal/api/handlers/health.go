package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/academia-ai/tutor/internal/infra/llm"
)

// providerCheckTimeout keeps /health responsive when the model backend hangs.
const providerCheckTimeout = 3 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ProviderChecker reports whether the default model can be reached.
type ProviderChecker interface {
	ProviderHealth(ctx context.Context) error
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// Health returns the GET /health handler. Either dependency may be nil.
//
// Response codes:
//   - 200 OK: the database answers; a failing provider only marks the status "degraded"
//   - 503 Service Unavailable: the database ping failed
func Health(db Pinger, provider ProviderChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		code := http.StatusOK

		if db != nil {
			resp.Database = "ok"
			if err := db.PingContext(r.Context()); err != nil {
				resp.Status, resp.Database = "degraded", "unreachable"
				code = http.StatusServiceUnavailable
			}
		}
		if provider != nil {
			ctx, cancel := context.WithTimeout(r.Context(), providerCheckTimeout)
			resp.Provider = providerState(provider.ProviderHealth(ctx))
			cancel()
			if resp.Provider != "ok" {
				resp.Status = "degraded"
			}
		}
		writeJSON(w, code, resp)
	}
}

func providerState(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, llm.ErrAuthentication), errors.Is(err, llm.ErrConfiguration), errors.Is(err, llm.ErrInvalidModel):
		return "unconfigured"
	default:
		return "unreachable"
	}
}
