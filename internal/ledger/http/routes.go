package ledgerhttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/stewardship/internal/actor"
	"github.com/odyssey-erp/stewardship/internal/ledger"
	"github.com/odyssey-erp/stewardship/internal/platform/httpx"
)

const decisionWindow = time.Minute

// MountRoutes registers ledger endpoints. Decision endpoints are rate
// limited per actor.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Get("/accounts", h.listAccounts)
	r.Get("/transactions", h.listTransactions)
	r.Post("/transactions", h.submit)
	r.Get("/transactions/{id}", h.getTransaction)
	r.Get("/transactions/{id}/decisions", h.listDecisions)
	r.Post("/transfers", h.submitTransfer)
	r.Get("/transfers/{id}", h.getTransfer)
	r.Group(func(gr chi.Router) {
		if h.decisions > 0 {
			gr.Use(httprate.Limit(h.decisions, decisionWindow,
				httprate.WithKeyFuncs(rateLimitKey),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "decision rate exceeded")
				}),
			))
		}
		gr.Post("/transactions/{id}/approve", h.decideTransaction(ledger.DecisionApprove))
		gr.Post("/transactions/{id}/reject", h.decideTransaction(ledger.DecisionReject))
		gr.Post("/transfers/{id}/approve", h.decideTransfer(ledger.DecisionApprove))
		gr.Post("/transfers/{id}/reject", h.decideTransfer(ledger.DecisionReject))
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if a, ok := actor.FromContext(r.Context()); ok {
		return "actor:" + strconv.FormatInt(a.ID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
