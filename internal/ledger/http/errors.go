package ledgerhttp

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/stewardship/internal/ledger"
	"github.com/odyssey-erp/stewardship/internal/platform/httpx"
)

var kindStatus = map[ledger.ErrorKind]int{
	ledger.KindNotFound:               http.StatusNotFound,
	ledger.KindForbidden:              http.StatusForbidden,
	ledger.KindPolicyViolation:        http.StatusUnprocessableEntity,
	ledger.KindAlreadyDecided:         http.StatusConflict,
	ledger.KindInsufficientFunds:      http.StatusUnprocessableEntity,
	ledger.KindPartialTransferFailure: http.StatusInternalServerError,
	ledger.KindStoreUnavailable:       http.StatusServiceUnavailable,
	ledger.KindValidation:             http.StatusBadRequest,
}

// StatusFor returns the HTTP status used for a ledger error kind.
func StatusFor(kind ledger.ErrorKind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var lerr *ledger.Error
	if !errors.As(err, &lerr) {
		if errors.Is(err, httpx.ErrValidation) {
			httpx.RespondError(w, err)
			return
		}
		lerr = &ledger.Error{Kind: ledger.KindOf(err), Err: err}
	}
	status := StatusFor(lerr.Kind)
	detail := lerr.Detail
	if status >= http.StatusInternalServerError {
		h.logger.Error("ledger request failed",
			slog.String("path", r.URL.Path),
			slog.String("kind", string(lerr.Kind)),
			slog.Any("error", err))
		detail = ""
	}
	if lerr.Kind.Retryable() {
		w.Header().Set("Retry-After", "1")
	}
	httpx.WriteProblem(w, httpx.ProblemDetail{
		Status: status,
		Detail: detail,
		Kind:   string(lerr.Kind),
		Reason: string(lerr.Reason),
	})
}
