package ledgerhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/stewardship/internal/actor"
	"github.com/odyssey-erp/stewardship/internal/ledger"
	"github.com/odyssey-erp/stewardship/internal/platform/httpx"
)

// LedgerService is the engine contract consumed by the handlers.
type LedgerService interface {
	Submit(ctx context.Context, input ledger.SubmitInput) (ledger.Transaction, error)
	SubmitTransfer(ctx context.Context, input ledger.TransferInput) (ledger.Transfer, error)
	ApplyDecision(ctx context.Context, input ledger.DecisionInput) (ledger.Transaction, error)
	ApplyTransferDecision(ctx context.Context, input ledger.TransferDecisionInput) (ledger.Transfer, error)
	GetTransaction(ctx context.Context, a actor.Actor, id int64) (ledger.Transaction, error)
	ListTransactions(ctx context.Context, a actor.Actor, query ledger.ListQuery) ([]ledger.Transaction, error)
	ListAccounts(ctx context.Context, a actor.Actor, includeInactive bool) ([]ledger.Account, error)
	ListDecisions(ctx context.Context, a actor.Actor, transactionID int64) ([]ledger.ApprovalDecision, error)
	GetTransfer(ctx context.Context, a actor.Actor, transferID uuid.UUID) (ledger.Transfer, error)
}

// Handler exposes the ledger over JSON.
type Handler struct {
	logger    *slog.Logger
	service   LedgerService
	validator *validator.Validate
	decisions int
}

// NewHandler builds a Handler. decisionsPerMinute bounds approve/reject calls
// per actor; zero disables the limit.
func NewHandler(logger *slog.Logger, service LedgerService, decisionsPerMinute int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New(), decisions: decisionsPerMinute}
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	accounts, err := h.service.ListAccounts(r.Context(), a, includeInactive)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": toAccountResponses(accounts)})
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	query := ledger.ListQuery{
		Status:   ledger.Status(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
		Category: ledger.Category(strings.ToUpper(strings.TrimSpace(q.Get("category")))),
	}
	var err error
	if query.AccountID, err = optionalInt(q.Get("account_id")); err != nil {
		h.respondError(w, r, err)
		return
	}
	limit, err := optionalInt(q.Get("limit"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	offset, err := optionalInt(q.Get("offset"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	query.Limit, query.Offset = int(limit), int(offset)
	txns, err := h.service.ListTransactions(r.Context(), a, query)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": toTransactionResponses(txns)})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if !h.decode(w, r, &req) {
		return
	}
	txn, err := h.service.Submit(r.Context(), req.toInput(a))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTransactionResponse(txn))
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.transactionID(w, r)
	if !ok {
		return
	}
	txn, err := h.service.GetTransaction(r.Context(), a, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransactionResponse(txn))
}

func (h *Handler) listDecisions(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.transactionID(w, r)
	if !ok {
		return
	}
	decisions, err := h.service.ListDecisions(r.Context(), a, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"decisions": toDecisionResponses(decisions)})
}

func (h *Handler) decideTransaction(decision ledger.Decision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := h.actor(w, r)
		if !ok {
			return
		}
		id, ok := h.transactionID(w, r)
		if !ok {
			return
		}
		var req decisionRequest
		if !h.decodeOptional(w, r, &req) {
			return
		}
		txn, err := h.service.ApplyDecision(r.Context(), ledger.DecisionInput{TransactionID: id, Actor: a, Decision: decision, Reason: req.Reason})
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		h.logger.Info("ledger decision applied",
			slog.Int64("transaction_id", txn.ID),
			slog.Int64("actor_id", a.ID),
			slog.String("decision", string(decision)))
		httpx.JSON(w, http.StatusOK, toTransactionResponse(txn))
	}
}

func (h *Handler) submitTransfer(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	transfer, err := h.service.SubmitTransfer(r.Context(), ledger.TransferInput{
		Actor:         a,
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
		Method:        req.Method,
		Notes:         req.Notes,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTransferResponse(transfer))
}

func (h *Handler) getTransfer(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.transferID(w, r)
	if !ok {
		return
	}
	transfer, err := h.service.GetTransfer(r.Context(), a, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransferResponse(transfer))
}

func (h *Handler) decideTransfer(decision ledger.Decision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := h.actor(w, r)
		if !ok {
			return
		}
		id, ok := h.transferID(w, r)
		if !ok {
			return
		}
		var req decisionRequest
		if !h.decodeOptional(w, r, &req) {
			return
		}
		transfer, err := h.service.ApplyTransferDecision(r.Context(), ledger.TransferDecisionInput{TransferID: id, Actor: a, Decision: decision, Reason: req.Reason})
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		h.logger.Info("ledger transfer decision applied",
			slog.String("transfer_id", id.String()),
			slog.Int64("actor_id", a.ID),
			slog.String("decision", string(decision)))
		httpx.JSON(w, http.StatusOK, toTransferResponse(transfer))
	}
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (actor.Actor, bool) {
	a, ok := actor.FromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return actor.Actor{}, false
	}
	return a, true
}

func (h *Handler) transactionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transaction id")
		return 0, false
	}
	return id, true
}

func (h *Handler) transferID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transfer id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return h.validate(w, target)
}

// decodeOptional accepts an empty body for endpoints whose payload is optional.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, target any) bool {
	if r.ContentLength == 0 {
		return h.validate(w, target)
	}
	return h.decode(w, r, target)
}

func (h *Handler) validate(w http.ResponseWriter, target any) bool {
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make([]string, 0, len(fieldErrs))
			for _, fieldErr := range fieldErrs {
				fields = append(fields, fieldErr.Field()+" "+fieldErr.Tag())
			}
			httpx.WriteProblem(w, httpx.ProblemDetail{
				Title:  "Validation Failed",
				Status: http.StatusBadRequest,
				Detail: strings.Join(fields, "; "),
				Kind:   string(ledger.KindValidation),
			})
			return false
		}
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func optionalInt(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, httpx.ErrValidation
	}
	return v, nil
}
