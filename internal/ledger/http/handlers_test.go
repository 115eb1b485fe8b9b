package ledgerhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stewardship/internal/actor"
	"github.com/odyssey-erp/stewardship/internal/ledger"
)

type stubLedgerService struct {
	lastSubmit           ledger.SubmitInput
	lastTransfer         ledger.TransferInput
	lastDecision         ledger.DecisionInput
	lastTransferDecision ledger.TransferDecisionInput
	lastQuery            ledger.ListQuery
	txn                  ledger.Transaction
	transfer             ledger.Transfer
	err                  error
}

func (s *stubLedgerService) Submit(ctx context.Context, input ledger.SubmitInput) (ledger.Transaction, error) {
	s.lastSubmit = input
	return s.txn, s.err
}

func (s *stubLedgerService) SubmitTransfer(ctx context.Context, input ledger.TransferInput) (ledger.Transfer, error) {
	s.lastTransfer = input
	return s.transfer, s.err
}

func (s *stubLedgerService) ApplyDecision(ctx context.Context, input ledger.DecisionInput) (ledger.Transaction, error) {
	s.lastDecision = input
	return s.txn, s.err
}

func (s *stubLedgerService) ApplyTransferDecision(ctx context.Context, input ledger.TransferDecisionInput) (ledger.Transfer, error) {
	s.lastTransferDecision = input
	return s.transfer, s.err
}

func (s *stubLedgerService) GetTransaction(ctx context.Context, a actor.Actor, id int64) (ledger.Transaction, error) {
	return s.txn, s.err
}

func (s *stubLedgerService) ListTransactions(ctx context.Context, a actor.Actor, query ledger.ListQuery) ([]ledger.Transaction, error) {
	s.lastQuery = query
	return []ledger.Transaction{s.txn}, s.err
}

func (s *stubLedgerService) ListAccounts(ctx context.Context, a actor.Actor, includeInactive bool) ([]ledger.Account, error) {
	return []ledger.Account{{ID: 1, Code: "N-CASH", Balance: decimal.RequireFromString("7500")}}, s.err
}

func (s *stubLedgerService) ListDecisions(ctx context.Context, a actor.Actor, transactionID int64) ([]ledger.ApprovalDecision, error) {
	return nil, s.err
}

func (s *stubLedgerService) GetTransfer(ctx context.Context, a actor.Actor, transferID uuid.UUID) (ledger.Transfer, error) {
	return s.transfer, s.err
}

var bishop = actor.Actor{ID: 10, Role: actor.RoleBishop, BranchID: actor.Branch(1)}

func newTestRouter(service LedgerService, a *actor.Actor) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if a != nil {
				req = req.WithContext(actor.ContextWithActor(req.Context(), *a))
			}
			next.ServeHTTP(w, req)
		})
	})
	NewHandler(nil, service, 0).MountRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

type problem struct {
	Status int    `json:"status"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
	Detail string `json:"detail"`
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) problem {
	t.Helper()
	var p problem
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func TestApproveTransaction(t *testing.T) {
	service := &stubLedgerService{txn: ledger.Transaction{ID: 5, Status: ledger.StatusCompleted, Amount: decimal.RequireFromString("2500")}}
	rr := do(t, newTestRouter(service, &bishop), http.MethodPost, "/transactions/5/approve", "")

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, int64(5), service.lastDecision.TransactionID)
	require.Equal(t, ledger.DecisionApprove, service.lastDecision.Decision)
	require.Equal(t, bishop.ID, service.lastDecision.Actor.ID)

	var body transactionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "COMPLETED", body.Status)
	require.Equal(t, "2500.00", body.Amount)
}

func TestRejectCarriesReason(t *testing.T) {
	service := &stubLedgerService{txn: ledger.Transaction{ID: 5, Status: ledger.StatusRejected}}
	rr := do(t, newTestRouter(service, &bishop), http.MethodPost, "/transactions/5/reject", `{"reason":"duplicate claim"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, ledger.DecisionReject, service.lastDecision.Decision)
	require.Equal(t, "duplicate claim", service.lastDecision.Reason)
}

func TestDecisionErrorsCarryKind(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
		reason string
	}{
		{&ledger.Error{Kind: ledger.KindAlreadyDecided, Reason: ledger.ReasonInvalidState}, http.StatusConflict, "ALREADY_DECIDED", "invalid_state"},
		{&ledger.Error{Kind: ledger.KindPolicyViolation, Reason: ledger.ReasonSelfApproval}, http.StatusUnprocessableEntity, "POLICY_VIOLATION", "self_approval"},
		{&ledger.Error{Kind: ledger.KindForbidden}, http.StatusForbidden, "FORBIDDEN", ""},
		{&ledger.Error{Kind: ledger.KindNotFound}, http.StatusNotFound, "NOT_FOUND", ""},
		{&ledger.Error{Kind: ledger.KindInsufficientFunds}, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", ""},
		{&ledger.Error{Kind: ledger.KindPartialTransferFailure}, http.StatusInternalServerError, "PARTIAL_TRANSFER_FAILURE", ""},
		{errors.New("dial tcp: connection refused"), http.StatusServiceUnavailable, "STORE_UNAVAILABLE", ""},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			service := &stubLedgerService{err: tc.err}
			rr := do(t, newTestRouter(service, &bishop), http.MethodPost, "/transactions/5/approve", "")
			require.Equal(t, tc.status, rr.Code)
			p := decodeProblem(t, rr)
			require.Equal(t, tc.kind, p.Kind)
			require.Equal(t, tc.reason, p.Reason)
			if tc.status == http.StatusServiceUnavailable {
				require.Equal(t, "1", rr.Header().Get("Retry-After"))
				require.Empty(t, p.Detail)
			}
		})
	}
}

func TestRequestsWithoutActorAreUnauthorized(t *testing.T) {
	rr := do(t, newTestRouter(&stubLedgerService{}, nil), http.MethodGet, "/transactions", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestInvalidIdentifiers(t *testing.T) {
	router := newTestRouter(&stubLedgerService{}, &bishop)
	require.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/transactions/abc/approve", "").Code)
	require.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/transfers/not-a-uuid/approve", "").Code)
}

func TestSubmitValidatesRequest(t *testing.T) {
	service := &stubLedgerService{txn: ledger.Transaction{ID: 9, Status: ledger.StatusPending}}
	router := newTestRouter(service, &bishop)

	rr := do(t, router, http.MethodPost, "/transactions", `{"account_id":1,"category":"GIFT","amount":"10"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "VALIDATION", decodeProblem(t, rr).Kind)

	rr = do(t, router, http.MethodPost, "/transactions", `{"account_id":1,"category":"EXPENSE","amount":"10","surprise":true}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodPost, "/transactions", `{"account_id":1,"category":"EXPENSE","amount":"250.50","line_items":[{"description":"chairs","amount":"250.50"}]}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, ledger.CategoryExpense, service.lastSubmit.Category)
	require.True(t, decimal.RequireFromString("250.50").Equal(service.lastSubmit.Amount))
	require.Len(t, service.lastSubmit.Payload.LineItems, 1)
	require.Equal(t, bishop.ID, service.lastSubmit.Actor.ID)
}

func TestSubmitTransferRejectsSameAccount(t *testing.T) {
	service := &stubLedgerService{}
	rr := do(t, newTestRouter(service, &bishop), http.MethodPost, "/transfers", `{"from_account_id":1,"to_account_id":1,"amount":"10"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Zero(t, service.lastTransfer.FromAccountID)
}

func TestTransferDecision(t *testing.T) {
	id := uuid.New()
	service := &stubLedgerService{transfer: ledger.Transfer{ID: id, Debit: ledger.Transaction{ID: 1, Status: ledger.StatusCompleted}, Credit: ledger.Transaction{ID: 2, Status: ledger.StatusCompleted}}}
	rr := do(t, newTestRouter(service, &bishop), http.MethodPost, "/transfers/"+id.String()+"/approve", "")

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, id, service.lastTransferDecision.TransferID)
	var body transferResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "COMPLETED", body.Status)
}

func TestListTransactionsParsesQuery(t *testing.T) {
	service := &stubLedgerService{txn: ledger.Transaction{ID: 3}}
	router := newTestRouter(service, &bishop)

	rr := do(t, router, http.MethodGet, "/transactions?status=pending&category=expense&account_id=4&limit=10&offset=20", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, ledger.ListQuery{Status: ledger.StatusPending, Category: ledger.CategoryExpense, AccountID: 4, Limit: 10, Offset: 20}, service.lastQuery)

	rr = do(t, router, http.MethodGet, "/transactions?limit=-1", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusInternalServerError, StatusFor("UNKNOWN"))
	require.Equal(t, http.StatusBadRequest, StatusFor(ledger.KindValidation))
}
