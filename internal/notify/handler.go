package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
)

// Handler processes TaskDecisionNotify tasks.
type Handler struct {
	recipients RecipientLookup
	sender     Sender
	format     *Formatter
	logger     *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(recipients RecipientLookup, sender Sender, format *Formatter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{recipients: recipients, sender: sender, format: format, logger: logger}
}

// HandleTask delivers one decision notice. Malformed payloads and unknown
// recipients are not retried.
func (h *Handler) HandleTask(ctx context.Context, t *asynq.Task) error {
	var payload DecisionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("notify: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	recipient, err := h.recipients.Recipient(ctx, payload.RequesterID)
	if err != nil {
		if errors.Is(err, ErrRecipientNotFound) {
			h.logger.Warn("decision notice skipped",
				slog.Int64("transaction_id", payload.TransactionID),
				slog.Int64("requester_id", payload.RequesterID))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	msg := h.compose(recipient, payload)
	if err := h.sender.Send(ctx, msg); err != nil {
		return err
	}
	h.logger.Info("decision notice sent",
		slog.Int64("transaction_id", payload.TransactionID),
		slog.String("decision", payload.Decision))
	return nil
}

func (h *Handler) compose(r Recipient, p DecisionPayload) Message {
	verb := "approved"
	if p.Decision == "REJECT" {
		verb = "rejected"
	}
	amount := p.Amount.StringFixed(2)
	if h.format != nil {
		amount = h.format.Format(p.Amount)
	}
	name := strings.TrimSpace(r.Name)
	if name == "" {
		name = r.Email
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", name)
	fmt.Fprintf(&b, "Your %s request #%d for %s has been %s.\n", strings.ToLower(p.Category), p.TransactionID, amount, verb)
	if p.TransferID != nil {
		fmt.Fprintf(&b, "Transfer reference: %s\n", p.TransferID)
	}
	if p.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", p.Reason)
	}
	fmt.Fprintf(&b, "Decided at: %s\n", p.DecidedAt.UTC().Format("2006-01-02 15:04 MST"))
	b.WriteString("\nStewardship Ledger")

	return Message{
		To:      r.Email,
		Subject: fmt.Sprintf("Transaction #%d %s", p.TransactionID, verb),
		Body:    b.String(),
	}
}
