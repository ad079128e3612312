// Package delivery sends formatted Alert notifications to tiered
// recipients through a chatapi.Channel, retrying transient failures with
// exponential backoff and respecting the external provider's rate ceiling
// (spec.md §4.7).
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/maslennikov-ig/buhbot-sla/chatapi"
	"github.com/maslennikov-ig/buhbot-sla/model"
)

// SendError wraps a per-recipient send failure with a retryability verdict,
// grounded on plugin/chat_apps/channels/base.go's ChannelError/IsRetryable
// idiom: fatal codes (forbidden, blocked by user) stop retrying that
// recipient without failing the job (spec.md §4.7).
type SendError struct {
	Code    string
	Message string
	Err     error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *SendError) Unwrap() error { return e.Err }

// IsRetryable reports whether the send may succeed on a later attempt.
func (e *SendError) IsRetryable() bool {
	switch e.Code {
	case "FORBIDDEN", "BLOCKED_BY_USER", "INVALID_RECIPIENT":
		return false
	default:
		return true
	}
}

const (
	maxAttempts  = 5             // spec.md §4.7: "max 5 attempts"
	backoffBase  = 1 * time.Second // spec.md §4.7: "exponential backoff with base 1s"
)

// Metrics is the subset of metrics.Collector the delivery fabric needs
// (spec.md §4.9: "delivery successes/failures").
type Metrics interface {
	RecordDelivery(success bool)
}

// Sender delivers formatted Alert messages to every tiered recipient,
// satisfying escalation.Notifier structurally (same Deliver signature)
// without importing the escalation package.
type Sender struct {
	channel  chatapi.Channel
	limiter  *rate.Limiter
	recorder DeliveryRecorder
	metrics  Metrics
}

// SetMetrics attaches an optional metrics collector.
func (s *Sender) SetMetrics(m Metrics) {
	s.metrics = m
}

// DeliveryRecorder persists the aggregate success/failure outcome on the
// Alert (spec.md §4.7: "Aggregate success/failure counts are recorded on
// the Alert").
type DeliveryRecorder interface {
	SetDeliveryStatus(ctx context.Context, alertID string, status model.DeliveryStatus) error
}

// NewSender constructs a Sender. msgsPerSecond is the provider ceiling
// (spec.md §6: "≈30 messages/second global").
func NewSender(channel chatapi.Channel, msgsPerSecond float64, recorder DeliveryRecorder) *Sender {
	if msgsPerSecond <= 0 {
		msgsPerSecond = 30
	}
	return &Sender{
		channel:  channel,
		limiter:  rate.NewLimiter(rate.Limit(msgsPerSecond), 1),
		recorder: recorder,
	}
}

// Deliver sends the formatted Alert to every recipient, recording the
// aggregate delivery status. Recipient ids on Chat are passed straight to
// chatapi.Channel.SendMessage — this system has no separate
// credential/identity table (unlike plugin/chat_apps/store's
// GetCredentialByPlatform), so a recipient id is whatever the adapter
// accepts as a recipient (a Telegram chat/user id string).
func (s *Sender) Deliver(ctx context.Context, chat *model.Chat, req *model.Request, alert *model.Alert) error {
	msg := FormatAlertMessage(chat, req, alert)

	anyDelivered := s.SendToRecipients(ctx, alert.RecipientIDs, msg, alert.ID)

	status := model.DeliveryStatusFailed
	if anyDelivered {
		status = model.DeliveryStatusDelivered
	}
	if s.recorder != nil {
		if err := s.recorder.SetDeliveryStatus(ctx, alert.ID, status); err != nil {
			return err
		}
	}
	if chat.NotifyInChatOnBreach && alert.AlertType == model.AlertTypeBreach {
		s.notifyInChat(ctx, chat, msg)
	}
	return nil
}

// SendToRecipients sends msg to every recipient with the same retry/backoff
// policy as Deliver, returning whether at least one recipient received it.
// logID is an opaque identifier (an alert id or a feedback id) used only
// for log correlation — exported so the feedback package's low-rating path
// can reuse this fabric without going through an Alert (spec.md §4.7
// "Low-rating path": "reuses delivery fabric... does not involve a
// Request").
func (s *Sender) SendToRecipients(ctx context.Context, recipientIDs []string, msg chatapi.OutgoingMessage, logID string) bool {
	anyDelivered := false
	for _, recipient := range recipientIDs {
		if err := s.sendWithRetry(ctx, recipient, msg, logID); err != nil {
			slog.Error("delivery: recipient exhausted retries", "recipient", recipient, "id", logID, "error", err)
			continue
		}
		anyDelivered = true
	}
	if s.metrics != nil {
		s.metrics.RecordDelivery(anyDelivered)
	}
	return anyDelivered
}

// notifyInChat dispatches an additional in-chat notification; failures are
// logged but never fail the delivery job (spec.md §4.1 step 4).
func (s *Sender) notifyInChat(ctx context.Context, chat *model.Chat, msg chatapi.OutgoingMessage) {
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}
	if err := s.channel.SendMessage(ctx, chatIDString(chat.ID), msg); err != nil {
		slog.Warn("delivery: in-chat breach notification failed", "chat_id", chat.ID, "error", err)
	}
}

// sendWithRetry implements spec.md §4.7's retry policy: exponential
// backoff base 1s, up to 5 attempts, fatal errors stop retrying
// immediately. Grounded on
// _examples/other_examples/0c457809_ilindan-dev-delayed-notifier__internal-consumer-consumer.go.go's
// calculateExponentialBackoff formula (base * 2^attempt), rescaled to this
// policy's 1s base and 5-attempt ceiling.
func (s *Sender) sendWithRetry(ctx context.Context, recipientID string, msg chatapi.OutgoingMessage, logID string) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		err := s.channel.SendMessage(ctx, recipientID, msg)
		if err == nil {
			return nil
		}
		lastErr = err

		var sendErr *SendError
		if errors.As(err, &sendErr) && !sendErr.IsRetryable() {
			slog.Warn("delivery: fatal send error, not retrying this recipient",
				"recipient", recipientID, "id", logID, "error", err)
			return err
		}

		if attempt == maxAttempts-1 {
			break
		}
		delay := backoffDuration(attempt)
		slog.Warn("delivery: send failed, retrying", "recipient", recipientID, "id", logID, "attempt", attempt+1, "backoff", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func backoffDuration(attempt int) time.Duration {
	return time.Duration(float64(backoffBase) * math.Pow(2, float64(attempt)))
}

func chatIDString(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
