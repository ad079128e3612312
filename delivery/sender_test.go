package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maslennikov-ig/buhbot-sla/chatapi"
	"github.com/maslennikov-ig/buhbot-sla/model"
)

type fakeChannel struct {
	chatapi.Channel
	mu       sync.Mutex
	attempts int
	failN    int // fail this many times before succeeding
	fatal    error
	sent     []string
}

func (f *fakeChannel) SendMessage(ctx context.Context, recipientID string, msg chatapi.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.fatal != nil {
		return f.fatal
	}
	if f.attempts <= f.failN {
		return errors.New("transient upstream error")
	}
	f.sent = append(f.sent, recipientID)
	return nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	status model.DeliveryStatus
}

func (r *fakeRecorder) SetDeliveryStatus(ctx context.Context, alertID string, status model.DeliveryStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	return nil
}

func TestDeliverSucceedsOnFirstAttempt(t *testing.T) {
	channel := &fakeChannel{}
	recorder := &fakeRecorder{}
	sender := NewSender(channel, 1000, recorder)

	chat := &model.Chat{ID: 10, Title: "Test Chat"}
	req := &model.Request{ClientUsername: "client1", MessageText: "нужна помощь срочно"}
	alert := &model.Alert{ID: "alert-1", RecipientIDs: []string{"111"}, AlertType: model.AlertTypeWarning}

	require.NoError(t, sender.Deliver(context.Background(), chat, req, alert))
	require.Equal(t, []string{"111"}, channel.sent)
	require.Equal(t, model.DeliveryStatusDelivered, recorder.status)
}

func TestDeliverRetriesTransientFailures(t *testing.T) {
	channel := &fakeChannel{failN: 2}
	recorder := &fakeRecorder{}
	sender := NewSender(channel, 1000, recorder)
	sender.limiter.SetLimit(1000000) // lifts the rate limit only; the 1s+2s backoff sleeps still run

	chat := &model.Chat{ID: 10}
	req := &model.Request{}
	alert := &model.Alert{ID: "alert-2", RecipientIDs: []string{"222"}}

	start := time.Now()
	require.NoError(t, sender.Deliver(context.Background(), chat, req, alert))
	require.Equal(t, 3, channel.attempts) // 2 failures + 1 success
	require.Equal(t, model.DeliveryStatusDelivered, recorder.status)
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestDeliverStopsRetryingOnFatalError(t *testing.T) {
	channel := &fakeChannel{fatal: &SendError{Code: "FORBIDDEN", Message: "bot blocked"}}
	recorder := &fakeRecorder{}
	sender := NewSender(channel, 1000, recorder)

	chat := &model.Chat{ID: 10}
	req := &model.Request{}
	alert := &model.Alert{ID: "alert-3", RecipientIDs: []string{"333"}}

	require.NoError(t, sender.Deliver(context.Background(), chat, req, alert))
	require.Equal(t, 1, channel.attempts, "fatal error must stop retries immediately")
	require.Equal(t, model.DeliveryStatusFailed, recorder.status)
}

func TestFormatAlertMessageEscapesAndTruncates(t *testing.T) {
	chat := &model.Chat{Title: "<b>Chat</b>"}
	longText := make([]byte, 500)
	for i := range longText {
		longText[i] = 'a'
	}
	req := &model.Request{MessageText: string(longText), ClientUsername: "user"}
	alert := &model.Alert{MinutesElapsed: 10, EscalationLevel: 1, AlertType: model.AlertTypeBreach}

	msg := FormatAlertMessage(chat, req, alert)
	require.Contains(t, msg.Text, "&lt;b&gt;Chat&lt;/b&gt;")
	require.Less(t, len([]rune(msg.Text)), 500) // preview capped well under original length
	require.Len(t, msg.Buttons, 2)
}
