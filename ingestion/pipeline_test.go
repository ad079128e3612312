package ingestion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maslennikov-ig/buhbot-sla/chatapi"
	"github.com/maslennikov-ig/buhbot-sla/classify"
	"github.com/maslennikov-ig/buhbot-sla/model"
)

type fakeIngestionStore struct {
	mu       sync.Mutex
	chats    map[int64]*model.Chat
	messages []*model.ChatMessage
	requests map[string]*model.Request
	settings model.GlobalSettings

	faqItems    []*model.FAQItem
	faqUsageIDs []string
}

func newFakeIngestionStore() *fakeIngestionStore {
	return &fakeIngestionStore{
		chats:    map[int64]*model.Chat{},
		requests: map[string]*model.Request{},
		settings: model.DefaultGlobalSettings(),
	}
}

func (s *fakeIngestionStore) GetChat(ctx context.Context, chatID int64) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chats[chatID], nil
}

func (s *fakeIngestionStore) UpsertChat(ctx context.Context, c *model.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[c.ID] = c
	return nil
}

func (s *fakeIngestionStore) DisableMonitoring(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chats[chatID]; ok {
		c.MonitoringEnabled = false
		c.SLAEnabled = false
	}
	return nil
}

func (s *fakeIngestionStore) MigrateChatToSupergroup(ctx context.Context, oldChatID, newChatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.chats[oldChatID]
	if old == nil {
		return nil
	}
	migrated := *old
	migrated.ID = newChatID
	s.chats[newChatID] = &migrated
	old.MonitoringEnabled = false
	old.SLAEnabled = false
	return nil
}

func (s *fakeIngestionStore) CreateChatMessage(ctx context.Context, m *model.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

func (s *fakeIngestionStore) CreateRequest(ctx context.Context, r *model.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[r.ID] = r
	return nil
}

func (s *fakeIngestionStore) FindOldestOpenRequest(ctx context.Context, chatID int64) (*model.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.Request
	for _, r := range s.requests {
		if r.ChatID != chatID || r.Status.IsTerminal() {
			continue
		}
		if best == nil || r.ReceivedAt.Before(best.ReceivedAt) {
			best = r
		}
	}
	return best, nil
}

func (s *fakeIngestionStore) FindOpenRequestByReplyTarget(ctx context.Context, chatID int64, repliedToMessageID int64) (*model.Request, error) {
	return nil, nil
}

func (s *fakeIngestionStore) AnswerRequestTx(ctx context.Context, requestID string, responseMessageID *int64, responseTimeMinutes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.requests[requestID]
	if r == nil {
		return nil
	}
	r.Status = model.RequestStatusAnswered
	r.ResponseMessageID = responseMessageID
	r.ResponseTimeMinutes = &responseTimeMinutes
	return nil
}

func (s *fakeIngestionStore) GetGlobalSettings(ctx context.Context) (*model.GlobalSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.settings
	return &settings, nil
}

func (s *fakeIngestionStore) ListActiveFAQItems(ctx context.Context) ([]*model.FAQItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faqItems, nil
}

func (s *fakeIngestionStore) IncrementFAQUsage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faqUsageIDs = append(s.faqUsageIDs, id)
	return nil
}

type fakeEscalator struct {
	mu        sync.Mutex
	scheduled []string
	cancelled []string
}

func (e *fakeEscalator) ScheduleForNewRequest(ctx context.Context, req *model.Request, chat *model.Chat) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scheduled = append(e.scheduled, req.ID)
	return nil
}

func (e *fakeEscalator) CancelAllTimers(ctx context.Context, req *model.Request, maxLevel int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = append(e.cancelled, req.ID)
	return nil
}

func baseChat(id int64) *model.Chat {
	return &model.Chat{
		ID:                id,
		ChatType:          model.ChatTypeGroup,
		SLAEnabled:        true,
		MonitoringEnabled: true,
		AccountantIDs:     []string{"acct-1"},
		ManagerIDs:        []string{"mgr-1"},
	}
}

func newTestPipeline(store *fakeIngestionStore, esc *fakeEscalator) *Pipeline {
	classifier := classify.New(nil, nil)
	faq := NewFAQMatcher(store)
	return New(store, store, classifier, faq, esc)
}

func TestHandleMessageCreatesRequestAndSchedulesTimers(t *testing.T) {
	store := newFakeIngestionStore()
	store.chats[10] = baseChat(10)
	esc := &fakeEscalator{}
	p := newTestPipeline(store, esc)

	ev := &chatapi.InboundEvent{
		EventType: chatapi.EventTypeMessage,
		Chat:      chatapi.ChatInfo{ID: 10, Type: "group"},
		From:      chatapi.FromInfo{ID: 555, Username: "client1"},
		Text:      "Нужна помощь срочно, не могу понять форму",
		Date:      time.Now().UTC(),
	}

	require.NoError(t, p.HandleMessage(context.Background(), ev))
	require.Len(t, store.requests, 1)
	require.Len(t, esc.scheduled, 1)
	require.Len(t, store.messages, 1, "every inbound message is recorded as a chat message, including one that opens a Request")
}

func TestHandleMessageSkipsUnsupportedChatType(t *testing.T) {
	store := newFakeIngestionStore()
	store.chats[10] = baseChat(10)
	esc := &fakeEscalator{}
	p := newTestPipeline(store, esc)

	ev := &chatapi.InboundEvent{
		Chat: chatapi.ChatInfo{ID: 10, Type: "private"},
		From: chatapi.FromInfo{ID: 555},
		Text: "нужна помощь",
	}

	require.NoError(t, p.HandleMessage(context.Background(), ev))
	require.Empty(t, store.requests)
}

func TestHandleMessageFAQShortCircuitSkipsRequest(t *testing.T) {
	store := newFakeIngestionStore()
	store.chats[10] = baseChat(10)
	store.faqItems = []*model.FAQItem{
		{ID: "faq-1", Question: "Как оформить справку?", Keywords: []string{"справку", "оформить"}, Active: true},
	}
	esc := &fakeEscalator{}
	p := newTestPipeline(store, esc)

	ev := &chatapi.InboundEvent{
		Chat: chatapi.ChatInfo{ID: 10, Type: "group"},
		From: chatapi.FromInfo{ID: 555},
		Text: "подскажите как оформить справку",
		Date: time.Now().UTC(),
	}

	require.NoError(t, p.HandleMessage(context.Background(), ev))
	require.Empty(t, store.requests, "faq hit must short-circuit before a Request is created")
	require.Empty(t, esc.scheduled)
	require.Len(t, store.messages, 1)
	require.True(t, store.messages[0].FAQHandled)
	require.Equal(t, []string{"faq-1"}, store.faqUsageIDs)
}

func TestHandleMessageAccountantSenderRoutesToReply(t *testing.T) {
	store := newFakeIngestionStore()
	store.chats[10] = baseChat(10)
	store.requests["req-1"] = &model.Request{
		ID: "req-1", ChatID: 10, Status: model.RequestStatusPending, ReceivedAt: time.Now().Add(-10 * time.Minute),
	}
	esc := &fakeEscalator{}
	p := newTestPipeline(store, esc)

	ev := &chatapi.InboundEvent{
		Chat: chatapi.ChatInfo{ID: 10, Type: "group"},
		From: chatapi.FromInfo{ID: 1, Username: "acct-1"},
		Text: "Готово, все оформили",
		Date: time.Now().UTC(),
	}
	ev.From.ID = 1

	// sender id must match AccountantIDs; use the string form directly
	store.chats[10].AccountantIDs = []string{"1"}

	require.NoError(t, p.HandleMessage(context.Background(), ev))
	require.Equal(t, model.RequestStatusAnswered, store.requests["req-1"].Status)
	require.Len(t, esc.cancelled, 1)
}
