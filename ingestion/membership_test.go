package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maslennikov-ig/buhbot-sla/chatapi"
	"github.com/maslennikov-ig/buhbot-sla/model"
)

func TestHandleMembershipUpdateBotAddedEnablesMonitoring(t *testing.T) {
	store := newFakeIngestionStore()
	p := newTestPipeline(store, &fakeEscalator{})

	ev := &chatapi.InboundEvent{
		Chat:   chatapi.ChatInfo{ID: 20, Type: "group", Title: "Client Chat"},
		Member: &chatapi.MemberUpdate{BotAdded: true},
	}

	require.NoError(t, p.HandleMembershipUpdate(context.Background(), ev))
	chat := store.chats[20]
	require.NotNil(t, chat)
	require.True(t, chat.MonitoringEnabled)
	require.True(t, chat.SLAEnabled)
}

func TestHandleMembershipUpdateBotRemovedDisablesMonitoring(t *testing.T) {
	store := newFakeIngestionStore()
	store.chats[20] = baseChat(20)
	p := newTestPipeline(store, &fakeEscalator{})

	ev := &chatapi.InboundEvent{
		Chat:   chatapi.ChatInfo{ID: 20, Type: "group"},
		Member: &chatapi.MemberUpdate{BotRemoved: true},
	}

	require.NoError(t, p.HandleMembershipUpdate(context.Background(), ev))
	require.False(t, store.chats[20].MonitoringEnabled)
	require.False(t, store.chats[20].SLAEnabled)
}

func TestHandleMembershipUpdateMigrationRepointsChat(t *testing.T) {
	store := newFakeIngestionStore()
	store.chats[20] = baseChat(20)
	p := newTestPipeline(store, &fakeEscalator{})

	newID := int64(30)
	ev := &chatapi.InboundEvent{
		Chat:   chatapi.ChatInfo{ID: 20, Type: "group"},
		Member: &chatapi.MemberUpdate{MigratedToID: &newID},
	}

	require.NoError(t, p.HandleMembershipUpdate(context.Background(), ev))
	require.False(t, store.chats[20].MonitoringEnabled)
	require.NotNil(t, store.chats[30])
	require.Equal(t, model.ChatType("group"), store.chats[30].ChatType)
}
