package telegram

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgw_go/models"
	"tgw_go/pkg/session"
)

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "79991234567", normalizePhone("+7 (999) 123-45-67"))
	assert.Equal(t, "", normalizePhone("abc"))
	assert.Equal(t, "+79991234567", formatPhone("", "+7 999 1234567"))
	assert.Equal(t, "+15550001", formatPhone("15550001", "whatever"))
}

func TestGroupIDRoundTrip(t *testing.T) {
	for _, ref := range []groupRef{
		{id: 42},
		{channel: true, id: 1001, accessHash: -77},
	} {
		parsed, err := parseGroupID(ref.String())
		require.NoError(t, err)
		assert.Equal(t, ref, parsed)
	}
}

func TestParseGroupIDRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "chat", "chat:x", "chat:-1", "channel:1", "channel:1:x", "user:1", "chat:1:2"} {
		_, err := parseGroupID(raw)
		assert.True(t, errors.Is(err, session.ErrValidation), raw)
	}
}

func TestDialogsToGroups(t *testing.T) {
	chats := []tg.ChatClass{
		&tg.Chat{ID: 1, Title: "family", ParticipantsCount: 4},
		&tg.Chat{ID: 2, Title: "left", Left: true},
		&tg.Channel{ID: 3, AccessHash: 33, Title: "super", Megagroup: true, ParticipantsCount: 120},
		&tg.Channel{ID: 4, AccessHash: 44, Title: "broadcast", Broadcast: true},
	}
	dialogs := []tg.DialogClass{
		&tg.Dialog{Peer: &tg.PeerChat{ChatID: 1}, UnreadCount: 2},
		&tg.Dialog{Peer: &tg.PeerChat{ChatID: 2}},
		&tg.Dialog{Peer: &tg.PeerChannel{ChannelID: 3}, UnreadCount: 7},
		&tg.Dialog{Peer: &tg.PeerChannel{ChannelID: 4}},
		&tg.Dialog{Peer: &tg.PeerUser{UserID: 5}},
	}

	got := dialogsToGroups(dialogs, chats)
	assert.Equal(t, []models.Group{
		{ID: "chat:1", Name: "family", ParticipantCount: 4, UnreadCount: 2},
		{ID: "channel:3:33", Name: "super", ParticipantCount: 120, UnreadCount: 7},
	}, got)
}

func TestChatParticipantsRoles(t *testing.T) {
	users := []tg.UserClass{
		&tg.User{ID: 1, Username: "boss", FirstName: "Big", LastName: "Boss"},
		&tg.User{ID: 2, Phone: "79990000002", FirstName: "Ann"},
	}
	parts := &tg.ChatParticipants{Participants: []tg.ChatParticipantClass{
		&tg.ChatParticipantCreator{UserID: 1},
		&tg.ChatParticipantAdmin{UserID: 2},
		&tg.ChatParticipant{UserID: 3},
	}}

	got := chatParticipants(parts, users)
	require.Len(t, got, 3)
	assert.Equal(t, models.Participant{ID: "1", User: "@boss", Name: "Big Boss", IsAdmin: true, IsSuperAdmin: true}, got[0])
	assert.Equal(t, models.Participant{ID: "2", User: "+79990000002", Name: "Ann", IsAdmin: true}, got[1])
	assert.Equal(t, models.Participant{ID: "3", User: "3"}, got[2])

	assert.Nil(t, chatParticipants(&tg.ChatParticipantsForbidden{ChatID: 9}, users))
}

func TestChannelParticipantsRoles(t *testing.T) {
	parts := []tg.ChannelParticipantClass{
		&tg.ChannelParticipantCreator{UserID: 10},
		&tg.ChannelParticipantAdmin{UserID: 11},
		&tg.ChannelParticipant{UserID: 12},
		&tg.ChannelParticipantLeft{Peer: &tg.PeerUser{UserID: 13}},
	}
	got := channelParticipants(parts, nil)
	require.Len(t, got, 3)
	assert.True(t, got[0].IsSuperAdmin)
	assert.True(t, got[0].IsAdmin)
	assert.True(t, got[1].IsAdmin)
	assert.False(t, got[1].IsSuperAdmin)
	assert.False(t, got[2].IsAdmin)
}

func TestSamePeer(t *testing.T) {
	assert.True(t, samePeer(&tg.PeerChat{ChatID: 1}, &tg.PeerChat{ChatID: 1}))
	assert.False(t, samePeer(&tg.PeerChat{ChatID: 1}, &tg.PeerChannel{ChannelID: 1}))
	assert.False(t, samePeer(&tg.PeerUser{UserID: 1}, &tg.PeerUser{UserID: 2}))
}
