package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChatParticipants(t *testing.T) {
	now := time.Now()
	chat := NewChat("creator-1", "user-a", "user-b", now)

	require.Len(t, chat.Participants, 2)
	assert.Equal(t, RoleUser, chat.Participants[0].Role)
	assert.Equal(t, RoleCreator, chat.Participants[1].Role)
	assert.Equal(t, map[string]int{"user-a": 0, "user-b": 0}, chat.UnreadCount)
	assert.True(t, chat.IsActive)
	assert.Equal(t, []string{"user-a", "user-b"}, chat.ParticipantIDs())
}

func TestChatParticipantPredicates(t *testing.T) {
	chat := NewChat("creator-1", "user-a", "user-b", time.Now())

	assert.True(t, chat.IsParticipant("user-a"))
	assert.True(t, chat.IsParticipant("user-b"))
	assert.False(t, chat.IsParticipant("user-c"))

	other := chat.OtherParticipant("user-a")
	require.NotNil(t, other)
	assert.Equal(t, "user-b", other.UserID)

	other = chat.OtherParticipant("user-b")
	require.NotNil(t, other)
	assert.Equal(t, "user-a", other.UserID)

	p, ok := chat.Participant("user-b")
	require.True(t, ok)
	assert.Equal(t, RoleCreator, p.Role)
}

func TestOtherParticipantMissing(t *testing.T) {
	chat := Chat{Participants: []Participant{{UserID: "solo", Role: RoleUser}}}
	assert.Nil(t, chat.OtherParticipant("solo"))
}

func TestMarkAsReadIsIdempotent(t *testing.T) {
	msg := Message{ID: "m1", SenderID: "user-a"}
	now := time.Now()

	assert.True(t, msg.MarkAsRead("user-b", now))
	assert.False(t, msg.MarkAsRead("user-b", now.Add(time.Minute)))

	require.Len(t, msg.ReadBy, 1)
	assert.Equal(t, "user-b", msg.ReadBy[0].UserID)
	assert.Equal(t, now, msg.ReadBy[0].ReadAt)
	assert.True(t, msg.IsReadBy("user-b"))
	assert.False(t, msg.IsReadBy("user-a"))
}

func TestHideForIsIdempotent(t *testing.T) {
	msg := Message{ID: "m1"}

	assert.True(t, msg.HideFor("user-a"))
	assert.False(t, msg.HideFor("user-a"))
	assert.Equal(t, []string{"user-a"}, msg.DeletedFor)
	assert.True(t, msg.IsHiddenFor("user-a"))
	assert.False(t, msg.IsHiddenFor("user-b"))
}

func TestHiddenForIsNotSerialized(t *testing.T) {
	msg := Message{ID: "m1", Content: "hi", Type: MessageTypeText}
	msg.HideFor("user-a")

	raw, err := json.Marshal(MessageView{Message: msg})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "deletedFor")
	assert.NotContains(t, string(raw), "user-a")
}

func TestTombstone(t *testing.T) {
	msg := Message{Content: "secret", Type: MessageTypeText}
	msg.Tombstone()

	assert.True(t, msg.IsDeleted)
	assert.Equal(t, TombstoneContent, msg.Content)
}

func TestValidateContent(t *testing.T) {
	cases := []struct {
		name     string
		typ      MessageType
		content  string
		mediaURL string
		want     error
	}{
		{name: "text ok", typ: MessageTypeText, content: "hi"},
		{name: "text empty", typ: MessageTypeText, content: "  ", want: ErrContentRequired},
		{name: "text too long", typ: MessageTypeText, content: strings.Repeat("x", MaxContentLength+1), want: ErrContentTooLong},
		{name: "image without url", typ: MessageTypeImage, want: ErrMediaURLRequired},
		{name: "image ok", typ: MessageTypeImage, mediaURL: "https://cdn/x.png"},
		{name: "unknown type", typ: "sticker", content: "x", want: ErrInvalidType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateContent(tc.typ, tc.content, tc.mediaURL)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "hi", Message{Type: MessageTypeText, Content: "hi"}.Preview())
	assert.Equal(t, "Sent image", Message{Type: MessageTypeImage, MediaURL: "u"}.Preview())
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(2, 50, 101)
	assert.Equal(t, int64(3), p.Pages)
	assert.Equal(t, int64(0), NewPagination(1, 50, 0).Pages)
}
