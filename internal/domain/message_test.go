package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatMessage_WireShape(t *testing.T) {
	msg := ChatMessage{
		Content:   "hi",
		Sender:    "alice",
		RoomID:    "General",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"hi","sender":"alice","roomId":"General","timestamp":"2026-01-02T03:04:05Z"}`, string(data))

	msg.ID = 7
	data, err = json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":7`)
}

func TestDecodeChatMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", `{"content":"hi","sender":"alice","roomId":"General"}`, false},
		{"not json", `{{`, true},
		{"missing room", `{"content":"hi","sender":"alice"}`, true},
		{"missing sender", `{"content":"hi","roomId":"General"}`, true},
		{"blank content", `{"content":"   ","sender":"alice","roomId":"General"}`, true},
		{"too long", `{"content":"` + strings.Repeat("x", MaxContentLength+1) + `","sender":"a","roomId":"r"}`, true},
		{"room id at limit", `{"content":"hi","sender":"alice","roomId":"` + strings.Repeat("r", MaxNameLength) + `"}`, false},
		{"room id too long", `{"content":"hi","sender":"alice","roomId":"` + strings.Repeat("r", MaxNameLength+1) + `"}`, true},
		{"sender too long", `{"content":"hi","sender":"` + strings.Repeat("s", MaxNameLength+1) + `","roomId":"General"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeChatMessage([]byte(tt.input))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "alice", msg.Sender)
		})
	}
}

func TestPrincipal_IsAnonymous(t *testing.T) {
	assert.True(t, Anonymous.IsAnonymous())
	assert.True(t, Principal{}.IsAnonymous())
	assert.Equal(t, AnonymousName, Principal{}.Name())
	assert.False(t, Principal{Username: "alice"}.IsAnonymous())
}
