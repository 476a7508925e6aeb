package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChannel(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		want    ConversationRef
		wantErr bool
	}{
		{name: "dm", channel: "dm:42", want: DMRef("42")},
		{name: "group", channel: "group:abc-123", want: GroupRef("abc-123")},
		{name: "id with colon", channel: "group:a:b", want: GroupRef("a:b")},
		{name: "missing colon", channel: "dm42", wantErr: true},
		{name: "missing type", channel: ":42", wantErr: true},
		{name: "missing id", channel: "dm:", wantErr: true},
		{name: "empty", channel: "", wantErr: true},
		{name: "unknown type", channel: "thread:1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseChannel(tt.channel)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidChannel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConversationRef_Channel(t *testing.T) {
	assert.Equal(t, "dm:42", DMRef("42").Channel())
	assert.Equal(t, "group:42", GroupRef("42").Channel())
	assert.NotEqual(t, DMRef("42").Channel(), GroupRef("42").Channel())
}
