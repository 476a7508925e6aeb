// ABOUTME: Tests for prompt rendering
// ABOUTME: Checks DM vs group variants, history formatting, and the reasoning prefill

package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/solipcord/internal/store"
)

func testBundle(ref store.ConversationRef) *Bundle {
	alice := &store.Persona{ID: "alice", Name: "Alice", Description: "A baker from Lyon."}
	return &Bundle{
		Persona:          alice,
		Conversation:     ref,
		ConversationName: "Bakers",
		Participants: []Participant{
			{ID: "alice", Name: "Alice"},
			{ID: "bob", Name: "Bob"},
			{ID: "cara", Name: "Cara"},
		},
		History: []HistoryEntry{
			{SenderName: "User", AuthorKind: store.AuthorUser, Content: "Morning all", CreatedAt: time.Date(2026, 1, 2, 9, 5, 0, 0, time.Local)},
			{SenderName: "Bob", AuthorKind: store.AuthorPersona, Content: "Hey!", CreatedAt: time.Date(2026, 1, 2, 9, 6, 0, 0, time.Local)},
		},
	}
}

func TestRender_Group(t *testing.T) {
	p, err := Render(testBundle(store.GroupRef("g1")))
	require.NoError(t, err)

	assert.Contains(t, p.System, `group chat called "Bakers"`)
	assert.Contains(t, p.System, "Other participants: Bob, Cara")
	assert.NotContains(t, p.System, "Other participants: Alice")
	assert.Contains(t, p.System, "A baker from Lyon.")
	assert.Contains(t, p.System, "<response>")

	assert.Contains(t, p.User, "[User (09:05)]: Morning all\n")
	assert.Contains(t, p.User, "[Bob (09:06)]: Hey!\n")

	assert.Contains(t, p.Prefill, "[group]")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(p.Prefill), "in mind..."))
	assert.Contains(t, p.Prefill, "<thinking>")
	assert.NotContains(t, p.Prefill, "</thinking>")
}

func TestRender_DM(t *testing.T) {
	b := testBundle(store.DMRef("d1"))
	b.ConversationName = "Alice"
	b.Participants = b.Participants[:1]

	p, err := Render(b)
	require.NoError(t, err)

	assert.Contains(t, p.System, "direct message conversation with a user")
	assert.NotContains(t, p.System, "Other participants")
	assert.Contains(t, p.Prefill, "[dm]")
	assert.Contains(t, p.Prefill, "named Alice")
}

func TestRender_EmptyHistoryAndNoOthers(t *testing.T) {
	b := testBundle(store.GroupRef("g1"))
	b.History = nil
	b.Participants = b.Participants[:1]

	p, err := Render(b)
	require.NoError(t, err)
	assert.Contains(t, p.User, "[No previous messages]")
	assert.Contains(t, p.System, "Other participants: None")
}
