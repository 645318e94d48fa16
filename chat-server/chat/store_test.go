package chat

import (
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func appendTexts(t *testing.T, s *Store, texts ...string) []BroadcastMessage {
	t.Helper()
	out := make([]BroadcastMessage, 0, len(texts))
	for _, text := range texts {
		m, err := s.AppendBroadcast(BroadcastMessage{Text: text, User: "alice", SenderID: "a", Timestamp: time.Now().UTC()})
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func TestStore_AppendBroadcastAssignsUniqueIDs(t *testing.T) {
	s := newTestStore(t)

	msgs := appendTexts(t, s, "one", "two", "three")

	seen := map[string]bool{}
	for _, m := range msgs {
		require.NotEmpty(t, m.ID)
		require.False(t, seen[m.ID])
		seen[m.ID] = true
		require.NotNil(t, m.Reactions)
	}
	require.Equal(t, 3, s.BroadcastCount())
}

func TestStore_Page(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 45; i++ {
		appendTexts(t, s, fmt.Sprintf("msg %d", i))
	}

	tests := []struct {
		name    string
		page    int
		limit   int
		want    int
		first   string
		hasMore bool
	}{
		{name: "first page", page: 0, limit: 20, want: 20, first: "msg 0", hasMore: true},
		{name: "second page", page: 1, limit: 20, want: 20, first: "msg 20", hasMore: true},
		{name: "partial last page", page: 2, limit: 20, want: 5, first: "msg 40", hasMore: false},
		{name: "past the end", page: 3, limit: 20, want: 0, hasMore: false},
		{name: "exact fit", page: 8, limit: 5, want: 5, first: "msg 40", hasMore: false},
		{name: "huge page", page: 1 << 40, limit: 1 << 30, want: 0, hasMore: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, hasMore, err := s.Page(tt.page, tt.limit)
			require.NoError(t, err)
			require.Len(t, msgs, tt.want)
			require.Equal(t, tt.hasMore, hasMore)
			if tt.want > 0 {
				require.Equal(t, tt.first, msgs[0].Text)
			}
		})
	}
}

func TestStore_PageEmptyHistory(t *testing.T) {
	s := newTestStore(t)

	msgs, hasMore, err := s.Page(0, 20)

	require.NoError(t, err)
	require.Empty(t, msgs)
	require.NotNil(t, msgs)
	require.False(t, hasMore)
}

func TestStore_Search(t *testing.T) {
	s := newTestStore(t)
	appendTexts(t, s, "Hello World", "goodbye", "say hello again")

	tests := []struct {
		query string
		want  []string
	}{
		{query: "hello", want: []string{"Hello World", "say hello again"}},
		{query: "WORLD", want: []string{"Hello World"}},
		{query: "", want: []string{"Hello World", "goodbye", "say hello again"}},
		{query: "xyz", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := s.Search(tt.query)
			require.NoError(t, err)
			texts := make([]string, 0, len(got))
			for _, m := range got {
				texts = append(texts, m.Text)
			}
			require.Equal(t, tt.want, texts)
		})
	}
}

func TestStore_AddReactionIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	msg := appendTexts(t, s, "react to me")[0]

	first, changed, err := s.AddReaction(msg.ID, "👍", "bob")
	require.NoError(t, err)
	require.True(t, changed)
	second, changed, err := s.AddReaction(msg.ID, "👍", "bob")
	require.NoError(t, err)
	require.False(t, changed)

	require.Equal(t, Reactions{"👍": {"bob"}}, first)
	require.Equal(t, first, second)

	_, changed, err = s.AddReaction(msg.ID, "👍", "carol")
	require.NoError(t, err)
	require.True(t, changed)
	stored, err := s.FindBroadcast(msg.ID)
	require.NoError(t, err)
	require.Equal(t, Reactions{"👍": {"bob", "carol"}}, stored.Reactions)
}

func TestStore_AddReactionUnknownMessage(t *testing.T) {
	s := newTestStore(t)
	appendTexts(t, s, "hi")

	_, _, err := s.AddReaction("nope", "👍", "bob")

	require.True(t, errors.Is(err, ErrMessageNotFound))
}

func TestStore_PrivateMessageVisibleToBothParties(t *testing.T) {
	s := newTestStore(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	msg, err := s.AppendPrivate(PrivateMessage{
		Text: "psst", SenderID: "a", SenderName: "alice",
		RecipientID: "b", RecipientName: "bob", Timestamp: ts,
	})
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)

	fromA, err := s.PrivateLog("a")
	require.NoError(t, err)
	fromB, err := s.PrivateLog("b")
	require.NoError(t, err)

	require.Len(t, fromA, 1)
	require.Equal(t, fromA, fromB)
	require.Equal(t, msg.ID, fromA[0].ID)
	require.True(t, ts.Equal(fromA[0].Timestamp))

	other, err := s.PrivateLog("c")
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestStore_Conversation(t *testing.T) {
	s := newTestStore(t)
	send := func(from, to, text string) {
		_, err := s.AppendPrivate(PrivateMessage{Text: text, SenderID: from, RecipientID: to})
		require.NoError(t, err)
	}
	send("a", "b", "a to b")
	send("c", "a", "c to a")
	send("b", "a", "b to a")

	conv, err := s.Conversation("a", "b")
	require.NoError(t, err)

	require.Len(t, conv, 2)
	require.Equal(t, "a to b", conv[0].Text)
	require.Equal(t, "b to a", conv[1].Text)
}

func TestStore_InboxPrefixDoesNotLeakAcrossIDs(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AppendPrivate(PrivateMessage{Text: "x", SenderID: "ab", RecipientID: "cd"})
	require.NoError(t, err)

	got, err := s.PrivateLog("a")

	require.NoError(t, err)
	require.Empty(t, got)
}
