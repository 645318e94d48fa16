package chat

import (
	"fmt"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func TestRegistry_JoinGrowsListWithoutDuplicates(t *testing.T) {
	reg := NewRegistry()

	for i := 1; i <= 5; i++ {
		reg.Join(fmt.Sprintf("conn-%d", i), fmt.Sprintf("user-%d", i))

		users := reg.List()
		require.Len(t, users, i)
		ids := lo.Map(users, func(p Participant, _ int) string { return p.ID })
		require.Len(t, lo.Uniq(ids), i)
	}
}

func TestRegistry_JoinOverwritesExistingEntry(t *testing.T) {
	reg := NewRegistry()
	reg.Join("a", "alice")
	reg.Join("b", "bob")

	p := reg.Join("a", "alicia")

	require.Equal(t, "alicia", p.Username)
	require.Equal(t, 2, reg.Len())
	got, ok := reg.Get("a")
	require.True(t, ok)
	require.Equal(t, "alicia", got.Username)
}

func TestRegistry_LeaveAbsentIsNoop(t *testing.T) {
	reg := NewRegistry()
	reg.Join("a", "alice")

	_, ok := reg.Leave("missing")
	require.False(t, ok)
	require.Equal(t, 1, reg.Len())

	p, ok := reg.Leave("a")
	require.True(t, ok)
	require.Equal(t, "alice", p.Username)
	require.Empty(t, reg.List())

	_, ok = reg.Get("a")
	require.False(t, ok)
}

func TestRegistry_SetTyping(t *testing.T) {
	reg := NewRegistry()
	reg.Join("a", "alice")

	p, ok := reg.SetTyping("a", true)
	require.True(t, ok)
	require.True(t, p.IsTyping)

	_, ok = reg.SetTyping("ghost", true)
	require.False(t, ok)
}

func TestRegistry_ListReturnsSnapshot(t *testing.T) {
	reg := NewRegistry()
	reg.Join("a", "alice")

	users := reg.List()
	users[0].Username = "mallory"

	got, _ := reg.Get("a")
	require.Equal(t, "alice", got.Username)
}
