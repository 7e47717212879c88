// ABOUTME: Tests for agent selection, capacity limits, and assignment bookkeeping.
// ABOUTME: Covers least-loaded choice, round-robin fairness, and idempotent assign/release.

package pool

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donafarma/dispatch/internal/identity"
)

func twoAgents(t *testing.T) *Pool {
	t.Helper()
	return New([]Spec{
		{ID: "andrea", Name: "Andrea", Capacity: 3},
		{ID: "cassiano", Name: "Cassiano", Capacity: 3},
	}, nil)
}

func TestSelectBest_NoOneOnline(t *testing.T) {
	p := twoAgents(t)
	assert.Equal(t, "", p.SelectBest())
}

func TestSelectBest_LeastLoaded(t *testing.T) {
	p := twoAgents(t)
	require.NoError(t, p.SetOnline("andrea"))
	require.NoError(t, p.SetOnline("cassiano"))

	// Andrea at 3/3, Cassiano at 1/3: Cassiano must win.
	require.NoError(t, p.Assign("c1", "andrea"))
	require.NoError(t, p.Assign("c2", "andrea"))
	require.NoError(t, p.Assign("c3", "andrea"))
	require.NoError(t, p.Assign("c4", "cassiano"))

	assert.Equal(t, "cassiano", p.SelectBest())
}

func TestSelectBest_SkipsFullAgents(t *testing.T) {
	p := twoAgents(t)
	require.NoError(t, p.SetOnline("andrea"))

	require.NoError(t, p.Assign("c1", "andrea"))
	require.NoError(t, p.Assign("c2", "andrea"))
	require.NoError(t, p.Assign("c3", "andrea"))

	// Only online agent is full; no candidate.
	assert.Equal(t, "", p.SelectBest())
}

func TestSelectBest_RoundRobinFairness(t *testing.T) {
	p := New([]Spec{
		{ID: "a", Name: "A", Capacity: 4},
		{ID: "b", Name: "B", Capacity: 4},
		{ID: "c", Name: "C", Capacity: 4},
	}, nil)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, p.SetOnline(id))
	}

	// 9 sequential automatic assignments over 3 equal agents must land 3 each.
	counts := map[string]int{}
	for i := 0; i < 9; i++ {
		id := p.SelectBest()
		require.NotEmpty(t, id)
		require.NoError(t, p.Assign(identity.ID(fmt.Sprintf("conv-%d", i)), id))
		counts[id]++
	}
	assert.Equal(t, map[string]int{"a": 3, "b": 3, "c": 3}, counts)
}

func TestAssign_CapacityLimit(t *testing.T) {
	p := twoAgents(t)
	require.NoError(t, p.SetOnline("andrea"))

	require.NoError(t, p.Assign("c1", "andrea"))
	require.NoError(t, p.Assign("c2", "andrea"))
	require.NoError(t, p.Assign("c3", "andrea"))

	assert.ErrorIs(t, p.Assign("c4", "andrea"), ErrAtCapacity)

	snap, ok := p.Get("andrea")
	require.True(t, ok)
	assert.LessOrEqual(t, len(snap.Active), snap.Capacity)
}

func TestAssign_Idempotent(t *testing.T) {
	p := twoAgents(t)
	require.NoError(t, p.SetOnline("andrea"))

	require.NoError(t, p.Assign("c1", "andrea"))
	require.NoError(t, p.Assign("c1", "andrea"))

	snap, _ := p.Get("andrea")
	assert.Len(t, snap.Active, 1)
	assert.Equal(t, 1, snap.ServedToday, "duplicate assign must not double-count")
}

func TestAssign_OfflineRejected(t *testing.T) {
	p := twoAgents(t)
	assert.ErrorIs(t, p.Assign("c1", "andrea"), ErrAgentOffline)
	assert.ErrorIs(t, p.Assign("c1", "ghost"), ErrAgentNotFound)
}

func TestRelease_Idempotent(t *testing.T) {
	p := twoAgents(t)
	require.NoError(t, p.SetOnline("andrea"))
	require.NoError(t, p.Assign("c1", "andrea"))

	p.Release("c1", "andrea")
	p.Release("c1", "andrea") // second call is a no-op

	snap, _ := p.Get("andrea")
	assert.Empty(t, snap.Active)
	assert.Equal(t, Available, snap.Availability)
}

func TestAvailability_Derived(t *testing.T) {
	p := twoAgents(t)

	snap, _ := p.Get("andrea")
	assert.Equal(t, Offline, snap.Availability)

	require.NoError(t, p.SetOnline("andrea"))
	snap, _ = p.Get("andrea")
	assert.Equal(t, Available, snap.Availability)

	require.NoError(t, p.Assign("c1", "andrea"))
	snap, _ = p.Get("andrea")
	assert.Equal(t, Busy, snap.Availability)

	p.Release("c1", "andrea")
	snap, _ = p.Get("andrea")
	assert.Equal(t, Available, snap.Availability)
}

func TestSetOffline_KeepsActiveConversations(t *testing.T) {
	p := twoAgents(t)
	require.NoError(t, p.SetOnline("andrea"))
	require.NoError(t, p.Assign("c1", "andrea"))

	require.NoError(t, p.SetOffline("andrea"))

	// Session continues but no new automatic assignments land here.
	assert.True(t, p.Holds("c1", "andrea"))
	assert.Equal(t, "", p.SelectBest())
}

func TestTransfer(t *testing.T) {
	p := twoAgents(t)
	require.NoError(t, p.SetOnline("andrea"))
	require.NoError(t, p.SetOnline("cassiano"))
	require.NoError(t, p.Assign("c1", "andrea"))

	require.NoError(t, p.Transfer("c1", "andrea", "cassiano"))

	assert.False(t, p.Holds("c1", "andrea"))
	assert.True(t, p.Holds("c1", "cassiano"))
}

func TestTransfer_DestinationChecks(t *testing.T) {
	p := twoAgents(t)
	require.NoError(t, p.SetOnline("andrea"))
	require.NoError(t, p.Assign("c1", "andrea"))

	// Destination offline
	assert.ErrorIs(t, p.Transfer("c1", "andrea", "cassiano"), ErrAgentOffline)

	// Destination full
	require.NoError(t, p.SetOnline("cassiano"))
	require.NoError(t, p.Assign("x1", "cassiano"))
	require.NoError(t, p.Assign("x2", "cassiano"))
	require.NoError(t, p.Assign("x3", "cassiano"))
	assert.ErrorIs(t, p.Transfer("c1", "andrea", "cassiano"), ErrAtCapacity)

	// Source does not hold the conversation
	assert.ErrorIs(t, p.Transfer("nope", "andrea", "cassiano"), ErrNotAssigned)
}

func TestList_RosterOrder(t *testing.T) {
	p := twoAgents(t)
	snaps := p.List()
	require.Len(t, snaps, 2)
	assert.Equal(t, "andrea", snaps[0].ID)
	assert.Equal(t, "cassiano", snaps[1].ID)
}
