// ABOUTME: Tests for the agent directory.
// ABOUTME: Covers slot accounting, availability gating, ordering, and login checks.

package directory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDirectory(t *testing.T, maxActive int, agents ...Agent) *Directory {
	t.Helper()
	d := New(maxActive, nil)
	for _, a := range agents {
		d.Upsert(a)
	}
	return d
}

func TestGet_NotFound(t *testing.T) {
	d := newTestDirectory(t, 0)

	_, err := d.Get("nope")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestUpsert_PreservesActiveChats(t *testing.T) {
	d := newTestDirectory(t, 0, Agent{ID: "x", Name: "Xenia", Availability: Available})
	require.NoError(t, d.ReserveSlot("x"))

	// Re-provisioning (e.g. a directory re-sync) must not reset the count.
	d.Upsert(Agent{ID: "x", Name: "Xenia Q", Availability: Busy})

	agent, err := d.Get("x")
	require.NoError(t, err)
	assert.Equal(t, 1, agent.ActiveChats)
	assert.Equal(t, "Xenia Q", agent.Name)
	assert.Equal(t, Busy, agent.Availability)
}

func TestReserveSlot_OfflineAgent(t *testing.T) {
	d := newTestDirectory(t, 0, Agent{ID: "y", Name: "Yuri", Availability: Offline})

	err := d.ReserveSlot("y")
	assert.ErrorIs(t, err, ErrAgentOffline)

	agent, err := d.Get("y")
	require.NoError(t, err)
	assert.Equal(t, 0, agent.ActiveChats, "failed reservation must not mutate")
}

func TestReserveSlot_Capacity(t *testing.T) {
	d := newTestDirectory(t, 2, Agent{ID: "x", Name: "Xenia", Availability: Available})

	require.NoError(t, d.ReserveSlot("x"))
	require.NoError(t, d.ReserveSlot("x"))
	err := d.ReserveSlot("x")
	assert.ErrorIs(t, err, ErrAgentAtCapacity)

	agent, _ := d.Get("x")
	assert.Equal(t, 2, agent.ActiveChats)
}

func TestReleaseSlot_FlooredAtZero(t *testing.T) {
	d := newTestDirectory(t, 0, Agent{ID: "x", Name: "Xenia", Availability: Available})

	require.NoError(t, d.ReleaseSlot("x"))
	agent, _ := d.Get("x")
	assert.Equal(t, 0, agent.ActiveChats)

	assert.ErrorIs(t, d.ReleaseSlot("missing"), ErrAgentNotFound)
}

func TestList_OrderedByLoadThenName(t *testing.T) {
	d := newTestDirectory(t, 0,
		Agent{ID: "c", Name: "Carol", Availability: Available},
		Agent{ID: "a", Name: "Ada", Availability: Available},
		Agent{ID: "b", Name: "Bob", Availability: Busy},
	)
	require.NoError(t, d.ReserveSlot("a"))

	all := d.List(nil)
	require.Len(t, all, 3)
	// Zero-load agents first, alphabetical within the same load.
	assert.Equal(t, []string{"b", "c", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	avail := Available
	free := d.List(&avail)
	require.Len(t, free, 2)
	assert.Equal(t, "c", free[0].ID)
	assert.Equal(t, "a", free[1].ID)
}

func TestSetAvailability(t *testing.T) {
	d := newTestDirectory(t, 0, Agent{ID: "x", Name: "Xenia", Availability: Available})
	require.NoError(t, d.ReserveSlot("x"))

	require.NoError(t, d.SetAvailability("x", Offline))

	// Going offline blocks new reservations but keeps existing ownership.
	assert.ErrorIs(t, d.ReserveSlot("x"), ErrAgentOffline)
	agent, _ := d.Get("x")
	assert.Equal(t, 1, agent.ActiveChats)

	assert.ErrorIs(t, d.SetAvailability("nope", Busy), ErrAgentNotFound)
}

func TestReserveSlot_ConcurrentCapacity(t *testing.T) {
	const limit = 8
	d := newTestDirectory(t, limit, Agent{ID: "x", Name: "Xenia", Availability: Available})

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.ReserveSlot("x"); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, granted)
	agent, _ := d.Get("x")
	assert.Equal(t, limit, agent.ActiveChats)
}

func TestAuthenticate(t *testing.T) {
	hash, err := HashCredential("hunter2")
	require.NoError(t, err)
	d := newTestDirectory(t, 0,
		Agent{ID: "x", Name: "Xenia", Availability: Available, CredentialHash: hash},
		Agent{ID: "y", Name: "Yuri", Availability: Available},
	)

	assert.NoError(t, d.Authenticate("x", "hunter2"))
	assert.ErrorIs(t, d.Authenticate("x", "wrong"), ErrBadCredentials)
	assert.ErrorIs(t, d.Authenticate("y", "anything"), ErrBadCredentials, "no hash stored")
	assert.ErrorIs(t, d.Authenticate("z", "anything"), ErrAgentNotFound)
}
