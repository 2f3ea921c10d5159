// ABOUTME: Directory tracks human support agents, their availability, and capacity slots.
// ABOUTME: Slot reservation is atomic so routing never over-assigns an agent.

package directory

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Directory errors
var (
	// ErrAgentNotFound indicates the specified agent was not found.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAgentOffline indicates the agent is offline and cannot take new conversations.
	ErrAgentOffline = errors.New("agent is offline")

	// ErrAgentAtCapacity indicates the agent already holds the maximum number of conversations.
	ErrAgentAtCapacity = errors.New("agent at capacity")

	// ErrBadCredentials indicates a failed password check.
	ErrBadCredentials = errors.New("bad credentials")
)

// Availability describes whether an agent can accept new conversations.
type Availability string

const (
	Available Availability = "available"
	Busy      Availability = "busy"
	Offline   Availability = "offline"
)

// Valid reports whether a is one of the known availability states.
func (a Availability) Valid() bool {
	switch a {
	case Available, Busy, Offline:
		return true
	}
	return false
}

// Agent is a human support agent record.
// ActiveChats counts conversations the agent currently owns and is mutated
// only through ReserveSlot/ReleaseSlot.
type Agent struct {
	ID             string
	Name           string
	Role           string
	Availability   Availability
	ActiveChats    int
	CredentialHash []byte // bcrypt hash for gateway login, empty for API-only agents
}

// Directory holds all known agents. It is safe for concurrent use.
// Agents are provisioned out-of-band via Upsert and never deleted, only
// set Offline.
type Directory struct {
	mu             sync.RWMutex
	agents         map[string]*Agent
	maxActiveChats int // 0 means unbounded
	logger         *slog.Logger
}

// New creates a Directory. maxActiveChats of 0 disables the capacity limit.
// Pass nil logger for default.
func New(maxActiveChats int, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		agents:         make(map[string]*Agent),
		maxActiveChats: maxActiveChats,
		logger:         logger.With("component", "directory"),
	}
}

// Upsert adds or replaces an agent record. An existing agent keeps its
// ActiveChats count; everything else is overwritten.
func (d *Directory) Upsert(agent Agent) {
	if agent.Availability == "" {
		agent.Availability = Offline
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.agents[agent.ID]; ok {
		agent.ActiveChats = existing.ActiveChats
	}
	stored := agent
	d.agents[agent.ID] = &stored

	d.logger.Info("agent provisioned",
		"agent_id", agent.ID,
		"name", agent.Name,
		"availability", agent.Availability,
		"total_agents", len(d.agents))
}

// Get returns a snapshot of the agent, or ErrAgentNotFound.
func (d *Directory) Get(agentID string) (Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	agent, ok := d.agents[agentID]
	if !ok {
		return Agent{}, ErrAgentNotFound
	}
	return *agent, nil
}

// List returns agent snapshots, optionally filtered by availability,
// ordered by ActiveChats ascending then Name. The ordering is the default
// routing-suggestion order and must stay deterministic.
func (d *Directory) List(filter *Availability) []Agent {
	d.mu.RLock()
	agents := make([]Agent, 0, len(d.agents))
	for _, agent := range d.agents {
		if filter != nil && agent.Availability != *filter {
			continue
		}
		agents = append(agents, *agent)
	}
	d.mu.RUnlock()

	sort.Slice(agents, func(i, j int) bool {
		if agents[i].ActiveChats != agents[j].ActiveChats {
			return agents[i].ActiveChats < agents[j].ActiveChats
		}
		return agents[i].Name < agents[j].Name
	})
	return agents
}

// ReserveSlot atomically checks the agent is not offline and not at
// capacity, then increments its ActiveChats. On any precondition failure
// nothing is mutated.
func (d *Directory) ReserveSlot(agentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	agent, ok := d.agents[agentID]
	if !ok {
		return ErrAgentNotFound
	}
	if agent.Availability == Offline {
		return ErrAgentOffline
	}
	if d.maxActiveChats > 0 && agent.ActiveChats >= d.maxActiveChats {
		return ErrAgentAtCapacity
	}

	agent.ActiveChats++
	d.logger.Debug("slot reserved",
		"agent_id", agentID,
		"active_chats", agent.ActiveChats)
	return nil
}

// ReleaseSlot decrements the agent's ActiveChats, floored at zero.
// Releasing below zero means reserve/release calls are unbalanced; the
// count is clamped so one bad release cannot cascade, but it is logged as
// an error so the imbalance is visible to operators.
func (d *Directory) ReleaseSlot(agentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	agent, ok := d.agents[agentID]
	if !ok {
		return ErrAgentNotFound
	}
	if agent.ActiveChats == 0 {
		d.logger.Error("slot released below zero, clamping",
			"agent_id", agentID)
		return nil
	}

	agent.ActiveChats--
	d.logger.Debug("slot released",
		"agent_id", agentID,
		"active_chats", agent.ActiveChats)
	return nil
}

// SetAvailability updates the agent's availability. Transitioning to
// Offline does not touch conversations the agent already owns; it only
// blocks future reservations.
func (d *Directory) SetAvailability(agentID string, availability Availability) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	agent, ok := d.agents[agentID]
	if !ok {
		return ErrAgentNotFound
	}

	agent.Availability = availability
	d.logger.Info("availability changed",
		"agent_id", agentID,
		"availability", availability)
	return nil
}

// Load returns the current ActiveChats count per agent ID. Read-only and
// safe to poll.
func (d *Directory) Load() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	load := make(map[string]int, len(d.agents))
	for id, agent := range d.agents {
		load[id] = agent.ActiveChats
	}
	return load
}

// Authenticate checks the agent's password against its stored bcrypt hash.
// Agents with no stored hash cannot log in.
func (d *Directory) Authenticate(agentID, password string) error {
	d.mu.RLock()
	agent, ok := d.agents[agentID]
	var hash []byte
	if ok {
		hash = agent.CredentialHash
	}
	d.mu.RUnlock()

	if !ok {
		return ErrAgentNotFound
	}
	if len(hash) == 0 {
		return ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return ErrBadCredentials
	}
	return nil
}

// HashCredential produces a bcrypt hash suitable for Agent.CredentialHash.
func HashCredential(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}
