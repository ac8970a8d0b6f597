package exam

import (
	"sync"

	"github.com/google/uuid"
)

// Registry holds the live sessions of a server. Each session has its own
// controller and lock, so sessions proceed independently.
type Registry struct {
	examiner Examiner
	coach    Coach
	opts     Options
	newID    func() string

	mu       sync.RWMutex
	sessions map[string]*Controller
}

// NewRegistry creates an empty registry whose sessions share the given calls and options.
func NewRegistry(examiner Examiner, coach Coach, opts Options) *Registry {
	return &Registry{
		examiner: examiner,
		coach:    coach,
		opts:     opts,
		newID:    uuid.NewString,
		sessions: make(map[string]*Controller),
	}
}

// Create registers a new idle session for a team.
func (r *Registry) Create(teamID int64) *Controller {
	c := NewController(r.newID(), teamID, r.examiner, r.coach, r.opts)
	r.mu.Lock()
	r.sessions[c.ID()] = c
	r.mu.Unlock()
	return c
}

// Get looks up a session.
func (r *Registry) Get(id string) (*Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// ForTeam returns the team's live sessions.
func (r *Registry) ForTeam(teamID int64) []*Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Controller
	for _, c := range r.sessions {
		if c.TeamID() == teamID {
			out = append(out, c)
		}
	}
	return out
}

// Remove drops a session. Removing an unknown ID is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
