package tasks

import (
	"slices"
	"sync"

	"github.com/desertthunder/rehearse/internal/models"
)

// State is the active context of one client. Values returned by [Workspace.Snapshot] are copies and safe to
// read without locking.
type State struct {
	User      *models.User
	Catalog   []models.Package
	Package   *models.Package
	Voucher   *models.Voucher
	Session   *models.Session
	Questions []models.Question
	Cursor    int
}

// clone copies the slices so the copy can be modified without touching the original.
func (s State) clone() State {
	s.Catalog = slices.Clone(s.Catalog)
	s.Questions = slices.Clone(s.Questions)
	return s
}

// LoggedIn reports whether a user profile is loaded.
func (s State) LoggedIn() bool { return s.User != nil }

// Persistable converts the state into the snapshot stored by a [Persister]. The catalog is not stored, and
// neither are the user's password hash and security answers.
func (s State) Persistable() models.Snapshot {
	var user *models.User
	if s.User != nil {
		u := *s.User
		u.PasswordHash = ""
		u.SecurityAnswers = nil
		user = &u
	}
	return models.Snapshot{
		User:      user,
		Package:   s.Package,
		Voucher:   s.Voucher,
		Session:   s.Session,
		Questions: slices.Clone(s.Questions),
		Cursor:    s.Cursor,
	}
}

// Workspace guards the [State]. Change-feed callbacks run on their own goroutines, so every read takes a copy
// and every write replaces the whole value.
type Workspace struct {
	mu    sync.RWMutex
	state State
}

// NewWorkspace returns an empty (anonymous) workspace.
func NewWorkspace() *Workspace {
	return &Workspace{}
}

// Snapshot returns a copy of the current state.
func (w *Workspace) Snapshot() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state.clone()
}

// Update applies fn to a copy of the state and installs the result.
func (w *Workspace) Update(fn func(s *State)) State {
	w.mu.Lock()
	defer w.mu.Unlock()

	next := w.state.clone()
	fn(&next)
	w.state = next
	return next.clone()
}

// Reset replaces the state with a fresh, empty one.
func (w *Workspace) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = State{}
}

// Restore installs a persisted snapshot, keeping the current catalog.
func (w *Workspace) Restore(s models.Snapshot) {
	w.Update(func(st *State) {
		*st = State{
			User:      s.User,
			Catalog:   st.Catalog,
			Package:   s.Package,
			Voucher:   s.Voucher,
			Session:   s.Session,
			Questions: s.Questions,
			Cursor:    s.Cursor,
		}
	})
}
