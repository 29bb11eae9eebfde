package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/quietline/presencewatch/internal/model"
)

// task is one running session's cancellation handle plus a done channel
// closed when Run has fully returned (adapter closed, all state
// destroyed), mirroring the whatsapp-api pack's SessionManager client
// map but tracking task lifetime instead of a live connection handle.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor is SessionSupervisor (spec.md §4.4): maps session_key to a
// running Runner, guaranteeing at most one active runner per key and
// that the map entry is removed before any caller's is_running call
// could observe a stale "running" session.
type Supervisor struct {
	log zerolog.Logger

	mu    sync.Mutex
	tasks map[model.SessionKey]*task
}

// NewSupervisor builds an empty Supervisor.
func NewSupervisor(log zerolog.Logger) *Supervisor {
	return &Supervisor{log: log.With().Str("component", "session.supervisor").Logger(), tasks: make(map[model.SessionKey]*task)}
}

// Start replaces any existing runner for key with a fresh one built by
// factory. If a runner is already active, it is cancelled and awaited
// before the new one starts, guaranteeing at most one active runner per
// session_key at any time.
func (s *Supervisor) Start(ctx context.Context, key model.SessionKey, factory func(context.Context) *Runner) {
	s.stopAndWait(key)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t := &task{cancel: cancel, done: done}

	s.mu.Lock()
	s.tasks[key] = t
	s.mu.Unlock()

	runner := factory(runCtx)

	go func() {
		defer close(done)
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error().Interface("panic", rec).Str("session", key.String()).Msg("session runner crashed")
			}
			s.mu.Lock()
			if s.tasks[key] == t {
				delete(s.tasks, key)
			}
			s.mu.Unlock()
		}()
		runner.Run(runCtx)
	}()
}

// Stop cancels and awaits the runner for key, if any.
func (s *Supervisor) Stop(key model.SessionKey) {
	s.stopAndWait(key)
}

func (s *Supervisor) stopAndWait(key model.SessionKey) {
	s.mu.Lock()
	t, ok := s.tasks[key]
	s.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	<-t.done
}

// StopAllForContact stops every platform-specific runner tracked for
// (userID, contactID).
func (s *Supervisor) StopAllForContact(userID, contactID int64) {
	s.mu.Lock()
	var keys []model.SessionKey
	for key := range s.tasks {
		if key.UserID == userID && key.ContactID == contactID {
			keys = append(keys, key)
		}
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.Stop(key)
	}
}

// IsRunning reports whether key has an active runner. Finished tasks
// are pruned opportunistically by their own completion goroutine, so a
// present entry always reflects a live runner.
func (s *Supervisor) IsRunning(key model.SessionKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// StopAll cancels and awaits every running session, regardless of user
// or contact. Used at process shutdown, where every started session
// must be torn down and there is no narrower scope to ask for.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	keys := make([]model.SessionKey, 0, len(s.tasks))
	for key := range s.tasks {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.Stop(key)
	}
}

// ListRunning reports every running session_key for userID, grouped by
// contact_id.
func (s *Supervisor) ListRunning(userID int64) map[int64][]model.Platform {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64][]model.Platform)
	for key := range s.tasks {
		if key.UserID == userID {
			out[key.ContactID] = append(out[key.ContactID], key.Platform)
		}
	}
	return out
}
