// Package server dispatches controller messages to build sessions. It
// owns session lifecycles: one goroutine per session, at most one live
// session per storage root, and routing of mid-session messages by
// session ID.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/buildforge/internal/protocol"
	"git.home.luguber.info/inful/buildforge/internal/session"
	"git.home.luguber.info/inful/buildforge/internal/storage"
)

// Server accepts controller messages and manages the sessions they
// address.
type Server struct {
	deps   session.Deps
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session // session id -> session
	byRoot   map[string]string           // storage root -> session id
	wg       sync.WaitGroup
}

// New creates a server spawning sessions with the given dependencies.
func New(deps session.Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		deps:     deps,
		logger:   logger,
		sessions: make(map[string]*session.Session),
		byRoot:   make(map[string]string),
	}
}

// Handle processes one inbound controller message. For start-build
// requests ch becomes the session's outbound channel; for every other
// message type ch is unused.
func (s *Server) Handle(ctx context.Context, msg *protocol.ControllerMessage, ch protocol.Channel) error {
	switch msg.Type {
	case protocol.ControllerBuildParams:
		return s.startSession(ctx, msg, ch)
	case protocol.ControllerFSEvent:
		if sess := s.lookup(msg.SessionID); sess != nil && msg.FSEvent != nil {
			sess.SubmitFSEvent(msg.FSEvent)
		}
		return nil
	case protocol.ControllerConstantSearchResult:
		if sess := s.lookup(msg.SessionID); sess != nil && msg.ConstantSearchResult != nil {
			sess.SubmitConstantSearchResult(*msg.ConstantSearchResult)
		}
		return nil
	case protocol.ControllerCancel:
		if sess := s.lookup(msg.SessionID); sess != nil {
			sess.Cancel()
		}
		return nil
	}
	return fmt.Errorf("unknown controller message type %q", msg.Type)
}

func (s *Server) startSession(ctx context.Context, msg *protocol.ControllerMessage, ch protocol.Channel) error {
	if msg.BuildParams == nil {
		return fmt.Errorf("start-build message without parameters")
	}

	// mid-session messages are addressed by this id; accepting a
	// malformed one would leave the session unreachable
	id, err := uuid.Parse(msg.SessionID)
	if err != nil {
		return fmt.Errorf("start-build message with invalid session id %q: %w", msg.SessionID, err)
	}
	root := storage.RootFor(s.deps.DataDir, msg.BuildParams.ProjectPath)

	s.mu.Lock()
	if owner, busy := s.byRoot[root]; busy {
		s.mu.Unlock()
		return fmt.Errorf("project already has a running session %s", owner)
	}
	sess := session.New(id, ch, *msg.BuildParams, msg.InitialFSDelta, s.deps)
	s.sessions[id.String()] = sess
	s.byRoot[root] = id.String()
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.remove(id.String(), root)
		sess.Run(ctx)
	}()
	return nil
}

func (s *Server) lookup(id string) *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[id]
	if sess == nil {
		s.logger.Debug("message for unknown session dropped", "session_id", id)
	}
	return sess
}

func (s *Server) remove(id, root string) {
	s.mu.Lock()
	delete(s.sessions, id)
	delete(s.byRoot, root)
	s.mu.Unlock()
}

// ActiveSessions returns the number of currently running sessions.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// CancelAll requests cancellation of every running session and waits for
// them to finish.
func (s *Server) CancelAll() {
	s.mu.Lock()
	for _, sess := range s.sessions {
		sess.Cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
