package service

import (
	"context"
	"io"
	"time"

	"sandboxd/internal/controlplane/model"
	pkgerrors "sandboxd/pkg/errors"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TerminalSession is one interactive exec running inside an environment's
// container. Output is pushed to hub subscribers keyed by the session ID;
// input arrives through Write.
type TerminalSession struct {
	ID            string
	EnvironmentID string
	ExecID        string
	StartedAt     time.Time

	attach types.HijackedResponse
	cancel context.CancelFunc
}

// StartTerminal creates and attaches an interactive exec in a running
// environment. cmd defaults to a login shell when empty.
func (s *EnvironmentService) StartTerminal(ctx context.Context, environmentID string, cmd []string) (*TerminalSession, error) {
	env := s.snapshot(environmentID)
	if env == nil {
		return nil, pkgerrors.New(pkgerrors.EnvironmentNotFound).
			WithDetail("environmentId", environmentID)
	}
	if env.Status != model.EnvironmentRunning {
		return nil, pkgerrors.New(pkgerrors.EnvironmentNotRunning).
			WithDetail("status", string(env.Status))
	}
	if len(cmd) == 0 {
		cmd = []string{"/bin/sh"}
	}

	created, err := s.docker.ContainerExecCreate(ctx, env.ContainerID, container.ExecOptions{
		User:         env.Spec.User,
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.TerminalAttachFailed)
	}
	attach, err := s.docker.ContainerExecAttach(ctx, created.ID, container.ExecStartOptions{Tty: true})
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.TerminalAttachFailed)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	session := &TerminalSession{
		ID:            uuid.NewString(),
		EnvironmentID: environmentID,
		ExecID:        created.ID,
		StartedAt:     time.Now().UTC(),
		attach:        attach,
		cancel:        cancel,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	go s.pumpTerminal(pumpCtx, session)
	s.log.Info("terminal session started",
		zap.String("environment_id", environmentID),
		zap.String("session_id", session.ID))
	return session, nil
}

// WriteTerminal feeds input bytes to the session's exec.
func (s *EnvironmentService) WriteTerminal(sessionID string, data []byte) error {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return pkgerrors.New(pkgerrors.SessionNotFound).
			WithDetail("sessionId", sessionID)
	}
	if _, err := session.attach.Conn.Write(data); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.TerminalAttachFailed)
	}
	return nil
}

// CloseTerminal ends one session. Closing an unknown session is a no-op.
func (s *EnvironmentService) CloseTerminal(sessionID string) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	session.cancel()
	session.attach.Close()
	s.log.Info("terminal session closed",
		zap.String("environment_id", session.EnvironmentID),
		zap.String("session_id", sessionID))
}

// Sessions returns the live sessions for one environment, or all of them
// when environmentID is empty.
func (s *EnvironmentService) Sessions(environmentID string) []*TerminalSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*TerminalSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		if environmentID != "" && session.EnvironmentID != environmentID {
			continue
		}
		out = append(out, session)
	}
	return out
}

func (s *EnvironmentService) closeSessionsFor(environmentID string) {
	for _, session := range s.Sessions(environmentID) {
		s.CloseTerminal(session.ID)
	}
}

// pumpTerminal relays exec output to hub subscribers in raw chunks. A TTY
// exec produces a single unmultiplexed stream, so no stdcopy demux here.
func (s *EnvironmentService) pumpTerminal(ctx context.Context, session *TerminalSession) {
	buf := make([]byte, 4096)
	for {
		n, err := session.attach.Reader.Read(buf)
		if n > 0 {
			s.hub.SendTerminalOutput(model.TerminalEvent{
				SessionID:     session.ID,
				EnvironmentID: session.EnvironmentID,
				Data:          string(buf[:n]),
				Timestamp:     time.Now().UTC(),
			})
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				s.log.Debug("terminal stream ended",
					zap.String("session_id", session.ID), zap.Error(err))
			}
			break
		}
	}
	s.CloseTerminal(session.ID)
}
