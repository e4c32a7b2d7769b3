package application

import (
	"context"

	"github.com/bnema/deployctl/internal/domain"
)

// Session binds a connected client to the supervisor. All events for the
// client are read from Events until Done is closed.
type Session struct {
	id  domain.SessionID
	sup *Supervisor
	out *Outbox
}

func (s *Session) ID() domain.SessionID {
	return s.id
}

func (s *Session) Events() <-chan domain.Event {
	return s.out.Events()
}

func (s *Session) Done() <-chan struct{} {
	return s.out.Done()
}

func (s *Session) Execute(ctx context.Context, command string, cfg domain.Configuration) error {
	return s.sup.Start(ctx, s.id, s.out, command, cfg)
}

func (s *Session) SaveConfig(ctx context.Context, cfg domain.Configuration) error {
	return s.sup.SaveConfig(ctx, s.id, s.out, cfg)
}

func (s *Session) Stop() error {
	return s.sup.Stop(s.id, s.out)
}

func (s *Session) SendInput(data []byte) error {
	return s.sup.SendInput(s.id, data)
}

// Fail reports an operation-level problem that did not reach the supervisor,
// such as an undecodable message.
func (s *Session) Fail(message string) {
	s.out.emit(domain.ErrorEvent(message))
}

func (s *Session) Disconnect() {
	s.sup.Disconnect(s.id, s.out)
}
