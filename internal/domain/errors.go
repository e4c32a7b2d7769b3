package domain

import "errors"

var (
	ErrConfigWrite     = errors.New("write configuration file")
	ErrSpawn           = errors.New("spawn command")
	ErrSignal          = errors.New("signal process group")
	ErrProcessActive   = errors.New("a command is already running for this session")
	ErrNoActiveProcess = errors.New("no active command")
	ErrSessionClosed   = errors.New("session closed")
)
