package ports

import (
	"time"

	"github.com/bnema/deployctl/internal/domain"
)

type Metrics interface {
	SessionConnected()
	SessionDisconnected()
	ProcessStarted()
	ProcessExited(exitCode int, runtime time.Duration)
	StopRequested()
	ForcedKill()
	OperationFailed(kind string)
	StateTransition(from, to domain.ProcessState)
}

type NopMetrics struct{}

func (NopMetrics) SessionConnected()                        {}
func (NopMetrics) SessionDisconnected()                     {}
func (NopMetrics) ProcessStarted()                          {}
func (NopMetrics) ProcessExited(int, time.Duration)         {}
func (NopMetrics) StopRequested()                           {}
func (NopMetrics) ForcedKill()                              {}
func (NopMetrics) OperationFailed(string)                   {}
func (NopMetrics) StateTransition(_, _ domain.ProcessState) {}
