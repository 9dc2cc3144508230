package health

import (
	"context"
	"time"
)

const checkTimeout = 2 * time.Second

// Pinger is anything that can report liveness, such as *sql.DB or a kv.Store wrapper.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Service encapsulates health-related checks.
type Service struct {
	checks map[string]Pinger
}

// NewService constructs a new health service. Nil checks are skipped.
func NewService(checks map[string]Pinger) *Service {
	s := &Service{checks: map[string]Pinger{}}
	for name, p := range checks {
		if p != nil {
			s.checks[name] = p
		}
	}
	return s
}

// Report is the health payload.
type Report struct {
	OK     bool              `json:"ok"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Status runs every check and reports "ok" or the error text per dependency.
func (s *Service) Status(ctx context.Context) Report {
	report := Report{OK: true}
	if s == nil || len(s.checks) == 0 {
		return report
	}
	report.Checks = make(map[string]string, len(s.checks))
	for name, p := range s.checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := p.PingContext(cctx)
		cancel()
		if err != nil {
			report.OK = false
			report.Checks[name] = err.Error()
			continue
		}
		report.Checks[name] = "ok"
	}
	return report
}
