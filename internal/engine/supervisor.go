package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dunamismax/charforge/internal/retry"
	"github.com/rs/zerolog"
)

type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "not_started"
	}
}

type assetLinker interface {
	Link() ([]string, error)
}

type statusChecker interface {
	SystemStats(ctx context.Context) (int, error)
}

type SupervisorConfig struct {
	HealthInterval time.Duration
	HealthAttempts int
	HealthTimeout  time.Duration
}

// Supervisor owns the engine child process and its lifecycle state. Only
// EnsureStarted writes the state; everything else reads it.
type Supervisor struct {
	linker   assetLinker
	launcher Launcher
	checker  statusChecker
	cfg      SupervisorConfig
	logger   zerolog.Logger

	// OnStateChange, when set before EnsureStarted, observes every transition.
	OnStateChange func(State)

	state   atomic.Int32
	failure atomic.Pointer[StartupError]
	proc    atomic.Pointer[processHolder]
}

type processHolder struct {
	p Process
}

func NewSupervisor(linker assetLinker, launcher Launcher, checker statusChecker, cfg SupervisorConfig, logger zerolog.Logger) *Supervisor {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = time.Second
	}
	if cfg.HealthAttempts <= 0 {
		cfg.HealthAttempts = 40
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 2 * time.Second
	}
	return &Supervisor{
		linker:   linker,
		launcher: launcher,
		checker:  checker,
		cfg:      cfg,
		logger:   logger.With().Str("component", "supervisor").Logger(),
	}
}

func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) Ready() bool {
	return s.State() == StateReady
}

// EnsureStarted launches and polls the engine until healthy on the first call. Later
// calls return immediately: nil while starting or ready, the recorded
// failure once failed.
func (s *Supervisor) EnsureStarted(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateNotStarted), int32(StateStarting)) {
		if f := s.failure.Load(); f != nil {
			return f
		}
		return nil
	}
	s.notify(StateStarting)

	startedAt := time.Now()
	if err := s.start(ctx); err != nil {
		var startupErr *StartupError
		if !errors.As(err, &startupErr) {
			startupErr = &StartupError{Reason: "launch", Err: err}
		}
		s.failure.Store(startupErr)
		s.state.Store(int32(StateFailed))
		s.notify(StateFailed)
		s.Stop()
		s.logger.Error().Err(startupErr).Dur("elapsed", time.Since(startedAt)).Msg("engine failed to start")
		return startupErr
	}

	s.state.Store(int32(StateReady))
	s.notify(StateReady)
	s.logger.Info().Dur("elapsed", time.Since(startedAt)).Msg("engine ready")
	return nil
}

func (s *Supervisor) start(ctx context.Context) error {
	if s.linker != nil {
		linked, err := s.linker.Link()
		if err != nil {
			return &StartupError{Reason: "link assets", Err: err}
		}
		if len(linked) > 0 {
			s.logger.Info().Strs("categories", linked).Msg("asset directories linked")
		}
	}

	proc, err := s.launcher.Launch(ctx)
	if err != nil {
		return &StartupError{Reason: "launch engine", Err: err}
	}
	s.proc.Store(&processHolder{p: proc})
	s.logger.Info().Int("pid", proc.Pid()).Msg("engine process launched")

	res, err := retry.Until(ctx, retry.Policy{
		Interval:    s.cfg.HealthInterval,
		MaxAttempts: s.cfg.HealthAttempts,
	}, func(ctx context.Context, attempt int) (bool, error) {
		select {
		case <-proc.Done():
			return false, fmt.Errorf("engine exited during startup: %w", proc.Err())
		default:
		}

		checkCtx, cancel := context.WithTimeout(ctx, s.cfg.HealthTimeout)
		defer cancel()
		status, err := s.checker.SystemStats(checkCtx)
		if err != nil {
			s.logger.Debug().Int("attempt", attempt).Err(err).Msg("engine not accepting connections yet")
			return false, nil
		}
		if status != http.StatusOK {
			s.logger.Debug().Int("attempt", attempt).Int("status", status).Msg("engine not ready yet")
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return &StartupError{Reason: "readiness check", Err: err}
	}
	if res.Outcome != retry.Ready {
		return &StartupError{Reason: fmt.Sprintf("not ready after %d attempts", res.Attempts)}
	}

	s.logger.Info().Int("attempts", res.Attempts).Msg("readiness check passed")
	return nil
}

// Stop kills the engine process if one was launched.
func (s *Supervisor) Stop() {
	holder := s.proc.Load()
	if holder == nil {
		return
	}
	select {
	case <-holder.p.Done():
		return
	default:
	}
	if err := holder.p.Kill(); err != nil {
		s.logger.Warn().Err(err).Msg("kill engine process")
	}
}

func (s *Supervisor) notify(state State) {
	if s.OnStateChange != nil {
		s.OnStateChange(state)
	}
}
