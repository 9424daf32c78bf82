package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"
)

// Process is a launched engine child.
type Process interface {
	Pid() int
	// Done is closed once the process has exited; Err then reports why.
	Done() <-chan struct{}
	Err() error
	Kill() error
}

type Launcher interface {
	Launch(ctx context.Context) (Process, error)
}

// CommandLauncher starts the engine as a child process in Dir. Output is
// drained into the debug log so the child never blocks on a full pipe.
type CommandLauncher struct {
	Command string
	Args    []string
	Dir     string
	Logger  zerolog.Logger
}

func (l CommandLauncher) Launch(_ context.Context) (Process, error) {
	// exec.Command rather than CommandContext: the child lives as long as
	// this process, not as long as the startup context.
	cmd := exec.Command(l.Command, l.Args...)
	cmd.Dir = l.Dir
	bindToParent(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", l.Command, err)
	}

	logger := l.Logger.With().Str("component", "engine").Int("pid", cmd.Process.Pid).Logger()
	p := &childProcess{cmd: cmd, done: make(chan struct{})}

	var drained sync.WaitGroup
	drained.Add(2)
	go drain(&drained, stdout, logger, "stdout")
	go drain(&drained, stderr, logger, "stderr")
	go func() {
		drained.Wait()
		p.err = cmd.Wait()
		close(p.done)
		logger.Warn().Err(p.err).Msg("engine process exited")
	}()

	return p, nil
}

func drain(wg *sync.WaitGroup, r io.Reader, logger zerolog.Logger, stream string) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.Debug().Str("stream", stream).Msg(scanner.Text())
	}
	_, _ = io.Copy(io.Discard, r)
}

type childProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *childProcess) Pid() int { return p.cmd.Process.Pid }

func (p *childProcess) Done() <-chan struct{} { return p.done }

func (p *childProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *childProcess) Kill() error {
	return p.cmd.Process.Kill()
}
