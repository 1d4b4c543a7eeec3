package renderer

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

// Runner executes external wallpaper tools
type Runner interface {
	// Run executes name to completion and returns its combined output
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// Start launches a long-lived child, such as swaybg or mpvpaper
	Start(name string, args ...string) (Process, error)

	// LookPath reports whether binary can be found in PATH
	LookPath(binary string) bool
}

// Process is a running child started by a Runner
type Process interface {
	// Stop kills the child and waits for it to exit
	Stop() error
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	logger *zap.Logger
}

// NewExecRunner creates a Runner backed by os/exec
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run executes the command and fails with its output on a non-zero exit
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.logger.Debug("Running command", zap.String("command", name), zap.Strings("args", args))

	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s failed: %w (output: %s)", name, err, string(output))
	}
	return output, nil
}

// Start launches the command without waiting for it
func (r *ExecRunner) Start(name string, args ...string) (Process, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	r.logger.Debug("Started child", zap.String("command", name), zap.Int("pid", cmd.Process.Pid))

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
		if p.err != nil && !p.stopping() {
			r.logger.Warn("Child exited", zap.String("command", name), zap.Error(p.err))
		}
	}()
	return p, nil
}

// LookPath checks if a binary exists in PATH
func (r *ExecRunner) LookPath(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error

	mu      sync.Mutex
	stopped bool
}

func (p *execProcess) stopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

func (p *execProcess) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	select {
	case <-p.done:
		// Already gone
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to kill %s: %w", p.cmd.Path, err)
	}
	<-p.done
	return nil
}
