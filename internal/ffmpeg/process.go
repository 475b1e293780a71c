package ffmpeg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// terminateGrace is how long Terminate waits after SIGTERM before killing
// the process.
const terminateGrace = 3 * time.Second

// maxStderrLines bounds the stderr tail kept for diagnostics.
const maxStderrLines = 20

// Process is a running ffmpeg subprocess with its stdio pipes. Stdout is
// the frame stream for decoders; Stdin is the frame sink for encoders.
type Process struct {
	log *slog.Logger
	cmd *exec.Cmd

	Stdout io.ReadCloser
	Stdin  io.WriteCloser

	stderrDone chan struct{}
	stderrMu   sync.Mutex
	stderr     []string

	waitOnce sync.Once
	waitErr  error
}

// StartConfig controls how a Process is started.
type StartConfig struct {
	Bin  string
	Args []string
	// Input is copied into the process stdin when set. It is mutually
	// exclusive with PipeStdin.
	Input io.Reader
	// PipeStdout exposes the process stdout as Process.Stdout.
	PipeStdout bool
	// PipeStdin exposes the process stdin as Process.Stdin.
	PipeStdin bool
	Log       *slog.Logger
}

// Start launches the subprocess. Stderr lines are retained (see Tail) and
// logged at debug level.
func Start(cfg StartConfig) (*Process, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	cmd := exec.Command(cfg.Bin, cfg.Args...)
	p := &Process{
		log:        log,
		cmd:        cmd,
		stderrDone: make(chan struct{}),
	}

	var err error
	if cfg.Input != nil {
		cmd.Stdin = cfg.Input
	} else if cfg.PipeStdin {
		if p.Stdin, err = cmd.StdinPipe(); err != nil {
			return nil, fmt.Errorf("creating stdin pipe: %w", err)
		}
	}
	if cfg.PipeStdout {
		if p.Stdout, err = cmd.StdoutPipe(); err != nil {
			return nil, fmt.Errorf("creating stdout pipe: %w", err)
		}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cfg.Bin, err)
	}
	log.Debug("process started", "pid", cmd.Process.Pid, "args", cfg.Args)

	go p.readStderr(stderr)
	return p, nil
}

func (p *Process) readStderr(r io.Reader) {
	defer close(p.stderrDone)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		p.stderrMu.Lock()
		p.stderr = append(p.stderr, line)
		if len(p.stderr) > maxStderrLines {
			p.stderr = p.stderr[1:]
		}
		p.stderrMu.Unlock()
		p.log.Debug("ffmpeg stderr", "line", line)
	}
}

// Tail returns the most recent stderr lines.
func (p *Process) Tail() []string {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()
	out := make([]string, len(p.stderr))
	copy(out, p.stderr)
	return out
}

// Pid returns the operating-system process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Wait waits for the process to exit and for stderr to drain. It is safe to
// call more than once; later calls return the first result.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		// StderrPipe must be fully read before cmd.Wait closes it.
		<-p.stderrDone
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// Terminate asks the process to exit with SIGTERM and kills it if it has not
// exited within a grace period. Exit statuses caused by the signal are not
// reported as errors.
func (p *Process) Terminate() error {
	if p.Stdin != nil {
		p.Stdin.Close()
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.log.Debug("sigterm failed", "error", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.Wait() }()

	timer := time.NewTimer(terminateGrace)
	defer timer.Stop()

	select {
	case err := <-done:
		return ignoreSignalExit(err)
	case <-timer.C:
		p.log.Warn("process ignored SIGTERM, killing", "pid", p.Pid())
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill: %w", err)
		}
		return ignoreSignalExit(<-done)
	}
}

func ignoreSignalExit(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return nil
		}
		// ffmpeg exits with 255 when interrupted by a signal it handles.
		if exitErr.ExitCode() == 255 {
			return nil
		}
	}
	return err
}
