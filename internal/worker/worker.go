// Package worker starts the filter process on the far side of a duplex
// channel.
//
// Two strategies are available. In bootstrap mode the controller re-executes
// its own binary with every pipe end inherited at descriptors 3 to 6; the
// child rewires its stdio onto the pipes, closes the ends it does not own and
// replaces itself with the filter program. In direct mode the filter is
// started with the pipe ends as its stdin and stdout and the runtime does the
// rewiring. Either way the worker ends up holding only the outbound read end
// (as stdin) and the inbound write end (as stdout).
package worker

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// EnvWorker marks a re-executed process as a worker.
const EnvWorker = "PIPEDEMO_WORKER"

// ArgsMarker separates the re-exec arguments from the filter argv.
const ArgsMarker = "--"

// Descriptors the four ends occupy in a re-executed worker, in the order of
// channel.Duplex.Endpoints.
const (
	fdOutboundRead  = 3
	fdOutboundWrite = 4
	fdInboundRead   = 5
	fdInboundWrite  = 6
)

// ExitReplacementFailed is the exit status of a worker that could not
// replace itself with the filter program.
const ExitReplacementFailed = 127

// IsWorkerProcess returns true if this process was started as a worker.
func IsWorkerProcess() bool {
	return os.Getenv(EnvWorker) == "1"
}

// Mode selects how the worker is started.
type Mode string

const (
	ModeBootstrap Mode = "bootstrap"
	ModeDirect    Mode = "direct"
)

// ParseMode returns the Mode named by s. The empty string selects bootstrap.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeBootstrap:
		return ModeBootstrap, nil
	case ModeDirect:
		return ModeDirect, nil
	}
	return "", fmt.Errorf("unknown spawn mode %q", s)
}

// Spec describes the worker to start.
type Spec struct {
	Mode Mode
	// Argv is the filter program and its arguments. Argv[0] is resolved via
	// PATH.
	Argv []string
	// Stderr receives the worker's standard error. Defaults to os.Stderr.
	Stderr io.Writer
	// Executable overrides the binary re-executed in bootstrap mode.
	// Defaults to os.Executable.
	Executable string
	Log        *zap.Logger
}

// Process is a running worker.
type Process struct {
	cmd  *exec.Cmd
	mode Mode

	done    chan struct{}
	waitErr error
	once    sync.Once
}

func newProcess(cmd *exec.Cmd, mode Mode, log *zap.Logger) *Process {
	p := &Process{cmd: cmd, mode: mode, done: make(chan struct{})}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
		log.Debug("Worker exited",
			zap.Int("pid", cmd.Process.Pid),
			zap.Int("exit_code", p.ExitCode()),
			zap.Error(p.waitErr))
	}()
	return p
}

// Pid returns the worker's process ID.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Mode returns the strategy the worker was started with.
func (p *Process) Mode() Mode {
	return p.mode
}

// Kill terminates the worker. Killing an exited worker is a no-op.
func (p *Process) Kill() error {
	var err error
	p.once.Do(func() {
		err = p.cmd.Process.Kill()
		if err == os.ErrProcessDone {
			err = nil
		}
	})
	return err
}

// Done is closed once the worker has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the worker exits and returns its exit error, if any.
func (p *Process) Wait() error {
	<-p.done
	return p.waitErr
}

// ExitCode returns the worker's exit status, or -1 while it is running or
// when it was killed by a signal.
func (p *Process) ExitCode() int {
	select {
	case <-p.done:
		if p.cmd.ProcessState == nil {
			return -1
		}
		return p.cmd.ProcessState.ExitCode()
	default:
		return -1
	}
}

// workerEnv returns env without any EnvWorker entry.
func workerEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, e := range env {
		if strings.HasPrefix(e, EnvWorker+"=") {
			continue
		}
		out = append(out, e)
	}
	return out
}

// filterArgv returns the arguments following ArgsMarker in args.
func filterArgv(args []string) ([]string, error) {
	for i, a := range args {
		if a == ArgsMarker {
			if i+1 >= len(args) {
				break
			}
			return args[i+1:], nil
		}
	}
	return nil, fmt.Errorf("no filter program after %q", ArgsMarker)
}
