//go:build unix

package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/LiboWorks/pipedemo/internal/channel"
	pipeerr "github.com/LiboWorks/pipedemo/internal/errors"
)

// Spawn starts the worker for d. All four ends must still be open. The
// caller keeps ownership of them and is expected to close the worker's two
// ends (controller.Initialize does) once Spawn returns.
//
// A worker that cannot be started is a ProcessDuplicationFailed error. In
// direct mode a filter that cannot be resolved is ProcessReplacementFailed;
// in bootstrap mode that failure happens in the child, which exits with
// ExitReplacementFailed.
func Spawn(ctx context.Context, d *channel.Duplex, spec Spec) (*Process, error) {
	log := spec.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "worker"))

	if len(spec.Argv) == 0 || spec.Argv[0] == "" {
		return nil, pipeerr.New(pipeerr.ProcessReplacementFailed, "exec", errors.New("empty filter argv"))
	}
	for _, ep := range d.Endpoints() {
		if ep.Closed() {
			return nil, pipeerr.New(pipeerr.ProcessDuplicationFailed, "spawn",
				fmt.Errorf("%s: %w", ep.Role(), pipeerr.ErrEndpointClosed))
		}
	}

	var (
		cmd *exec.Cmd
		err error
	)
	switch spec.Mode {
	case ModeBootstrap, "":
		cmd, err = bootstrapCommand(ctx, d, spec)
	case ModeDirect:
		cmd, err = directCommand(ctx, d, spec)
	default:
		err = pipeerr.New(pipeerr.ProcessDuplicationFailed, "spawn",
			fmt.Errorf("unknown spawn mode %q", spec.Mode))
	}
	if err != nil {
		return nil, err
	}

	cmd.Stderr = spec.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, pipeerr.New(pipeerr.ProcessDuplicationFailed, "spawn", err)
	}

	mode := spec.Mode
	if mode == "" {
		mode = ModeBootstrap
	}
	log.Debug("Worker started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("mode", string(mode)),
		zap.Strings("argv", spec.Argv))

	return newProcess(cmd, mode, log), nil
}

// bootstrapCommand re-executes this binary as a worker with the ends at
// descriptors 3..6 and the filter argv after ArgsMarker.
func bootstrapCommand(ctx context.Context, d *channel.Duplex, spec Spec) (*exec.Cmd, error) {
	exe := spec.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return nil, pipeerr.New(pipeerr.ProcessDuplicationFailed, "spawn", err)
		}
	}
	exe, _ = filepath.Abs(exe)

	args := append([]string{ArgsMarker}, spec.Argv...)
	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Env = append(workerEnv(os.Environ()), EnvWorker+"=1")

	eps := d.Endpoints()
	cmd.ExtraFiles = make([]*os.File, len(eps))
	for i, ep := range eps {
		cmd.ExtraFiles[i] = ep.File()
	}
	return cmd, nil
}

// directCommand starts the filter itself with the outbound read end as stdin
// and the inbound write end as stdout. The other two ends are close-on-exec
// and never reach the filter.
func directCommand(ctx context.Context, d *channel.Duplex, spec Spec) (*exec.Cmd, error) {
	path, err := exec.LookPath(spec.Argv[0])
	if err != nil {
		return nil, pipeerr.New(pipeerr.ProcessReplacementFailed, "exec", err)
	}

	cmd := exec.CommandContext(ctx, path, spec.Argv[1:]...)
	cmd.Args[0] = spec.Argv[0]
	cmd.Env = workerEnv(os.Environ())
	cmd.Stdin = d.Outbound.ReadEnd.File()
	cmd.Stdout = d.Inbound.WriteEnd.File()
	return cmd, nil
}
