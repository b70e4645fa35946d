//go:build unix

package worker

import (
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	pipeerr "github.com/LiboWorks/pipedemo/internal/errors"
	"github.com/LiboWorks/pipedemo/internal/logging"
)

// Main runs the worker side of bootstrap mode and never returns. Call it
// first thing in main when IsWorkerProcess reports true.
func Main() {
	log := logging.NewDefault().With(
		zap.String("component", "worker"),
		zap.Int("pid", os.Getpid()))

	argv, err := filterArgv(os.Args[1:])
	if err == nil {
		err = Bootstrap(argv)
	}

	log.Error("Worker bootstrap failed", zap.Error(err))
	_ = log.Sync()
	os.Exit(ExitReplacementFailed)
}

// Bootstrap rewires the inherited pipe ends onto stdin and stdout, closes
// the controller's ends and replaces the process image with argv. It only
// returns on failure.
func Bootstrap(argv []string) error {
	if len(argv) == 0 {
		return pipeerr.New(pipeerr.ProcessReplacementFailed, "exec", fmt.Errorf("empty filter argv"))
	}

	if err := moveFd(fdOutboundRead, unix.Stdin); err != nil {
		return pipeerr.New(pipeerr.ProcessDuplicationFailed, "dup", err)
	}
	if err := moveFd(fdInboundWrite, unix.Stdout); err != nil {
		return pipeerr.New(pipeerr.ProcessDuplicationFailed, "dup", err)
	}
	for _, fd := range []int{fdOutboundWrite, fdInboundRead} {
		if err := unix.Close(fd); err != nil {
			return pipeerr.New(pipeerr.ProcessDuplicationFailed, "dup",
				os.NewSyscallError(fmt.Sprintf("close fd %d", fd), err))
		}
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		return pipeerr.New(pipeerr.ProcessReplacementFailed, "exec", err)
	}

	err = unix.Exec(path, argv, workerEnv(os.Environ()))
	return pipeerr.New(pipeerr.ProcessReplacementFailed, "exec", os.NewSyscallError("execve "+path, err))
}

// moveFd duplicates from onto to and closes from. The duplicate does not
// carry close-on-exec.
func moveFd(from, to int) error {
	if err := dupFd(from, to); err != nil {
		return os.NewSyscallError(fmt.Sprintf("dup fd %d to %d", from, to), err)
	}
	if err := unix.Close(from); err != nil {
		return os.NewSyscallError(fmt.Sprintf("close fd %d", from), err)
	}
	return nil
}
