//go:build !unix

package worker

import (
	"context"
	"os"

	"github.com/LiboWorks/pipedemo/internal/channel"
	pipeerr "github.com/LiboWorks/pipedemo/internal/errors"
)

// Spawn is not supported on this platform.
func Spawn(ctx context.Context, d *channel.Duplex, spec Spec) (*Process, error) {
	return nil, pipeerr.ErrUnsupportedPlatform
}

// Main exits with ExitReplacementFailed on this platform.
func Main() {
	os.Exit(ExitReplacementFailed)
}

// Bootstrap is not supported on this platform.
func Bootstrap(argv []string) error {
	return pipeerr.ErrUnsupportedPlatform
}
