//go:build !unix

package channel

import (
	pipeerr "github.com/LiboWorks/pipedemo/internal/errors"
)

// Create is not supported on this platform.
func Create() (*Duplex, error) {
	return nil, pipeerr.ErrUnsupportedPlatform
}

// Read is not supported on this platform.
func (e *Endpoint) Read(p []byte) (int, error) {
	return 0, pipeerr.ErrUnsupportedPlatform
}

// WriteOnce is not supported on this platform.
func (e *Endpoint) WriteOnce(p []byte) (int, error) {
	return 0, pipeerr.ErrUnsupportedPlatform
}

// SetNonblock is not supported on this platform.
func (e *Endpoint) SetNonblock(nonblocking bool) error {
	return pipeerr.ErrUnsupportedPlatform
}

// Nonblocking is not supported on this platform.
func (e *Endpoint) Nonblocking() (bool, error) {
	return false, pipeerr.ErrUnsupportedPlatform
}
