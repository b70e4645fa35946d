//go:build unix

package channel

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	pipeerr "github.com/LiboWorks/pipedemo/internal/errors"
)

func TestCreate_SecondPipeFails(t *testing.T) {
	var allocated [][]int
	calls := 0

	orig := pipeFunc
	t.Cleanup(func() { pipeFunc = orig })

	pipeFunc = func(fds []int) error {
		calls++
		if calls == 2 {
			return unix.EMFILE
		}
		if err := orig(fds); err != nil {
			return err
		}
		allocated = append(allocated, []int{fds[0], fds[1]})
		return nil
	}

	d, err := Create()
	require.Nil(t, d)
	require.ErrorIs(t, err, pipeerr.ErrResourceExhausted)
	require.ErrorIs(t, err, unix.EMFILE)
	require.Equal(t, "create", pipeerr.OpOf(err))

	// The first pipe must have been released.
	require.Len(t, allocated, 1)
	for _, fd := range allocated[0] {
		_, ferr := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
		require.ErrorIs(t, ferr, unix.EBADF, "fd %d leaked", fd)
	}
}

func TestCreate_FirstPipeFails(t *testing.T) {
	orig := pipeFunc
	t.Cleanup(func() { pipeFunc = orig })

	pipeFunc = func([]int) error { return unix.ENFILE }

	d, err := Create()
	require.Nil(t, d)
	require.Equal(t, pipeerr.ResourceExhausted, pipeerr.KindOf(err))
}
