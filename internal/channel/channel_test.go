//go:build unix

package channel_test

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/LiboWorks/pipedemo/internal/channel"
	pipeerr "github.com/LiboWorks/pipedemo/internal/errors"
)

func newDuplex(t *testing.T) *channel.Duplex {
	t.Helper()

	d, err := channel.Create()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return d
}

func TestCreate_FourDistinctEnds(t *testing.T) {
	d := newDuplex(t)

	seen := map[int]bool{}
	for _, ep := range d.Endpoints() {
		require.GreaterOrEqual(t, ep.Fd(), 0)
		require.False(t, seen[ep.Fd()], "descriptor %d handed out twice", ep.Fd())
		seen[ep.Fd()] = true
	}

	require.Equal(t, []string{
		channel.RoleOutboundRead,
		channel.RoleOutboundWrite,
		channel.RoleInboundRead,
		channel.RoleInboundWrite,
	}, d.Open())
}

func TestCreate_CloseOnExec(t *testing.T) {
	d := newDuplex(t)

	for _, ep := range d.Endpoints() {
		flags, err := unix.FcntlInt(uintptr(ep.Fd()), unix.F_GETFD, 0)
		require.NoError(t, err)
		require.NotZero(t, flags&unix.FD_CLOEXEC, "%s must be close-on-exec", ep.Role())
	}
}

func TestPipe_PreservesOrder(t *testing.T) {
	d := newDuplex(t)

	for _, chunk := range []string{"Li", "ne: ", "0\n"} {
		n, err := d.Outbound.WriteEnd.WriteOnce([]byte(chunk))
		require.NoError(t, err)
		require.Equal(t, len(chunk), n)
	}

	buf := make([]byte, 64)
	n, err := d.Outbound.ReadEnd.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "Line: 0\n", string(buf[:n]))
}

func TestPipesAreIndependent(t *testing.T) {
	d := newDuplex(t)
	require.NoError(t, d.Inbound.ReadEnd.SetNonblock(true))

	_, err := d.Outbound.WriteEnd.WriteOnce([]byte("x"))
	require.NoError(t, err)

	_, err = d.Inbound.ReadEnd.Read(make([]byte, 1))
	require.ErrorIs(t, err, channel.ErrWouldBlock)
}

func TestEndpoint_NonblockingEmptyRead(t *testing.T) {
	d := newDuplex(t)
	ep := d.Inbound.ReadEnd

	nb, err := ep.Nonblocking()
	require.NoError(t, err)
	require.False(t, nb)

	require.NoError(t, ep.SetNonblock(true))

	nb, err = ep.Nonblocking()
	require.NoError(t, err)
	require.True(t, nb)

	n, err := ep.Read(make([]byte, 1))
	require.Zero(t, n)
	require.ErrorIs(t, err, channel.ErrWouldBlock)
}

func TestEndpoint_EndOfStream(t *testing.T) {
	d := newDuplex(t)

	require.NoError(t, d.Inbound.WriteEnd.Close())

	n, err := d.Inbound.ReadEnd.Read(make([]byte, 8))
	require.Zero(t, n)
	require.ErrorIs(t, err, io.EOF)
}

func TestEndpoint_WriteWithoutReader(t *testing.T) {
	d := newDuplex(t)

	require.NoError(t, d.Outbound.ReadEnd.Close())

	_, err := d.Outbound.WriteEnd.WriteOnce([]byte("lost\n"))
	require.ErrorIs(t, err, unix.EPIPE)
}

func TestEndpoint_CloseIsIdempotent(t *testing.T) {
	d := newDuplex(t)
	ep := d.Outbound.ReadEnd

	require.NoError(t, ep.Close())
	require.NoError(t, ep.Close())
	require.True(t, ep.Closed())
	require.Equal(t, -1, ep.Fd())

	_, err := ep.Read(make([]byte, 1))
	require.ErrorIs(t, err, pipeerr.ErrEndpointClosed)

	_, err = ep.WriteOnce([]byte("x"))
	require.ErrorIs(t, err, pipeerr.ErrEndpointClosed)

	require.ErrorIs(t, ep.SetNonblock(true), pipeerr.ErrEndpointClosed)

	require.Equal(t, []string{
		channel.RoleOutboundWrite,
		channel.RoleInboundRead,
		channel.RoleInboundWrite,
	}, d.Open())
}

func TestDuplex_Close(t *testing.T) {
	d, err := channel.Create()
	require.NoError(t, err)

	require.NoError(t, d.Inbound.ReadEnd.Close())
	require.NoError(t, d.Close())
	require.Empty(t, d.Open())
	require.NoError(t, d.Close())
}

func TestEndpoint_CloseDuringReads(t *testing.T) {
	d := newDuplex(t)
	ep := d.Inbound.ReadEnd
	require.NoError(t, ep.SetNonblock(true))

	var wg sync.WaitGroup
	errs := make(chan error, 4*200)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, 1)
			for j := 0; j < 200; j++ {
				_, err := ep.Read(buf)
				errs <- err
			}
		}()
	}
	require.NoError(t, ep.Close())
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, channel.ErrWouldBlock) {
			require.ErrorIs(t, err, pipeerr.ErrEndpointClosed)
		}
	}
}

func TestEndpoint_ClosedNeverReachesReusedDescriptor(t *testing.T) {
	d := newDuplex(t)
	stale := d.Inbound.ReadEnd
	fd := stale.Fd()
	require.NoError(t, stale.Close())

	// The next pipe usually takes the freed number.
	fresh := newDuplex(t)
	_, err := fresh.Outbound.WriteEnd.WriteOnce([]byte("fresh\n"))
	require.NoError(t, err)

	_, err = stale.Read(make([]byte, 8))
	require.ErrorIs(t, err, pipeerr.ErrEndpointClosed)
	require.ErrorIs(t, stale.SetNonblock(true), pipeerr.ErrEndpointClosed)

	if fresh.Outbound.ReadEnd.Fd() == fd {
		buf := make([]byte, 8)
		n, err := fresh.Outbound.ReadEnd.Read(buf)
		require.NoError(t, err)
		require.Equal(t, "fresh\n", string(buf[:n]))
	}
}
