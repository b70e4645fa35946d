package controller_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LiboWorks/pipedemo/internal/channel"
	"github.com/LiboWorks/pipedemo/internal/controller"
)

// scriptedReader hands out its chunks in order, one chunk per "arrival".
// Between arrivals it reports channel.ErrWouldBlock, like an empty
// non-blocking pipe.
type scriptedReader struct {
	chunks []string
	cur    string
	reads  int
	err    error
}

func (r *scriptedReader) arrive() bool {
	if len(r.chunks) == 0 {
		return false
	}
	r.cur += r.chunks[0]
	r.chunks = r.chunks[1:]
	return true
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	r.reads++
	if r.cur == "" {
		if r.err != nil {
			return 0, r.err
		}
		return 0, channel.ErrWouldBlock
	}
	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}

func TestLineAssembler_OneByteArrivals(t *testing.T) {
	want := "Line: 0\n"
	chunks := strings.Split(want, "")
	r := &scriptedReader{chunks: chunks}
	a := controller.NewLineAssembler()

	var got []byte
	for r.arrive() {
		line, ok, err := a.Poll(r)
		require.NoError(t, err)
		if ok {
			got = line
		}
	}
	require.Equal(t, want, string(got))
}

func TestLineAssembler_BurstYieldsOneLinePerPoll(t *testing.T) {
	r := &scriptedReader{cur: "a\nbb\nccc\n"}
	a := controller.NewLineAssembler()

	line, ok, err := a.Poll(r)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a\n", string(line))
	// Nothing beyond the first newline was consumed.
	require.Equal(t, "bb\nccc\n", r.cur)

	line, ok, err = a.Poll(r)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bb\n", string(line))

	line, ok, err = a.Poll(r)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ccc\n", string(line))

	_, ok, err = a.Poll(r)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLineAssembler_PartialLineStaysBuffered(t *testing.T) {
	r := &scriptedReader{cur: "no newline"}
	a := controller.NewLineAssembler()

	for i := 0; i < 3; i++ {
		_, ok, err := a.Poll(r)
		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, "no newline", string(a.Buffered()))
	}

	r.cur = " yet\n"
	line, ok, err := a.Poll(r)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "no newline yet\n", string(line))
}

func TestLineAssembler_EmptyLine(t *testing.T) {
	r := &scriptedReader{cur: "\n"}
	line, ok, err := controller.NewLineAssembler().Poll(r)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "\n", string(line))
}

func TestLineAssembler_LineIsCallerOwned(t *testing.T) {
	r := &scriptedReader{cur: "first\nsecond\n"}
	a := controller.NewLineAssembler()

	first, ok, err := a.Poll(r)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = a.Poll(r)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "first\n", string(first))
}

func TestLineAssembler_ReadsOneByteAtATime(t *testing.T) {
	r := &scriptedReader{cur: "abc\n"}
	_, ok, err := controller.NewLineAssembler().Poll(r)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 4, r.reads)
}

func TestLineAssembler_Errors(t *testing.T) {
	r := &scriptedReader{cur: "partial", err: io.EOF}
	a := controller.NewLineAssembler()

	_, ok, err := a.Poll(r)
	require.ErrorIs(t, err, io.EOF)
	require.False(t, ok)
	require.Equal(t, "partial", string(a.Buffered()))

	boom := errors.New("boom")
	_, _, err = a.Poll(&scriptedReader{err: boom})
	require.ErrorIs(t, err, boom)
}
