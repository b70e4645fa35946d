// Package message produces the outbound lines fed to the worker.
//
// Every source returns newline-terminated messages and io.EOF once it has
// nothing more to send.
package message

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/LiboWorks/pipedemo/internal/config"
)

// Source yields the next outbound message.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
}

// Counter yields "<prefix><n>\n" for n = 0, 1, 2, ... without end.
type Counter struct {
	prefix string
	n      uint64
}

// NewCounter creates a counter starting at 0.
func NewCounter(prefix string) *Counter {
	return &Counter{prefix: prefix}
}

func (c *Counter) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg := fmt.Appendf(nil, "%s%d\n", c.prefix, c.n)
	c.n++
	return msg, nil
}

// Static yields a fixed list of messages once.
type Static struct {
	lines [][]byte
	next  int
}

// NewStatic creates a source over lines. Lines lacking a trailing newline
// get one.
func NewStatic(lines []string) *Static {
	s := &Static{lines: make([][]byte, 0, len(lines))}
	for _, l := range lines {
		s.lines = append(s.lines, Terminate([]byte(l)))
	}
	return s
}

func (s *Static) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.lines) {
		return nil, io.EOF
	}
	msg := s.lines[s.next]
	s.next++
	return msg, nil
}

type limited struct {
	src       Source
	remaining int
}

// Limit stops src after n messages. n <= 0 means no limit.
func Limit(src Source, n int) Source {
	if n <= 0 {
		return src
	}
	return &limited{src: src, remaining: n}
}

func (l *limited) Next(ctx context.Context) ([]byte, error) {
	if l.remaining <= 0 {
		return nil, io.EOF
	}
	msg, err := l.src.Next(ctx)
	if err != nil {
		return nil, err
	}
	l.remaining--
	return msg, nil
}

// Terminate returns msg with exactly one trailing newline added if it has
// none. The caller's backing array is never modified.
func Terminate(msg []byte) []byte {
	if len(msg) > 0 && msg[len(msg)-1] == '\n' {
		return msg
	}
	out := make([]byte, len(msg)+1)
	copy(out, msg)
	out[len(msg)] = '\n'
	return out
}

// flatten folds a multi-line text into a single line.
func flatten(text string) []byte {
	b := bytes.ReplaceAll([]byte(text), []byte("\r\n"), []byte(" "))
	b = bytes.ReplaceAll(b, []byte("\n"), []byte(" "))
	return bytes.TrimSpace(b)
}

// FromConfig builds the source selected by cfg.MessageSource, capped at
// cfg.MaxLines messages.
func FromConfig(cfg *config.Config) (Source, error) {
	var src Source

	switch cfg.MessageSource {
	case config.SourceCounter, "":
		src = NewCounter(cfg.MessagePrefix)
	case config.SourceStatic:
		src = NewStatic(cfg.Messages)
	case config.SourceOpenAI:
		oa, err := NewOpenAISource(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		})
		if err != nil {
			return nil, err
		}
		src = oa
	default:
		return nil, fmt.Errorf("unknown message source %q", cfg.MessageSource)
	}

	return Limit(src, cfg.MaxLines), nil
}
