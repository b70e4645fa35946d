package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/LiboWorks/pipedemo/internal/controller"
)

// Transcript file names inside the transcript directory.
const (
	TXFile = "tx.log"
	RXFile = "rx.log"
)

// Transcript appends the raw bytes of each direction to its own file.
// Earlier runs are never truncated; each run starts with a header line.
type Transcript struct {
	dir   string
	runID string

	mu sync.Mutex
	tx *os.File
	rx *os.File
}

// OpenTranscript creates dir if needed and opens tx.log and rx.log for
// appending.
func OpenTranscript(dir, runID string) (*Transcript, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create transcript dir %s: %w", dir, err)
	}

	tx, err := openAppend(filepath.Join(dir, TXFile))
	if err != nil {
		return nil, err
	}
	rx, err := openAppend(filepath.Join(dir, RXFile))
	if err != nil {
		tx.Close()
		return nil, err
	}

	t := &Transcript{dir: dir, runID: runID, tx: tx, rx: rx}

	header := fmt.Sprintf("# run %s started %s\n", runID, time.Now().UTC().Format(time.RFC3339))
	if err := t.writeBoth(header); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	return f, nil
}

// Dir returns the transcript directory.
func (t *Transcript) Dir() string {
	return t.dir
}

// Record appends the event's bytes to the file of its direction. A failure
// is noted in both files.
func (t *Transcript) Record(e controller.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e.Kind {
	case controller.EventSent:
		return write(t.tx, e.Data)
	case controller.EventReceived:
		return write(t.rx, e.Data)
	case controller.EventFailed:
		return t.writeBothLocked(fmt.Sprintf("# run %s failed: %v\n", t.runID, e.Err))
	}
	return nil
}

func (t *Transcript) writeBoth(s string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeBothLocked(s)
}

func (t *Transcript) writeBothLocked(s string) error {
	return errors.Join(write(t.tx, []byte(s)), write(t.rx, []byte(s)))
}

func write(f *os.File, p []byte) error {
	if f == nil {
		return os.ErrClosed
	}
	if _, err := f.Write(p); err != nil {
		return fmt.Errorf("failed to write to file %s: %w", f.Name(), err)
	}
	return nil
}

// Close closes both files. Closing twice is a no-op.
func (t *Transcript) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for _, f := range []**os.File{&t.tx, &t.rx} {
		if *f == nil {
			continue
		}
		errs = append(errs, (*f).Close())
		*f = nil
	}
	return errors.Join(errs...)
}
