package tailer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/coder/quartz"

	"github.com/ghalamif/proxyscope/internal/adapters/observability"
	"github.com/ghalamif/proxyscope/internal/ports"
)

const DefaultPollInterval = 500 * time.Millisecond

// FileTailer follows a log file that other processes append to. It never
// replays content that existed when Follow started, survives the file being
// absent, and reopens the file when it is rotated or truncated.
type FileTailer struct {
	path     string
	interval time.Duration
	clock    quartz.Clock
	obs      ports.Observability

	file    *os.File
	info    os.FileInfo
	reader  *bufio.Reader
	offset  int64
	pending strings.Builder

	// head holds the first bytes of the file as last seen. A rewrite in
	// place shows up as a changed head even when the file has already grown
	// past offset again.
	head []byte
}

const headSize = 64

func NewFileTailer(path string, interval time.Duration, clock quartz.Clock, obs ports.Observability) *FileTailer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	if obs == nil {
		obs = observability.Nop{}
	}
	return &FileTailer{path: path, interval: interval, clock: clock, obs: obs}
}

// Follow blocks until ctx is done. Missing files and rotation are handled
// internally, so the only way out is cancellation.
func (t *FileTailer) Follow(ctx context.Context, out chan<- string) error {
	defer t.close()

	// A file that appears after we started holds only live content and is
	// read from its beginning.
	existed, err := t.open(true)
	for !existed {
		if err != nil {
			t.obs.LogDebug("access_log_open_failed", ports.Field{Key: "path", Value: t.path}, ports.Field{Key: "error", Value: err.Error()})
		}
		if !t.sleep(ctx) {
			return nil
		}
		existed, err = t.open(false)
	}

	for {
		line, err := t.reader.ReadString('\n')
		if err == nil {
			t.offset += int64(len(line))
			full := t.pending.String() + line
			t.pending.Reset()
			select {
			case out <- strings.TrimRight(full, "\r\n"):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		if !errors.Is(err, io.EOF) {
			t.obs.LogDebug("access_log_read_failed", ports.Field{Key: "error", Value: err.Error()})
		}
		// Keep a partial line until its newline arrives.
		t.offset += int64(len(line))
		t.pending.WriteString(line)

		if !t.sleep(ctx) {
			return nil
		}
		t.checkRotation()
	}
}

// open opens the file. When seekEnd is set the read position starts at the
// current end. It reports false if the file does not exist yet.
func (t *FileTailer) open(seekEnd bool) (bool, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return false, err
	}

	var offset int64
	if seekEnd {
		offset, err = f.Seek(0, io.SeekEnd)
		if err != nil {
			_ = f.Close()
			return false, err
		}
	}

	t.close()
	t.file = f
	t.info = info
	t.offset = offset
	t.reader = bufio.NewReaderSize(f, 64*1024)
	t.pending.Reset()
	t.head = nil
	t.sameHead()
	t.obs.LogDebug("access_log_opened", ports.Field{Key: "path", Value: t.path}, ports.Field{Key: "offset", Value: offset})
	return true, nil
}

// checkRotation reopens the file from its current end when the path now
// points at a different file, or seeks to the end when the file was
// truncated or rewritten in place.
func (t *FileTailer) checkRotation() {
	info, err := os.Stat(t.path)
	if err != nil {
		// Removed without replacement yet; keep draining the old handle.
		return
	}

	if !os.SameFile(t.info, info) {
		if ok, err := t.open(true); ok {
			t.obs.IncCounter(observability.TailerReopensTotal, 1)
			t.obs.LogDebug("access_log_reopened", ports.Field{Key: "path", Value: t.path})
		} else if err != nil {
			t.obs.LogDebug("access_log_reopen_failed", ports.Field{Key: "error", Value: err.Error()})
		}
		return
	}
	if info.Size() >= t.offset && t.sameHead() {
		return
	}

	offset, err := t.file.Seek(0, io.SeekEnd)
	if err != nil {
		t.obs.LogDebug("access_log_seek_failed", ports.Field{Key: "error", Value: err.Error()})
		return
	}
	t.offset = offset
	t.info = info
	t.reader.Reset(t.file)
	t.pending.Reset()
	t.head = nil
	t.sameHead()
	t.obs.IncCounter(observability.TailerReopensTotal, 1)
	t.obs.LogDebug("access_log_truncated", ports.Field{Key: "path", Value: t.path})
}

// sameHead reports whether the file still starts with the bytes seen before
// and extends head while the file is shorter than headSize.
func (t *FileTailer) sameHead() bool {
	buf := make([]byte, headSize)
	n, err := t.file.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return true
	}
	buf = buf[:n]
	if !bytes.HasPrefix(buf, t.head) {
		return false
	}
	t.head = buf
	return true
}

func (t *FileTailer) sleep(ctx context.Context) bool {
	timer := t.clock.NewTimer(t.interval, "tailer", "poll")
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (t *FileTailer) close() {
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
	}
}

var _ ports.LineCollector = (*FileTailer)(nil)
