// Package tail follows an append-only log file. Lines already present when the
// stream is opened are returned once by Existing; lines appended afterwards are
// delivered in order on Lines until the file is removed, renamed, truncated, or
// the stream is closed.
package tail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ErrRotated reports that the followed file was removed, renamed or truncated.
var ErrRotated = errors.New("log file rotated or removed")

// maxLineBytes bounds the size of a pending partial line.
const maxLineBytes = 1 << 20

// Stream is a followed file.
type Stream struct {
	path     string
	file     *os.File
	reader   *bufio.Reader
	watcher  *fsnotify.Watcher
	existing []string
	partial  strings.Builder
	offset   int64

	lines  chan string
	cancel context.CancelFunc
	done   chan struct{}

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

// Open reads the current content of path and starts following it. The
// returned stream must be closed to release the file and watcher.
func Open(ctx context.Context, path string) (*Stream, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("create watcher for %s: %w", path, err)
	}
	// watch before the initial read so no append is missed
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		_ = file.Close()
		return nil, fmt.Errorf("watch log %s: %w", path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		path:    path,
		file:    file,
		reader:  bufio.NewReader(file),
		watcher: watcher,
		lines:   make(chan string),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	existing, err := s.readAvailable()
	if err != nil {
		cancel()
		_ = watcher.Close()
		_ = file.Close()
		return nil, err
	}
	s.existing = existing

	go s.follow(ctx)
	return s, nil
}

// Path returns the followed file.
func (s *Stream) Path() string {
	return s.path
}

// Existing returns the complete lines present when the stream was opened.
func (s *Stream) Existing() []string {
	return s.existing
}

// Lines delivers appended lines. It is closed when following stops; Err then
// reports why.
func (s *Stream) Lines() <-chan string {
	return s.lines
}

// Err returns the reason following stopped: ErrRotated, a read or watch
// error, or nil when the stream was closed or its context ended.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close stops following and releases the file and watcher. It is safe to
// call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		err = errors.Join(s.watcher.Close(), s.file.Close())
	})
	if err != nil {
		return fmt.Errorf("close log %s: %w", s.path, err)
	}
	return nil
}

func (s *Stream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Stream) follow(ctx context.Context) {
	defer close(s.done)
	defer close(s.lines)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if evt.Has(fsnotify.Remove) || evt.Has(fsnotify.Rename) {
				s.setErr(fmt.Errorf("%s: %w", s.path, ErrRotated))
				return
			}
			// unlinking a file that is still open only surfaces as Chmod
			if err := s.checkRotated(); err != nil {
				s.setErr(err)
				return
			}
			if !evt.Has(fsnotify.Write) {
				continue
			}
			lines, err := s.readAvailable()
			if err != nil {
				s.setErr(err)
				return
			}
			for _, line := range lines {
				select {
				case s.lines <- line:
				case <-ctx.Done():
					return
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.setErr(fmt.Errorf("watch log %s: %w", s.path, err))
			return
		}
	}
}

func (s *Stream) checkRotated() error {
	current, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", s.path, ErrRotated)
	}
	if err != nil {
		return fmt.Errorf("stat log %s: %w", s.path, err)
	}
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("stat log %s: %w", s.path, err)
	}
	if !os.SameFile(current, info) {
		return fmt.Errorf("%s replaced: %w", s.path, ErrRotated)
	}
	if info.Size() < s.offset {
		return fmt.Errorf("%s truncated: %w", s.path, ErrRotated)
	}
	return nil
}

// readAvailable reads every complete line up to the current end of file.
// A trailing fragment without a newline is kept until it is completed.
func (s *Stream) readAvailable() ([]string, error) {
	var lines []string
	for {
		chunk, err := s.reader.ReadString('\n')
		s.offset += int64(len(chunk))
		if strings.HasSuffix(chunk, "\n") {
			s.partial.WriteString(chunk)
			lines = append(lines, strings.TrimRight(s.partial.String(), "\r\n"))
			s.partial.Reset()
		} else if chunk != "" {
			if s.partial.Len()+len(chunk) > maxLineBytes {
				return lines, fmt.Errorf("read log %s: line exceeds %d bytes", s.path, maxLineBytes)
			}
			s.partial.WriteString(chunk)
		}
		if errors.Is(err, io.EOF) {
			return lines, nil
		}
		if err != nil {
			return lines, fmt.Errorf("read log %s: %w", s.path, err)
		}
	}
}
