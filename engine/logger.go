package engine

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/samaelod/pcapreplay/types"
)

const (
	defaultLogLines = 1000
	fileQueue       = 256
	feedQueue       = 100
	flushEvery      = 100 * time.Millisecond
)

// ring holds the newest lines, overwriting the oldest once full.
type ring struct {
	buf  []string
	next int
	full bool
}

func newRing(n int) ring {
	return ring{buf: make([]string, n)}
}

func (r *ring) push(s string) {
	r.buf[r.next] = s
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) join() string {
	var b strings.Builder
	emit := func(lines []string) {
		for _, s := range lines {
			b.WriteString(s)
			b.WriteByte('\n')
		}
	}
	if r.full {
		emit(r.buf[r.next:])
	}
	emit(r.buf[:r.next])
	return b.String()
}

// Logger keeps the last lines in memory, appends every line to an optional
// file from a background writer and feeds a channel for live views.
type Logger struct {
	mu       sync.Mutex
	recent   ring
	minLevel types.Level
	mirror   io.Writer
	closed   bool

	toFile chan string
	feed   chan string
	done   chan struct{}
}

// NewLogger creates the file and its directory when path is set. A file that
// cannot be opened leaves the logger memory-only.
func NewLogger(path string, capacity int, minLevel types.Level) *Logger {
	if capacity <= 0 {
		capacity = defaultLogLines
	}

	l := &Logger{
		recent:   newRing(capacity),
		minLevel: minLevel,
		feed:     make(chan string, feedQueue),
		done:     make(chan struct{}),
	}

	f, err := createLogFile(path)
	if err != nil || f == nil {
		close(l.done)
		return l
	}

	l.toFile = make(chan string, fileQueue)
	go l.drain(f)
	return l
}

func createLogFile(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}

// SetMirror copies every accepted line to w, e.g. stderr outside the monitor.
func (l *Logger) SetMirror(w io.Writer) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.mirror = w
	l.mu.Unlock()
}

// Log formats one engine event. It has the shape of types.LogFunc.
func (l *Logger) Log(level types.Level, origin, msg string) {
	if l == nil || level < l.minLevel {
		return
	}
	l.Write(fmt.Sprintf("[%s] %-5s %s: %s", time.Now().Format("15:04:05"), level, origin, msg))
}

func (l *Logger) Write(line string) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	l.recent.push(line)
	if l.mirror != nil {
		fmt.Fprintln(l.mirror, line)
	}
	if l.toFile != nil {
		l.toFile <- line
	}

	select {
	case l.feed <- line:
	default:
	}
}

// ReadAll returns the retained lines, oldest first.
func (l *Logger) ReadAll() string {
	if l == nil {
		return ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recent.join()
}

// Chan delivers new lines to a live view. Lines are dropped when nobody reads.
func (l *Logger) Chan() <-chan string {
	if l == nil {
		return nil
	}
	return l.feed
}

// drain owns f: it buffers lines and flushes on a timer and at close.
func (l *Logger) drain(f *os.File) {
	defer close(l.done)
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	for {
		select {
		case line, ok := <-l.toFile:
			if !ok {
				return
			}
			w.WriteString(line)
			w.WriteByte('\n')
		case <-ticker.C:
			w.Flush()
		}
	}
}

// Close flushes pending lines to the file and ends the feed.
func (l *Logger) Close() {
	if l == nil {
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	if l.toFile != nil {
		close(l.toFile)
	}
	close(l.feed)
	l.mu.Unlock()

	<-l.done
}
