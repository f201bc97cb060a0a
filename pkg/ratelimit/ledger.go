package ratelimit

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultCeiling is the number of calls allowed per window.
	DefaultCeiling = 1000
	// DefaultWindow is the trailing accounting period.
	DefaultWindow = 10 * time.Minute

	minRefill = time.Millisecond
	separator = ","
)

// Entry records count calls issued at At.
type Entry struct {
	Count int
	At    time.Time
}

// Ledger is a sliding-window request counter persisted to a file so that
// separate invocations sharing the file observe each other's usage.
//
// Every read-modify-write of the file happens under the ledger's mutex.
type Ledger struct {
	path    string
	ceiling int
	window  time.Duration
	now     func() time.Time

	mu sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithCeiling sets the per-window call ceiling.
func WithCeiling(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.ceiling = n
		}
	}
}

// WithWindow sets the trailing window length.
func WithWindow(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a ledger backed by the file at path. The file does not
// need to exist.
func NewLedger(path string, opts ...Option) *Ledger {
	l := &Ledger{
		path:    path,
		ceiling: DefaultCeiling,
		window:  DefaultWindow,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the backing file.
func (l *Ledger) Path() string { return l.path }

// Ceiling returns the per-window call ceiling.
func (l *Ledger) Ceiling() int { return l.ceiling }

// Window returns the trailing window length.
func (l *Ledger) Window() time.Duration { return l.window }

// Remaining returns the calls left in the current window and the time until
// the oldest counted entry leaves it. refillIn is at least one millisecond.
func (l *Ledger) Remaining() (int, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entries := l.load(now)
	return l.remaining(entries, now)
}

// Entries returns the entries currently inside the window, oldest first.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(l.now())
}

// Commit records n calls issued now. n <= 0 is a no-op.
func (l *Ledger) Commit(n int) error {
	if n <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entries := append(l.load(now), Entry{Count: n, At: now})
	if err := l.store(entries); err != nil {
		return fmt.Errorf("failed to commit %d requests to ledger: %w", n, err)
	}
	return nil
}

func (l *Ledger) remaining(entries []Entry, now time.Time) (int, time.Duration) {
	used := 0
	for _, e := range entries {
		used += e.Count
	}
	left := l.ceiling - used
	if left < 0 {
		left = 0
	}

	refill := minRefill
	if len(entries) > 0 {
		oldest := entries[0].At
		for _, e := range entries[1:] {
			if e.At.Before(oldest) {
				oldest = e.At
			}
		}
		if d := oldest.Add(l.window).Sub(now); d > refill {
			refill = d
		}
	}
	return left, refill
}

// load reads the file and keeps the well-formed entries inside the window.
// A missing or unreadable file counts as no usage. When anything was
// dropped the file is rewritten so it only holds live entries.
func (l *Ledger) load(now time.Time) []Entry {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return nil
	}

	cutoff := now.Add(-l.window)
	records := strings.Split(raw, separator)
	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		e, ok := parseEntry(rec)
		if !ok || !e.At.After(cutoff) {
			continue
		}
		entries = append(entries, e)
	}

	if len(entries) != len(records) {
		_ = l.store(entries)
	}
	return entries
}

func parseEntry(rec string) (Entry, bool) {
	countStr, tsStr, ok := strings.Cut(strings.TrimSpace(rec), ":")
	if !ok {
		return Entry{}, false
	}
	count, err := strconv.Atoi(countStr)
	if err != nil || count < 1 {
		return Entry{}, false
	}
	ms, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return Entry{}, false
	}
	return Entry{Count: count, At: time.UnixMilli(ms)}, true
}

func formatEntries(entries []Entry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = strconv.Itoa(e.Count) + ":" + strconv.FormatInt(e.At.UnixMilli(), 10)
	}
	return strings.Join(parts, separator)
}

// store replaces the file atomically with a temp file and rename.
func (l *Ledger) store(entries []Entry) error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(l.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(formatEntries(entries)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), l.path)
}
