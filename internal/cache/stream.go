package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

const drainChunkSize = 32 * 1024

// Stream passes bytes from a source through to the consumer while staging
// them in a temp file. The entry only becomes visible under its key when the
// source runs to completion; a stream abandoned mid-way leaves no trace.
type Stream struct {
	cache *Cache
	key   string
	src   io.Reader
	tmp   *os.File

	// drainBudget bounds how many more bytes Close may pull from the
	// source while trying to reach a natural end. Zero disables draining.
	drainBudget int64

	mu        sync.Mutex
	written   int64
	reading   bool
	committed bool
	failed    bool
	closed    bool
	onAbandon func()
}

// SetGenerated returns a Stream reading from src. Each Read forwards bytes
// to the caller and appends them to the staging file; when src reaches EOF
// the staged file is atomically published under key.
func (c *Cache) SetGenerated(key string, src io.Reader) (*Stream, error) {
	tmp, err := os.CreateTemp(c.dir, "*.part")
	if err != nil {
		return nil, fmt.Errorf("create cache temp file: %w", err)
	}

	return &Stream{
		cache: c,
		key:   key,
		src:   src,
		tmp:   tmp,
	}, nil
}

// SetDrainBudget allows Close to read up to n more bytes from the source in
// the hope of completing the entry after the consumer went away.
func (s *Stream) SetDrainBudget(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drainBudget = n
}

// OnAbandon registers a callback invoked when the stream gives up without
// completing the source, after the staging file has been discarded.
func (s *Stream) OnAbandon(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAbandon = f
}

func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, os.ErrClosed
	}
	if s.committed {
		s.mu.Unlock()
		return 0, io.EOF
	}
	// The source read happens outside the lock: a read blocked on a
	// stalled source must not keep Close from running.
	s.reading = true
	s.mu.Unlock()

	n, err := s.src.Read(p)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading = false

	if s.closed {
		// Close ran while the read was in flight and has already
		// discarded the staging file.
		return n, os.ErrClosed
	}
	if n > 0 {
		if _, writeErr := s.tmp.Write(p[:n]); writeErr != nil {
			s.failed = true
			return n, fmt.Errorf("stage cache entry %s: %w", s.key, writeErr)
		}
		s.written += int64(n)
	}

	if err != nil {
		if errors.Is(err, io.EOF) {
			if commitErr := s.commitLocked(); commitErr != nil {
				return n, commitErr
			}
			return n, io.EOF
		}
		s.failed = true
		return n, err
	}

	return n, nil
}

// Close finalizes the stream. If the source already completed this is a
// no-op; otherwise Close tries to drain the source within the configured
// budget and publishes the entry if it reaches a natural end, discarding the
// partial staging file when it cannot.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.committed {
		return nil
	}

	// An in-flight read still owns the source; draining would race it,
	// so the entry is given up instead.
	if !s.reading && !s.failed && s.drainBudget > 0 {
		if s.drainLocked() {
			return s.commitLocked()
		}
	}

	s.discardLocked()
	return nil
}

// drainLocked pulls remaining bytes from the source into the staging file,
// checking the budget at each chunk boundary. Reports whether the source
// reached EOF within budget.
func (s *Stream) drainLocked() bool {
	remaining := s.drainBudget
	buf := make([]byte, drainChunkSize)

	for remaining > 0 {
		chunk := int64(len(buf))
		if chunk > remaining {
			chunk = remaining
		}

		n, err := s.src.Read(buf[:chunk])
		if n > 0 {
			if _, writeErr := s.tmp.Write(buf[:n]); writeErr != nil {
				return false
			}
			s.written += int64(n)
			remaining -= int64(n)
		}

		if err != nil {
			return errors.Is(err, io.EOF)
		}
	}

	// The source may have ended exactly at the budget boundary; one more
	// read settles whether EOF was pending.
	n, err := s.src.Read(buf[:1])
	if n > 0 {
		if _, writeErr := s.tmp.Write(buf[:n]); writeErr != nil {
			return false
		}
		s.written += int64(n)
	}
	return errors.Is(err, io.EOF)
}

func (s *Stream) commitLocked() error {
	if s.committed {
		return nil
	}

	name := s.tmp.Name()
	if err := s.tmp.Close(); err != nil {
		os.Remove(name)
		s.failed = true
		return fmt.Errorf("close cache temp file: %w", err)
	}

	if err := s.cache.commit(name, s.key, s.written); err != nil {
		s.failed = true
		return err
	}

	s.committed = true
	return nil
}

func (s *Stream) discardLocked() {
	name := s.tmp.Name()
	s.tmp.Close()
	os.Remove(name)

	if s.onAbandon != nil {
		s.onAbandon()
	}
}
