package transcode

import (
	"errors"
	"io"
	"os/exec"
	"sync"
)

// Stream is the byte stream served to a client. Completion (the full content
// delivered) is distinguished from cancellation so play-count bookkeeping
// only fires for real listens.
type Stream struct {
	reader    io.Reader
	closers   []io.Closer
	onRelease func()

	MimeType        string
	EstimatedLength int64
	Transcoded      bool

	mu         sync.Mutex
	completed  bool
	closed     bool
	onComplete func()
}

// OnComplete registers a callback fired exactly once when the stream's full
// content has been delivered. Cancellation never fires it.
func (s *Stream) OnComplete(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = f
}

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.reader.Read(p)
	if errors.Is(err, io.EOF) {
		s.mu.Lock()
		if !s.completed {
			s.completed = true
			if s.onComplete != nil {
				s.onComplete()
			}
		}
		s.mu.Unlock()
	}
	return n, err
}

// Close releases everything behind the stream. For subprocess pipelines the
// cache stream is closed first so it can attempt its bounded drain while the
// processes are still alive, then the processes are terminated and reaped.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var firstErr error
	if len(s.closers) == 0 {
		if closer, ok := s.reader.(io.Closer); ok {
			firstErr = closer.Close()
		}
	}
	for _, closer := range s.closers {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.onRelease != nil {
		s.onRelease()
	}
	return firstErr
}

// processReader exposes the stdout of a one- or two-process pipeline as a
// reader. Reaching EOF reaps the processes; Close kills whatever is still
// running and reaps it, so neither path leaks zombies.
type processReader struct {
	stdout io.ReadCloser
	cmds   []*exec.Cmd

	once    sync.Once
	waitErr error
}

// startSingle spawns one process (a generic transcoder reading the source
// file itself) and captures its stdout.
func startSingle(args []string) (*processReader, error) {
	if len(args) == 0 {
		return nil, errors.New("empty command template")
	}
	cmd := exec.Command(args[0], args[1:]...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &processReader{stdout: stdout, cmds: []*exec.Cmd{cmd}}, nil
}

// startPair spawns decoder|encoder with the decoder's stdout piped into the
// encoder's stdin. A failure to start the encoder cleans the decoder up.
func startPair(decoderArgs []string, encoderArgs []string) (*processReader, error) {
	if len(decoderArgs) == 0 || len(encoderArgs) == 0 {
		return nil, errors.New("empty command template")
	}
	decoder := exec.Command(decoderArgs[0], decoderArgs[1:]...)
	encoder := exec.Command(encoderArgs[0], encoderArgs[1:]...)

	pipe, err := decoder.StdoutPipe()
	if err != nil {
		return nil, err
	}
	encoder.Stdin = pipe

	stdout, err := encoder.StdoutPipe()
	if err != nil {
		return nil, err
	}

	if err := decoder.Start(); err != nil {
		return nil, err
	}
	if err := encoder.Start(); err != nil {
		decoder.Process.Kill()
		decoder.Wait()
		return nil, err
	}

	return &processReader{stdout: stdout, cmds: []*exec.Cmd{decoder, encoder}}, nil
}

func (r *processReader) Read(p []byte) (int, error) {
	n, err := r.stdout.Read(p)
	if errors.Is(err, io.EOF) {
		r.reap()
	}
	return n, err
}

// Close terminates the pipeline. Safe to call after EOF: the processes have
// already exited and the kill is a no-op.
func (r *processReader) Close() error {
	for _, cmd := range r.cmds {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	}
	r.reap()
	return nil
}

func (r *processReader) reap() {
	r.once.Do(func() {
		for _, cmd := range r.cmds {
			if err := cmd.Wait(); err != nil && r.waitErr == nil {
				r.waitErr = err
			}
		}
	})
}
