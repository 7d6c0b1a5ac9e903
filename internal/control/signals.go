// Package control carries the out-of-band pause, continue and quit signals a
// user sends to a running task. Listeners mutate the flags; the control loop
// reads immutable snapshots at its checkpoints.
package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"
)

// ErrStopped is returned from checkpoints once a quit was requested.
var ErrStopped = errors.New("stop requested by user")

// Snapshot is the control state at one instant.
type Snapshot struct {
	Paused        bool
	StopRequested bool
}

// Command is a parsed user control instruction.
type Command int

const (
	CommandNone Command = iota
	CommandPause
	CommandContinue
	CommandQuit
)

// ParseCommand maps a listener line to a Command. Both the single-letter
// terminal shortcuts and the full control-file words are accepted.
func ParseCommand(line string) Command {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "p", "pause":
		return CommandPause
	case "c", "continue", "resume":
		return CommandContinue
	case "q", "quit", "stop":
		return CommandQuit
	}
	return CommandNone
}

// Signals holds the shared control flags. A nil *Signals is valid and never
// pauses or stops.
type Signals struct {
	state   atomic.Pointer[Snapshot]
	mu      sync.Mutex
	changed chan struct{}
	logger  *zap.Logger
}

// NewSignals creates a running, unpaused Signals.
func NewSignals(logger *zap.Logger) *Signals {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Signals{changed: make(chan struct{}), logger: logger.Named("control")}
	s.state.Store(&Snapshot{})
	return s
}

// Snapshot returns the current flags.
func (s *Signals) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	return *s.state.Load()
}

func (s *Signals) Pause()  { s.update(func(sn *Snapshot) { sn.Paused = true }) }
func (s *Signals) Resume() { s.update(func(sn *Snapshot) { sn.Paused = false }) }

// Stop requests the task to end. It also releases a paused loop.
func (s *Signals) Stop() {
	s.update(func(sn *Snapshot) {
		sn.StopRequested = true
		sn.Paused = false
	})
}

// Apply executes a command and reports whether it was recognised.
func (s *Signals) Apply(cmd Command) bool {
	if s == nil {
		return false
	}
	switch cmd {
	case CommandPause:
		s.Pause()
		s.logger.Info("Paused. Send 'c' or 'continue' to resume.")
	case CommandContinue:
		s.Resume()
		s.logger.Info("Resumed.")
	case CommandQuit:
		s.Stop()
		s.logger.Info("Stop requested.")
	default:
		return false
	}
	return true
}

func (s *Signals) update(fn func(*Snapshot)) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *s.state.Load()
	fn(&next)
	s.state.Store(&next)
	close(s.changed)
	s.changed = make(chan struct{})
}

// WaitWhilePaused blocks while the task is paused. It returns ErrStopped when
// a quit is pending and ctx.Err() when the context ends first.
func (s *Signals) WaitWhilePaused(ctx context.Context) error {
	if s == nil {
		return ctx.Err()
	}
	for {
		s.mu.Lock()
		snap := *s.state.Load()
		ch := s.changed
		s.mu.Unlock()

		if snap.StopRequested {
			return ErrStopped
		}
		if !snap.Paused {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// ListenLines reads commands line by line from r until r is exhausted, a quit
// arrives or ctx ends. The read itself is not interruptible, so callers close
// r to release the goroutine.
func (s *Signals) ListenLines(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		cmd := ParseCommand(scanner.Text())
		if s.Apply(cmd) && cmd == CommandQuit {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read control input: %w", err)
	}
	return nil
}

// ListenFile follows path and applies every new line written to it. It
// blocks until ctx ends or the tailer closes.
func (s *Signals) ListenFile(ctx context.Context, path string) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail control file: %w", err)
	}
	defer func() {
		// The tailer blocks on unread lines; drain until Stop closes the channel.
		go func() {
			for range t.Lines {
			}
		}()
		t.Stop()
		t.Cleanup()
	}()

	s.logger.Info("Listening for control commands", zap.String("file", path))
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				s.logger.Warn("Error reading control file", zap.Error(line.Err))
				continue
			}
			s.Apply(ParseCommand(line.Text))
		}
	}
}
