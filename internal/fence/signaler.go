package fence

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Signaler is the producer end of a fence, backed by an eventfd. Fences
// handed out by a Signaler become readable once Signal is called and stay
// readable; waiters never consume the signal.
type Signaler struct {
	mu       sync.Mutex
	fd       int
	signaled bool
}

var signalBytes = binary.NativeEndian.AppendUint64(nil, 1)

func NewSignaler() (*Signaler, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("fence: eventfd: %w", err)
	}
	return &Signaler{fd: fd}, nil
}

// Fence returns a new consumer handle. After Close it returns an already
// signaled fence, since closing always signals first.
func (s *Signaler) Fence() (*Fence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fd < 0 {
		return Signaled(), nil
	}
	fd, err := unix.FcntlInt(uintptr(s.fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("fence: dup eventfd: %w", err)
	}
	return &Fence{fd: fd}, nil
}

// Signal wakes every waiter. Repeated calls are no-ops.
func (s *Signaler) Signal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signalLocked()
}

func (s *Signaler) signalLocked() error {
	if s.signaled || s.fd < 0 {
		return nil
	}
	if _, err := unix.Write(s.fd, signalBytes); err != nil {
		return fmt.Errorf("fence: signal eventfd: %w", err)
	}
	s.signaled = true
	return nil
}

func (s *Signaler) Signaled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signaled
}

// Close signals any outstanding fences and releases the eventfd.
func (s *Signaler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fd < 0 {
		return nil
	}
	err := s.signalLocked()
	if cerr := unix.Close(s.fd); cerr != nil && err == nil {
		err = fmt.Errorf("fence: close eventfd: %w", cerr)
	}
	s.fd = noFd
	return err
}

// NewPair creates a Signaler together with its first fence.
func NewPair() (*Signaler, *Fence, error) {
	s, err := NewSignaler()
	if err != nil {
		return nil, nil, err
	}
	f, err := s.Fence()
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return s, f, nil
}
