// Package fence implements sync fences on top of kernel file descriptors.
//
// A Fence is a handle to a completion signal. Every handle owns exactly one
// descriptor; Dup gives an independent handle to the same signal, so any
// number of consumers can wait on and close their own copy without affecting
// the others. A Fence with a negative descriptor is "no fence" and counts as
// already signaled, as does a nil *Fence.
package fence

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Forever makes Wait block until the fence signals.
const Forever time.Duration = -1

const (
	noFd     = -1
	closedFd = -2
)

var (
	ErrTimeout = errors.New("fence: wait timed out")
	ErrClosed  = errors.New("fence: handle closed")
)

type Status int

const (
	StatusSignaled Status = iota
	StatusPending
)

func (s Status) String() string {
	if s == StatusSignaled {
		return "signaled"
	}
	return "pending"
}

type Fence struct {
	mu sync.Mutex
	fd int
}

// FromFd wraps fd and takes ownership of it. A negative fd yields an
// already signaled fence.
func FromFd(fd int) *Fence {
	if fd < 0 {
		fd = noFd
	}
	return &Fence{fd: fd}
}

// Signaled returns a fence that carries no descriptor.
func Signaled() *Fence {
	return &Fence{fd: noFd}
}

// Fd returns the underlying descriptor without transferring ownership.
func (f *Fence) Fd() int {
	if f == nil {
		return noFd
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fd
}

// Valid reports whether the fence still holds a descriptor.
func (f *Fence) Valid() bool {
	return f.Fd() >= 0
}

// Dup returns a new handle to the same signal.
func (f *Fence) Dup() (*Fence, error) {
	if f == nil {
		return Signaled(), nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case f.fd == closedFd:
		return nil, ErrClosed
	case f.fd < 0:
		return Signaled(), nil
	}

	fd, err := unix.FcntlInt(uintptr(f.fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("fence: dup %d: %w", f.fd, err)
	}
	return &Fence{fd: fd}, nil
}

// Release hands the descriptor to the caller, who becomes responsible for
// closing it. The fence is left closed.
func (f *Fence) Release() int {
	if f == nil {
		return noFd
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fd := f.fd
	if fd == closedFd {
		fd = noFd
	}
	f.fd = closedFd
	return fd
}

// Close releases this handle. Other handles obtained through Dup stay valid.
func (f *Fence) Close() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	fd := f.fd
	f.fd = closedFd
	if fd < 0 {
		return nil
	}
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("fence: close %d: %w", fd, err)
	}
	return nil
}

// Wait blocks until the fence signals or timeout elapses. A timeout of
// Forever waits indefinitely and zero polls once. Wait must not race with
// Close on the same handle; concurrent waiters should each Dup.
func (f *Fence) Wait(timeout time.Duration) error {
	fd := f.Fd()
	switch {
	case fd == closedFd:
		return ErrClosed
	case fd < 0:
		return nil
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		ms := -1
		switch {
		case timeout == 0:
			ms = 0
		case timeout > 0:
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			ms = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("fence: poll %d: %w", fd, err)
		}
		if n == 0 {
			return ErrTimeout
		}

		revents := fds[0].Revents
		switch {
		case revents&unix.POLLNVAL != 0:
			return ErrClosed
		case revents&unix.POLLERR != 0:
			return fmt.Errorf("fence: error condition on fd %d", fd)
		}
		return nil
	}
}

// Status polls the fence without blocking.
func (f *Fence) Status() (Status, error) {
	switch err := f.Wait(0); {
	case err == nil:
		return StatusSignaled, nil
	case errors.Is(err, ErrTimeout):
		return StatusPending, nil
	default:
		return StatusPending, err
	}
}

func (f *Fence) String() string {
	return fmt.Sprintf("fence(%d)", f.Fd())
}
