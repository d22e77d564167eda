// Package present drives a Display frame by frame: it owns a small pool of
// client-target buffers whose reuse is gated by the release fences the
// display hands back.
package present

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matjam/hwcsession/internal/fence"
	"github.com/matjam/hwcsession/internal/types"
)

var (
	ErrClosed         = errors.New("buffer queue closed")
	ErrNoBuffer       = errors.New("no buffer available")
	ErrBadSlot        = errors.New("invalid slot")
	ErrSlotState      = errors.New("slot in wrong state")
	ErrReleasePending = errors.New("release fence did not signal")
)

type slotState int

const (
	slotFree slotState = iota
	slotDequeued
	// slotHeld belongs to the display and has no release fence yet.
	slotHeld
)

type slot struct {
	buf     *types.Buffer
	state   slotState
	release *fence.Fence
}

// BufferQueue is a fixed pool of buffers. A buffer returned with Queue is
// handed out again only after its release fence has signaled.
type BufferQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	slots  []slot
	next   int
	closed bool
}

func NewBufferQueue(n, width, height int, format types.PixelFormat) *BufferQueue {
	if n < 1 {
		n = 1
	}
	q := &BufferQueue{slots: make([]slot, n)}
	q.cond = sync.NewCond(&q.mu)
	for i := range q.slots {
		q.slots[i].buf = types.NewBuffer(width, height, format)
	}
	return q
}

func (q *BufferQueue) Len() int { return len(q.slots) }

// Dequeue hands out the next free buffer, waiting up to timeout for a slot
// to come back and then up to timeout for its release fence. A timeout of
// zero or less waits until ctx is done.
func (q *BufferQueue) Dequeue(ctx context.Context, timeout time.Duration) (int, *types.Buffer, error) {
	idx, release, err := q.take(ctx, timeout)
	if err != nil {
		return -1, nil, err
	}

	wait := timeout
	if wait <= 0 {
		wait = fence.Forever
	}
	if err := release.Wait(wait); err != nil {
		q.mu.Lock()
		q.slots[idx].state = slotFree
		q.slots[idx].release = release
		q.cond.Broadcast()
		q.mu.Unlock()
		return -1, nil, fmt.Errorf("slot %d: %w: %w", idx, ErrReleasePending, err)
	}
	release.Close()

	q.mu.Lock()
	buf := q.slots[idx].buf
	q.mu.Unlock()
	return idx, buf, nil
}

func (q *BufferQueue) take(ctx context.Context, timeout time.Duration) (int, *fence.Fence, error) {
	wake := func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}
	var expired atomic.Bool
	if timeout > 0 {
		t := time.AfterFunc(timeout, func() {
			expired.Store(true)
			wake()
		})
		defer t.Stop()
	}
	stop := context.AfterFunc(ctx, wake)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return -1, nil, ErrClosed
		}
		if idx := q.pickLocked(); idx >= 0 {
			s := &q.slots[idx]
			s.state = slotDequeued
			release := s.release
			s.release = nil
			return idx, release, nil
		}
		if err := ctx.Err(); err != nil {
			return -1, nil, err
		}
		if expired.Load() {
			return -1, nil, ErrNoBuffer
		}
		q.cond.Wait()
	}
}

// pickLocked prefers a free slot whose fence has already signaled, then the
// oldest free slot in round-robin order.
func (q *BufferQueue) pickLocked() int {
	candidate := -1
	for i := 0; i < len(q.slots); i++ {
		idx := (q.next + i) % len(q.slots)
		s := &q.slots[idx]
		if s.state != slotFree {
			continue
		}
		if st, err := s.release.Status(); err == nil && st == fence.StatusSignaled {
			candidate = idx
			break
		}
		if candidate < 0 {
			candidate = idx
		}
	}
	if candidate >= 0 {
		q.next = (candidate + 1) % len(q.slots)
	}
	return candidate
}

func (q *BufferQueue) slotLocked(idx int, want ...slotState) (*slot, error) {
	if idx < 0 || idx >= len(q.slots) {
		return nil, fmt.Errorf("%w: %d", ErrBadSlot, idx)
	}
	s := &q.slots[idx]
	for _, w := range want {
		if s.state == w {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrSlotState, idx)
}

// Cancel returns a dequeued buffer that was never submitted.
func (q *BufferQueue) Cancel(idx int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, err := q.slotLocked(idx, slotDequeued)
	if err != nil {
		return err
	}
	s.state = slotFree
	q.cond.Broadcast()
	return nil
}

// Queue returns a buffer to the pool. It is reused once release signals. The
// queue takes ownership of release.
func (q *BufferQueue) Queue(idx int, release *fence.Fence) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, err := q.slotLocked(idx, slotDequeued, slotHeld)
	if err != nil {
		release.Close()
		return err
	}
	if q.closed {
		release.Close()
		return ErrClosed
	}
	s.release.Close()
	s.release = release
	s.state = slotFree
	q.cond.Broadcast()
	return nil
}

// Hold marks a submitted buffer as still owned by the display. It stays out
// of the pool until it is queued with a release fence.
func (q *BufferQueue) Hold(idx int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, err := q.slotLocked(idx, slotDequeued)
	if err != nil {
		return err
	}
	s.state = slotHeld
	return nil
}

// Close waits up to timeout for each outstanding release fence and then
// drops the pool. Buffers still held by the display are abandoned.
func (q *BufferQueue) Close(timeout time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	var pending []*fence.Fence
	for i := range q.slots {
		if q.slots[i].release != nil {
			pending = append(pending, q.slots[i].release)
			q.slots[i].release = nil
		}
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	var errs []error
	for _, f := range pending {
		if err := f.Wait(timeout); err != nil {
			errs = append(errs, err)
		}
		f.Close()
	}
	return errors.Join(errs...)
}
