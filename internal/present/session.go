package present

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/matjam/hwcsession/internal/fence"
	"github.com/matjam/hwcsession/internal/hwc"
	"github.com/matjam/hwcsession/internal/types"
)

type Options struct {
	Dataspace types.Dataspace
	// FenceTimeout bounds every fence wait in the frame path.
	FenceTimeout time.Duration
	// PresentWait blocks PresentFrame until the frame has been latched.
	PresentWait bool
	// PresentOrValidate lets the device skip validation when nothing changed.
	PresentOrValidate bool
}

func DefaultOptions() Options {
	return Options{
		Dataspace:    types.DataspaceSRGB,
		FenceTimeout: time.Second,
		PresentWait:  true,
	}
}

type FrameResult struct {
	Slot int
	// Changes is the number of composition type changes accepted.
	Changes uint32
	// Skipped is set when the device presented without validating.
	Skipped bool
	// Released is false when the display did not hand back a release fence
	// for the buffer this frame.
	Released bool
}

// Session renders into a BufferQueue and pushes each buffer through the
// display as the client target of one layer.
type Session struct {
	display *hwc.Display
	layer   *hwc.Layer
	queue   *BufferQueue
	opts    Options

	mu     sync.Mutex
	held   []int
	frames uint64
}

func NewSession(display *hwc.Display, layer *hwc.Layer, queue *BufferQueue, opts Options) *Session {
	if opts.FenceTimeout == 0 {
		opts.FenceTimeout = time.Second
	}
	return &Session{
		display: display,
		layer:   layer,
		queue:   queue,
		opts:    opts,
	}
}

func (s *Session) Display() *hwc.Display { return s.display }

func (s *Session) Layer() *hwc.Layer { return s.layer }

func (s *Session) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// PresentFrame dequeues a buffer, lets draw fill it, and drives the display
// through target, validate, accept and present. The buffer goes back to the
// queue gated by its release fence. When the display withholds the fence the
// buffer stays held until a later frame brings one.
func (s *Session) PresentFrame(ctx context.Context, draw func(buf *types.Buffer) error) (FrameResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, buf, err := s.queue.Dequeue(ctx, s.opts.FenceTimeout)
	if err != nil {
		return FrameResult{Slot: -1}, fmt.Errorf("dequeue: %w", err)
	}
	res := FrameResult{Slot: slot}

	if draw != nil {
		if err := draw(buf); err != nil {
			s.queue.Cancel(slot)
			return res, fmt.Errorf("draw: %w", err)
		}
	}

	// CPU rendering has finished by now, so there is no acquire fence.
	if err := s.display.SetClientTarget(uint32(slot), buf, nil, s.opts.Dataspace); err != nil {
		s.queue.Cancel(slot)
		return res, err
	}

	pf, err := s.submit(&res)
	if err != nil {
		s.queue.Cancel(slot)
		return res, err
	}
	s.frames++

	s.collect(slot, &res)

	if s.opts.PresentWait {
		if err := pf.Wait(s.opts.FenceTimeout); err != nil {
			log.Warnf("present: display %d present fence: %v", s.display.ID(), err)
		}
	}
	pf.Close()

	return res, nil
}

func (s *Session) submit(res *FrameResult) (*fence.Fence, error) {
	if s.opts.PresentOrValidate {
		pov, err := s.display.PresentOrValidate()
		if err != nil {
			return nil, err
		}
		if pov.Presented {
			res.Skipped = true
			return pov.PresentFence, nil
		}
		res.Changes = pov.Validate.NumTypes
	} else {
		v, err := s.display.Validate()
		if err != nil {
			return nil, err
		}
		res.Changes = v.NumTypes
	}

	if err := s.display.AcceptChanges(); err != nil {
		return nil, err
	}
	return s.display.Present()
}

func (s *Session) collect(slot int, res *FrameResult) {
	fences, err := s.display.ReleaseFences()
	if err != nil {
		log.Warnf("present: display %d release fences: %v", s.display.ID(), err)
	}

	var release *fence.Fence
	for l, f := range fences {
		if l == s.layer {
			release = f
			continue
		}
		f.Close()
	}

	if release == nil {
		s.queue.Hold(slot)
		s.held = append(s.held, slot)
		log.Debugf("present: display %d holding slot %d without release fence", s.display.ID(), slot)
		return
	}
	res.Released = true

	// Held buffers were on screen before this one, so the new fence covers them.
	var still []int
	for _, h := range s.held {
		dup, err := release.Dup()
		if err != nil {
			log.Warnf("present: release fence dup: %v", err)
			still = append(still, h)
			continue
		}
		s.queue.Queue(h, dup)
	}
	s.held = still
	s.queue.Queue(slot, release)
}

// Close drains the queue, waiting a bounded time for outstanding buffers.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.queue.Close(s.opts.FenceTimeout)
	if errors.Is(err, fence.ErrTimeout) {
		log.Warnf("present: display %d buffers still busy at close", s.display.ID())
	}
	return err
}
