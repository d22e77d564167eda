package hwc

import (
	"errors"
	"fmt"

	"github.com/matjam/hwcsession/internal/hal"
)

// Error kinds. Every error returned by this package matches exactly one of
// them with errors.Is.
var (
	// ErrNotFound means a display or configuration is absent. This is an
	// expected outcome, not an exceptional one.
	ErrNotFound = errors.New("not found")
	// ErrBadState means the operation is invalid in the current frame
	// protocol state. Skip the frame.
	ErrBadState = errors.New("bad state")
	// ErrUnsupported means the device rejected an attribute value.
	ErrUnsupported = errors.New("unsupported")
	// ErrTransient means the device is busy; retry next frame.
	ErrTransient = errors.New("transient")
	// ErrFatal means the display or device handle is no longer valid. Tear
	// down and resynchronise through hot-plug.
	ErrFatal = errors.New("fatal")
)

// Error describes a failed operation on a display.
type Error struct {
	Op      string
	Display hal.DisplayID
	Kind    error
	// Err is the underlying device error, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s display %d: %v", e.Op, e.Display, e.Kind)
	}
	return fmt.Sprintf("%s display %d: %v: %v", e.Op, e.Display, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether the caller should log the error and carry on
// with the next frame.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrUnsupported)
}

func newError(op string, id hal.DisplayID, kind error) error {
	return &Error{Op: op, Display: id, Kind: kind}
}

// wrapHAL classifies a device error.
func wrapHAL(op string, id hal.DisplayID, err error) error {
	if err == nil {
		return nil
	}
	kind := ErrFatal
	var code hal.Error
	if errors.As(err, &code) {
		switch code {
		case hal.ErrorBadDisplay, hal.ErrorBadLayer:
			kind = ErrFatal
		case hal.ErrorBadConfig:
			kind = ErrNotFound
		case hal.ErrorBadParameter, hal.ErrorUnsupported:
			kind = ErrUnsupported
		case hal.ErrorNoResources:
			kind = ErrTransient
		case hal.ErrorNotValidated:
			kind = ErrBadState
		}
	}
	return &Error{Op: op, Display: id, Kind: kind, Err: err}
}
