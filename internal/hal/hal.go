// Package hal defines the boundary to a display composition device.
//
// A Composer is the handle to the hardware (or a simulation of it). Calls are
// keyed by display and layer identifiers; the hwc package builds the object
// model and the frame protocol on top. Fences passed in are consumed by the
// Composer and fences returned are owned by the caller.
package hal

import (
	"github.com/matjam/hwcsession/internal/fence"
	"github.com/matjam/hwcsession/internal/types"
)

type DisplayID uint64

type LayerID uint64

type ConfigID uint32

// Attributes of a single display configuration.
type Attributes struct {
	Width       int32
	Height      int32
	VsyncPeriod int64 // nanoseconds
	DpiX        float32
	DpiY        float32
}

// PresentOrValidateState tells which half of PresentOrValidateDisplay ran.
type PresentOrValidateState int

const (
	StatePresented PresentOrValidateState = iota
	StateValidated
)

// Callback receives device events. Calls come from a goroutine owned by the
// Composer and must not block.
type Callback interface {
	OnVsync(sequenceID int32, display DisplayID, timestamp int64)
	OnHotplug(sequenceID int32, display DisplayID, conn types.Connection, primary bool)
	OnRefresh(sequenceID int32, display DisplayID)
}

type Composer interface {
	// RegisterCallback replaces the active callback. Displays that are
	// already connected are reported again through OnHotplug.
	RegisterCallback(cb Callback, sequenceID int32)

	GetDisplayConfigs(display DisplayID) ([]ConfigID, error)
	GetDisplayAttributes(display DisplayID, config ConfigID) (Attributes, error)
	// GetActiveConfig returns ErrorBadConfig when no mode is set.
	GetActiveConfig(display DisplayID) (ConfigID, error)
	SetActiveConfig(display DisplayID, config ConfigID) error

	CreateLayer(display DisplayID) (LayerID, error)
	DestroyLayer(display DisplayID, layer LayerID) error

	SetClientTarget(display DisplayID, slot uint32, buffer *types.Buffer, acquire *fence.Fence, dataspace types.Dataspace) error
	// ValidateDisplay returns ErrorHasChanges together with nonzero counts
	// when the device wants different composition types or has requests.
	ValidateDisplay(display DisplayID) (numTypes, numRequests uint32, err error)
	GetChangedCompositionTypes(display DisplayID) (map[LayerID]types.Composition, error)
	AcceptDisplayChanges(display DisplayID) error
	PresentDisplay(display DisplayID) (*fence.Fence, error)
	PresentOrValidateDisplay(display DisplayID) (state PresentOrValidateState, numTypes, numRequests uint32, present *fence.Fence, err error)
	GetReleaseFences(display DisplayID) (map[LayerID]*fence.Fence, error)

	SetPowerMode(display DisplayID, mode types.PowerMode) error
	SetVsyncEnabled(display DisplayID, enabled bool) error

	SetLayerBuffer(display DisplayID, layer LayerID, slot uint32, buffer *types.Buffer, acquire *fence.Fence) error
	SetLayerBlendMode(display DisplayID, layer LayerID, mode types.BlendMode) error
	SetLayerColor(display DisplayID, layer LayerID, color types.Color) error
	SetLayerCompositionType(display DisplayID, layer LayerID, comp types.Composition) error
	SetLayerDataspace(display DisplayID, layer LayerID, dataspace types.Dataspace) error
	SetLayerDisplayFrame(display DisplayID, layer LayerID, frame types.Rect) error
	SetLayerPlaneAlpha(display DisplayID, layer LayerID, alpha float32) error
	SetLayerSidebandStream(display DisplayID, layer LayerID, stream *types.NativeHandle) error
	SetLayerSourceCrop(display DisplayID, layer LayerID, crop types.FRect) error
	SetLayerTransform(display DisplayID, layer LayerID, transform types.Transform) error
	SetLayerVisibleRegion(display DisplayID, layer LayerID, region types.Rect) error

	Close() error
}
