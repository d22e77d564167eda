package hal

import "fmt"

// Error is a device status code. ErrorNone is never returned as an error.
type Error int32

const (
	ErrorNone Error = iota
	ErrorBadConfig
	ErrorBadDisplay
	ErrorBadLayer
	ErrorBadParameter
	ErrorHasChanges
	ErrorNoResources
	ErrorNotValidated
	ErrorUnsupported
)

func (e Error) String() string {
	switch e {
	case ErrorNone:
		return "None"
	case ErrorBadConfig:
		return "BadConfig"
	case ErrorBadDisplay:
		return "BadDisplay"
	case ErrorBadLayer:
		return "BadLayer"
	case ErrorBadParameter:
		return "BadParameter"
	case ErrorHasChanges:
		return "HasChanges"
	case ErrorNoResources:
		return "NoResources"
	case ErrorNotValidated:
		return "NotValidated"
	case ErrorUnsupported:
		return "Unsupported"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(e))
	}
}

func (e Error) Error() string {
	return fmt.Sprintf("%s (%d)", e.String(), int32(e))
}
