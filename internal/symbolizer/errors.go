package symbolizer

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFormat     = errors.New("invalid trace metadata format")
	ErrInvalidIdentifier = errors.New("invalid module identifier")
	ErrModuleNotFound    = errors.New("debug object not found")
)

// ModuleNotFoundError reports a debug object missing from every search path.
type ModuleNotFoundError struct {
	Filename string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s not found in sources", ErrModuleNotFound, e.Filename)
}

func (e *ModuleNotFoundError) Is(target error) bool {
	return target == ErrModuleNotFound
}
