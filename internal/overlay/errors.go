package overlay

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyAttached is returned by Attach on an attached overlay.
	ErrAlreadyAttached = errors.New("overlay already attached")
	// ErrNotAttached is returned by operations that need a surface.
	ErrNotAttached = errors.New("overlay not attached")
	// ErrNoLoader is reported when a URL source has no Loader configured.
	ErrNoLoader = errors.New("no loader configured for image source")
	// ErrDuplicateID is returned when a registry already holds the id.
	ErrDuplicateID = errors.New("duplicate overlay id")
	// ErrNotFound is returned for unknown registry ids.
	ErrNotFound = errors.New("overlay not found")
)

// LoadError wraps a failed extent load with the URL that failed.
type LoadError struct {
	URL string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.URL, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
