package memory

import "errors"

var (
	// ErrNotFound is returned when a memory, config or archive does not exist.
	ErrNotFound = errors.New("memory: not found")
	// ErrForbidden is returned when the caller does not own the memory.
	ErrForbidden = errors.New("memory: not owned by caller")
	// ErrInvalidKind is returned for an unknown memory kind.
	ErrInvalidKind = errors.New("memory: invalid kind")
	// ErrInvalidPatch is returned when a patch touches fields of another kind.
	ErrInvalidPatch = errors.New("memory: patch does not apply to kind")
	// ErrNotRestorable is returned for archives past their window or already restored.
	ErrNotRestorable = errors.New("memory: archive not restorable")
	// ErrEmptyContent is returned when required text is blank.
	ErrEmptyContent = errors.New("memory: empty content")
)
