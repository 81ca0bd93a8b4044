package backend

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a store failure so callers can branch without
// inspecting message text.
type ErrorKind int

const (
	KindIO ErrorKind = iota
	KindNotFound
	KindIsDirectory
	KindInvalidPath
	KindNoMatch
	KindAmbiguousMatch
	KindInvalidPattern
	KindPermissionDenied
	KindOutOfRange
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindIsDirectory:
		return "is a directory"
	case KindInvalidPath:
		return "invalid path"
	case KindNoMatch:
		return "no match"
	case KindAmbiguousMatch:
		return "ambiguous match"
	case KindInvalidPattern:
		return "invalid pattern"
	case KindPermissionDenied:
		return "permission denied"
	case KindOutOfRange:
		return "out of range"
	default:
		return "i/o error"
	}
}

// Kind sentinels for errors.Is checks.
var (
	ErrNotFound         = &kindError{KindNotFound}
	ErrIsDirectory      = &kindError{KindIsDirectory}
	ErrInvalidPath      = &kindError{KindInvalidPath}
	ErrNoMatch          = &kindError{KindNoMatch}
	ErrAmbiguousMatch   = &kindError{KindAmbiguousMatch}
	ErrInvalidPattern   = &kindError{KindInvalidPattern}
	ErrPermissionDenied = &kindError{KindPermissionDenied}
	ErrOutOfRange       = &kindError{KindOutOfRange}
)

type kindError struct{ kind ErrorKind }

func (e *kindError) Error() string { return e.kind.String() }

// PathError records a store failure together with the operation and path.
type PathError struct {
	Op   string
	Path string
	Kind ErrorKind
	Err  error
}

func (e *PathError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Kind)
}

func (e *PathError) Unwrap() error { return e.Err }

// Is matches the kind sentinels, so errors.Is(err, ErrNotFound) works on
// any wrapped PathError.
func (e *PathError) Is(target error) bool {
	k, ok := target.(*kindError)
	return ok && k.kind == e.Kind
}

// NewError builds a PathError.
func NewError(op, path string, kind ErrorKind, err error) *PathError {
	return &PathError{Op: op, Path: path, Kind: kind, Err: err}
}

// KindOf returns the kind of err, or KindIO for errors that are not PathErrors.
func KindOf(err error) ErrorKind {
	var pe *PathError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindIO
}

// IsNotFound reports whether err is a not-found store error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
