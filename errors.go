package famsync

import "fmt"

// ErrorKind is the closed failure taxonomy shared by all storage operations.
type ErrorKind string

const (
	ErrorKindDecoding       ErrorKind = "decoding"
	ErrorKindEncoding       ErrorKind = "encoding"
	ErrorKindNotFound       ErrorKind = "notFound"
	ErrorKindCreationFailed ErrorKind = "creationFailed"
	ErrorKindDeletionFailed ErrorKind = "deletionFailed"
)

// StorageError is a storage operation failure carrying its kind and, when
// available, the underlying cause.
type StorageError struct {
	Kind  ErrorKind
	Cause error
}

func (e StorageError) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e StorageError) Unwrap() error {
	return e.Cause
}

// Is matches any StorageError of the same kind, so errors.Is(err, ErrNotFound)
// works regardless of cause.
func (e StorageError) Is(target error) bool {
	if t, ok := target.(StorageError); ok {
		return t.Kind == e.Kind
	}
	if t, ok := target.(*StorageError); ok {
		return t.Kind == e.Kind
	}
	return false
}

// Sentinels for errors.Is matching.
var (
	ErrDecoding       = StorageError{Kind: ErrorKindDecoding}
	ErrEncoding       = StorageError{Kind: ErrorKindEncoding}
	ErrNotFound       = StorageError{Kind: ErrorKindNotFound}
	ErrCreationFailed = StorageError{Kind: ErrorKindCreationFailed}
	ErrDeletionFailed = StorageError{Kind: ErrorKindDeletionFailed}
)
