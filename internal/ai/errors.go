package ai

import (
	"errors"
	"fmt"
)

var (
	ErrStreamTimeout = errors.New("timeout during event streaming")
	ErrUploadTimeout = errors.New("upload indexing did not finish in time")
)

type StreamErrorKind string

const (
	StreamTransport StreamErrorKind = "transport"
	StreamTimeout   StreamErrorKind = "timeout"
	StreamParse     StreamErrorKind = "parse"
)

// StreamError is returned for any failure of a chat round trip.
type StreamError struct {
	Kind StreamErrorKind
	Err  error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("ai stream %s: %v", e.Kind, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

type UploadErrorKind string

const (
	UploadRemote  UploadErrorKind = "remote"
	UploadTimeout UploadErrorKind = "timeout"
)

// UploadError is returned by the file upload and indexing calls.
type UploadError struct {
	Kind    UploadErrorKind
	Message string
	Err     error
}

func (e *UploadError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("upload %s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("upload %s: %s", e.Kind, e.Message)
	default:
		return fmt.Sprintf("upload %s: %v", e.Kind, e.Err)
	}
}

func (e *UploadError) Unwrap() error { return e.Err }

func streamErr(kind StreamErrorKind, err error) *StreamError {
	return &StreamError{Kind: kind, Err: err}
}

func remoteErr(msg string, err error) *UploadError {
	return &UploadError{Kind: UploadRemote, Message: msg, Err: err}
}
