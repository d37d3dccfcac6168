package protocol

import "fmt"

// FramingError reports a bad header line or a truncated metadata/body read.
// After a FramingError the stream position can no longer be trusted and the
// invocation must terminate.
type FramingError struct {
	Reason string
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("framing error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("framing error: %s", e.Reason)
}

func (e *FramingError) Unwrap() error { return e.Err }

// MetadataError reports metadata bytes that could not be decoded as JSON.
// Like a FramingError it is fatal to the invocation.
type MetadataError struct {
	Err error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("metadata decode error: %v", e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }
