// Package protocol implements the chunked transport framing used between a
// search plugin process and its host. A frame ("chunk") is a header line of
// the form "chunked 1.0,<metaLen>,<bodyLen>\n" followed by exactly metaLen
// bytes of JSON metadata and bodyLen bytes of opaque payload.
//
// The codec carries no record semantics; bodies are passed through as raw
// bytes. Framing is exact-count, so any header or read failure mid-stream is
// unrecoverable: there is no way to resynchronize and no attempt is made.
package protocol
