// File: codec/codec.go
// Package codec implements the wire framers used on top of the tcp layer.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Two framing conventions: newline-delimited lines with an out-of-band EOT
// marker, and a length-prefixed binary frame with a 4-byte magic and a
// 4-byte big-endian length.

package codec

import (
	"github.com/agilira/go-errors"
)

// Error codes reported on protocol violations.
const (
	ErrCodeInvalidMagic  = "CODEC_INVALID_MAGIC"
	ErrCodeInvalidLength = "CODEC_INVALID_LENGTH"
	ErrCodeOversizedMsg  = "CODEC_OVERSIZED_MESSAGE"
	ErrCodeBareNewline   = "CODEC_MESSAGE_CONTAINS_NEWLINE"
)

// Decode errors. A framer returning one of these closes the connection.
var (
	// ErrInvalidMagic: a length-prefixed frame did not start with the magic.
	ErrInvalidMagic = errors.New(ErrCodeInvalidMagic, "bad frame magic")
	// ErrInvalidLength: the length field was non-positive or above the cap.
	ErrInvalidLength = errors.New(ErrCodeInvalidLength, "bad frame length")
)
