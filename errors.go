package vcdiff

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel error kinds, matched with errors.Is. Every error the decoder
// returns, other than the NeedInput/NeedSourceBlock suspend signals carried
// via Event, wraps exactly one of these.
var (
	ErrMalformedInput   = errors.New("malformed VCDIFF input")
	ErrUnsupported      = errors.New("unsupported VCDIFF feature")
	ErrChecksumMismatch = errors.New("Adler-32 checksum mismatch")
	ErrSourceTooShort   = errors.New("source document too short for copy")
	ErrOutOfMemory      = errors.New("out of memory")
	ErrInternalError    = errors.New("internal decoder error")
)

func malformed(format string, args ...interface{}) error {
	return errors.Wrap(ErrMalformedInput, fmt.Sprintf(format, args...))
}

func unsupported(format string, args ...interface{}) error {
	return errors.Wrap(ErrUnsupported, fmt.Sprintf(format, args...))
}

func checksumMismatch(expected, got uint32) error {
	return errors.Wrapf(ErrChecksumMismatch, "expected 0x%08x, got 0x%08x", expected, got)
}

func sourceTooShort(format string, args ...interface{}) error {
	return errors.Wrap(ErrSourceTooShort, fmt.Sprintf(format, args...))
}

func internalError(format string, args ...interface{}) error {
	return errors.Wrap(ErrInternalError, fmt.Sprintf(format, args...))
}
