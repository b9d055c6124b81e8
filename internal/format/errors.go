package format

import "errors"

var (
	// ErrSignatureMismatch indicates a preamble did not start with the package magic.
	ErrSignatureMismatch = errors.New("format: signature mismatch")
	// ErrTruncated indicates the buffer lacked the bytes required for a structure.
	ErrTruncated = errors.New("format: truncated buffer")
	// ErrVersion indicates a preamble major version this build cannot interpret.
	ErrVersion = errors.New("format: unsupported preamble version")
	// ErrOffsetRange indicates a preamble offset resolves outside the package extent.
	ErrOffsetRange = errors.New("format: offset outside package extent")
	// ErrBadSize indicates a size field that contradicts the layout.
	ErrBadSize = errors.New("format: inconsistent size field")
)
