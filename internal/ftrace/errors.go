package ftrace

import "errors"

var (
	ErrMagicNotFound     = errors.New("ftrace magic not found")
	ErrInvalidEncoding   = errors.New("trace header is not valid UTF-8")
	ErrTruncatedEntry    = errors.New("truncated trace entry")
	ErrHeaderAlreadyRead = errors.New("trace header already read")
	ErrDepthMismatch     = errors.New("depth mismatch")
	ErrPrematureEOF      = errors.New("premature end of trace")
)
