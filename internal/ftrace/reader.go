package ftrace

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"unicode/utf8"
)

type readerState int

const (
	stateStart readerState = iota
	stateHeaderRead
	stateDraining
	stateEOF
)

// Reader streams a trace: first the header up to Magic, then fixed size
// entries until the end of the input. It never goes back.
type Reader struct {
	br     *bufio.Reader
	closer io.Closer
	header string
	state  readerState
	buf    [entrySize]byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// NewReaderSize is NewReader with an explicit buffer size (bufio enforces a
// minimum of 16 bytes).
func NewReaderSize(r io.Reader, size int) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, size)}
}

func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	r := NewReader(f)
	r.closer = f
	return r, nil
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Header returns the text preceding Magic. Empty until ReadHeader succeeded.
func (r *Reader) Header() string {
	return r.header
}

// ReadHeader scans for Magic and returns everything before it.
func (r *Reader) ReadHeader() (string, error) {
	if r.state != stateStart {
		return "", ErrHeaderAlreadyRead
	}

	var header []byte
	for {
		// Peek blocks until the buffer is full or the input ends, so the
		// search is independent of how the underlying reader chunks data.
		buf, err := r.br.Peek(r.br.Size())
		if i := bytes.Index(buf, Magic); i >= 0 {
			header = append(header, buf[:i]...)
			if _, err := r.br.Discard(i + len(Magic)); err != nil {
				return "", err
			}
			break
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", ErrMagicNotFound
			}
			return "", fmt.Errorf("read trace header: %w", err)
		}

		// keep a magic-sized tail minus one byte: it may be a marker prefix
		n := len(buf) - len(Magic) + 1
		header = append(header, buf[:n]...)
		if _, err := r.br.Discard(n); err != nil {
			return "", err
		}
	}

	if !utf8.Valid(header) {
		return "", ErrInvalidEncoding
	}
	r.header = string(header)
	r.state = stateHeaderRead
	slog.Debug("Read trace header", "bytes", len(header))
	return r.header, nil
}

// Next returns the next entry, or io.EOF once the input is exhausted. The
// header is read first if the caller has not done so.
func (r *Reader) Next() (RawEntry, error) {
	switch r.state {
	case stateStart:
		if _, err := r.ReadHeader(); err != nil {
			return 0, err
		}
	case stateEOF:
		return 0, io.EOF
	}
	r.state = stateDraining

	_, err := io.ReadFull(r.br, r.buf[:])
	switch {
	case err == nil:
		return RawEntry(binary.LittleEndian.Uint64(r.buf[:])), nil
	case errors.Is(err, io.EOF):
		r.state = stateEOF
		return 0, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		r.state = stateEOF
		return 0, ErrTruncatedEntry
	default:
		return 0, fmt.Errorf("read trace entry: %w", err)
	}
}
