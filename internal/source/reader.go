package source

// reader.go cleans up a CSV response body while it streams in:
//
//   - bomReader: drops a leading UTF-8 BOM (0xEF 0xBB 0xBF)
//   - utf8Sanitizer: replaces invalid UTF-8 bytes with '?'
//   - countingReader: counts the raw bytes received
//
// readBody stacks all three and enforces the body cap.

import (
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrBodyTooLarge is returned when a response exceeds the configured cap.
var ErrBodyTooLarge = errors.New("response body too large")

// utf8Sanitizer rewrites invalid UTF-8 to '?' in place. Multi-byte
// sequences split across reads are carried over to the next call.
type utf8Sanitizer struct {
	r       io.Reader
	pending []byte
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{r: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := 0
	if len(s.pending) > 0 {
		offset = copy(p, s.pending)
		s.pending = append(s.pending[:0], s.pending[offset:]...)
		if len(s.pending) > 0 {
			// p is smaller than the carried-over bytes
			return offset, nil
		}
	}

	n, err := s.r.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	if isASCII(p[:n]) {
		return n, err
	}
	return s.sanitize(p[:n], err == io.EOF), err
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// sanitize compacts data in place and returns the number of bytes to hand
// out. Unless atEOF, a trailing rune whose remaining bytes have not
// arrived yet is held back in pending.
func (s *utf8Sanitizer) sanitize(data []byte, atEOF bool) int {
	if utf8.Valid(data) {
		return len(data)
	}

	write := 0
	for read := 0; read < len(data); {
		if !atEOF && !utf8.FullRune(data[read:]) {
			s.pending = append(s.pending, data[read:]...)
			return write
		}

		r, size := utf8.DecodeRune(data[read:])
		if r == utf8.RuneError && size == 1 {
			data[write] = '?'
			write++
			read++
			continue
		}
		copy(data[write:], data[read:read+size])
		write += size
		read += size
	}
	return write
}

// bomReader skips a UTF-8 byte order mark at the start of the stream.
// Spreadsheet exports saved on Windows commonly carry one.
type bomReader struct {
	r       io.Reader
	checked bool
	head    []byte
}

func newBOMReader(r io.Reader) *bomReader {
	return &bomReader{r: r}
}

func (b *bomReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true

		var buf [3]byte
		n, err := io.ReadFull(b.r, buf[:])
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return 0, err
		}
		if !(n == 3 && buf[0] == 0xEF && buf[1] == 0xBB && buf[2] == 0xBF) {
			b.head = append([]byte(nil), buf[:n]...)
		}
		if n < 3 && len(b.head) == 0 {
			return 0, io.EOF
		}
	}

	if len(b.head) > 0 {
		n := copy(p, b.head)
		b.head = b.head[n:]
		return n, nil
	}
	return b.r.Read(p)
}

// countingReader counts bytes pulled from the wrapped reader.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// readBody reads at most limit bytes of r through the BOM and UTF-8
// cleanup readers. It returns the cleaned text and the number of raw
// bytes consumed. A limit <= 0 disables the cap.
func readBody(r io.Reader, limit int64) (string, int64, error) {
	counter := &countingReader{r: r}

	var src io.Reader = counter
	if limit > 0 {
		src = io.LimitReader(counter, limit+1)
	}

	data, err := io.ReadAll(newUTF8Sanitizer(newBOMReader(src)))
	if err != nil {
		return "", counter.n, fmt.Errorf("read body: %w", err)
	}
	if limit > 0 && counter.n > limit {
		return "", counter.n, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	return string(data), counter.n, nil
}
