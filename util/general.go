package util

import (
	"errors"
	"io"
)

const defaultByteLimit = 512

var ErrMessageTooLong = errors.New("message is too long")

// ReadAtMost reads the whole reader unless it holds more than limit bytes, in which case ErrMessageTooLong is returned
// along with the bytes read so far.
func ReadAtMost(r io.Reader, limit int) ([]byte, error) {
	b := make([]byte, 0, min(defaultByteLimit, limit))

	for {
		if len(b) >= limit {
			return b, ErrMessageTooLong
		}
		if len(b) == cap(b) {
			// Add more capacity (let append pick how much).
			b = append(b, 0)[:len(b)]
		}
		n, err := r.Read(b[len(b):min(limit, cap(b))])
		b = b[:len(b)+n]
		if err != nil {
			if err == io.EOF {
				err = nil
			}
			return b, err
		}
	}
}
