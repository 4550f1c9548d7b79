package httpclient

import (
	"errors"
	"fmt"
	"io"
)

// DefaultMaxBodySize caps a downloaded package file.
const DefaultMaxBodySize int64 = 256 << 20

// TooLargeError reports that a body exceeded the read limit.
type TooLargeError struct {
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("response body exceeded limit of %d bytes", e.Limit)
}

// IsTooLarge reports whether err carries a TooLargeError.
func IsTooLarge(err error) bool {
	var limitErr *TooLargeError
	return errors.As(err, &limitErr)
}

// ReadAll reads r up to limit bytes. A limit of zero or less reads everything.
func ReadAll(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, &TooLargeError{Limit: limit}
	}
	return data, nil
}
