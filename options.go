package arraystream

import (
	"github.com/go-kit/log"

	"github.com/arnodel/arraystream/chunk"
)

type options struct {
	encoding       chunk.Encoding
	logger         log.Logger
	maxElementSize int
}

// An Option configures a Stream.
type Option func(*options)

// WithEncoding decompresses the source according to enc before scanning it.
func WithEncoding(enc chunk.Encoding) Option {
	return func(o *options) {
		if enc == chunk.Identity {
			enc = ""
		}
		o.encoding = enc
	}
}

// WithGzip decompresses a gzip source before scanning it.
func WithGzip() Option {
	return WithEncoding(chunk.Gzip)
}

// WithLogger sets the logger the Stream reports its outcome to.  By default
// nothing is logged.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = log.NewNopLogger()
		}
		o.logger = logger
	}
}

// WithMaxElementSize makes the stream fail with ErrMalformedJSON when an
// element is larger than n bytes.  It bounds the memory used on hostile input.
// 0 means no limit.
func WithMaxElementSize(n int) Option {
	return func(o *options) {
		o.maxElementSize = n
	}
}
