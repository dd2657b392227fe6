package chunk

import (
	"fmt"
	"strings"
)

// Encoding is an HTTP content encoding.
type Encoding string

const (
	Identity Encoding = "identity"
	Gzip     Encoding = "gzip"
	Deflate  Encoding = "deflate"
	Zstd     Encoding = "zstd"
)

// AcceptEncoding is a suitable value for the Accept-Encoding header of
// requests whose responses are decoded with Decode.
const AcceptEncoding = "gzip, deflate, zstd"

// ParseEncoding parses a single content encoding token.  The empty string is
// Identity; "x-gzip" is an alias of Gzip.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "identity":
		return Identity, nil
	case "gzip", "x-gzip":
		return Gzip, nil
	case "deflate":
		return Deflate, nil
	case "zstd":
		return Zstd, nil
	default:
		return "", fmt.Errorf("unsupported content encoding %q", s)
	}
}

// Wrap returns a Source decoding src according to enc.
func (enc Encoding) Wrap(src Source) Source {
	switch enc {
	case Gzip:
		return NewGzipSource(src)
	case Deflate:
		return NewZlibSource(src)
	case Zstd:
		return NewZstdSource(src)
	default:
		return src
	}
}

// Decode returns a Source decoding src according to the value of a
// Content-Encoding header, which lists encodings in the order they were
// applied.
func Decode(src Source, contentEncoding string) (Source, error) {
	if strings.TrimSpace(contentEncoding) == "" {
		return src, nil
	}
	var encs []Encoding
	for _, token := range strings.Split(contentEncoding, ",") {
		enc, err := ParseEncoding(token)
		if err != nil {
			return nil, err
		}
		encs = append(encs, enc)
	}
	for i := len(encs) - 1; i >= 0; i-- {
		src = encs[i].Wrap(src)
	}
	return src, nil
}
