package http

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// acceptEncoding is advertised unless compression is disabled.
const acceptEncoding = "gzip, deflate, br, zstd"

// ErrDecode marks a response body that arrived but could not be decoded.
var ErrDecode = errors.New("decoding response body")

// decodeBody wraps r with a decoder for the given Content-Encoding. Unknown
// and identity encodings pass through unchanged, as does an empty body
// whatever its declared encoding. The returned close function releases
// decoder resources. Decoder errors wrap ErrDecode; read errors from r are
// returned as is.
func decodeBody(encoding string, r io.Reader) (io.Reader, func(), error) {
	noop := func() {}

	encoding = strings.ToLower(strings.TrimSpace(encoding))
	if encoding == "" || encoding == "identity" {
		return r, noop, nil
	}

	br := bufio.NewReader(r)
	if _, err := br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return br, noop, nil
		}
		return nil, noop, err
	}

	switch encoding {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, noop, fmt.Errorf("%w: gzip: %w", ErrDecode, err)
		}
		return zr, func() { _ = zr.Close() }, nil
	case "deflate":
		return inflate(br)
	case "br":
		return brotli.NewReader(br), noop, nil
	case "zstd":
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, noop, fmt.Errorf("%w: zstd: %w", ErrDecode, err)
		}
		return zr, zr.Close, nil
	default:
		return br, noop, nil
	}
}

// inflate handles "deflate", which servers send either zlib-wrapped (as the
// RFC says) or as a raw deflate stream.
func inflate(br *bufio.Reader) (io.Reader, func(), error) {
	head, _ := br.Peek(2)
	if len(head) == 2 && head[0]&0x0f == 8 && (uint16(head[0])<<8|uint16(head[1]))%31 == 0 {
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, func() {}, fmt.Errorf("%w: deflate: %w", ErrDecode, err)
		}
		return zr, func() { _ = zr.Close() }, nil
	}
	fr := flate.NewReader(br)
	return fr, func() { _ = fr.Close() }, nil
}
