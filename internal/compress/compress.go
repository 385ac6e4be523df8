// Package compress implements the Compressor: a gzip gate applied to
// outbound responses that are worth compressing.
package compress

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"strconv"
	"strings"
)

// minBodySize is the smallest body the gate will attempt to compress.
const minBodySize = 1024

var compressibleTypes = []string{
	"text/",
	"application/json",
	"application/javascript",
	"application/xml",
	"application/xhtml+xml",
}

// Eligible reports whether a response with the given request
// Accept-Encoding, response Content-Type, and body length should be
// gzip-encoded.
func Eligible(acceptEncoding, contentType string, bodyLen int) bool {
	if !strings.Contains(acceptEncoding, "gzip") {
		return false
	}
	if bodyLen < minBodySize {
		return false
	}
	ct := strings.ToLower(contentType)
	for _, prefix := range compressibleTypes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

// Compress gzip-encodes body into a freshly grown buffer — never a
// fixed-size scratch buffer that the compressed stream could overrun —
// and returns (encoded, true) only when the result is strictly smaller
// than the input. Otherwise it returns (body, false) and the caller
// must leave the response untouched.
func Compress(body []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return body, false
	}
	if err := w.Close(); err != nil {
		return body, false
	}
	if buf.Len() >= len(body) {
		return body, false
	}
	return buf.Bytes(), true
}

// Apply runs the full gate-then-compress sequence against resp's body,
// mutating headers and body in place when compression is applied.
func Apply(acceptEncoding string, header http.Header, body []byte) []byte {
	if !Eligible(acceptEncoding, header.Get("Content-Type"), len(body)) {
		return body
	}
	encoded, ok := Compress(body)
	if !ok {
		return body
	}
	header.Set("Content-Encoding", "gzip")
	header.Set("Content-Length", strconv.Itoa(len(encoded)))
	return encoded
}
