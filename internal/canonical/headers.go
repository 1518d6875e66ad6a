package canonical

import (
	"fmt"
	"io"
	"mime"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// wordDecoder decodes RFC 2047 encoded-word headers, resolving charsets
// through htmlindex and failing only on ones it has never heard of.
var wordDecoder = &mime.WordDecoder{
	CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
		cs := strings.ToLower(strings.TrimSpace(charset))
		if cs == "utf-8" || cs == "us-ascii" || cs == "ascii" {
			return input, nil
		}
		enc, err := htmlindex.Get(cs)
		if err != nil {
			return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
		}
		return transform.NewReader(input, enc.NewDecoder()), nil
	},
}

// decodeHeaderWords decodes any =?charset?enc?...?= segments in raw,
// falling back to the raw string on decode failure.
func decodeHeaderWords(raw string) string {
	if raw == "" {
		return ""
	}
	decoded, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// cleanHeaderText collapses internal CRLF/LF/CR runs (inserted by folded
// header lines) to single spaces and trims.
func cleanHeaderText(s string) string {
	if s == "" {
		return ""
	}
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// decodeFilename tries, in order: (a) RFC 2047 word-decode, (b) the
// RFC 2231 parameter-continuation/charset form, already collapsed by
// mime.ParseMediaType upstream, (c) percent-decoding if a literal '%'
// remains, (d) the value as-is.
func decodeFilename(name string) string {
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "=?") && strings.HasSuffix(name, "?=") {
		if decoded := decodeHeaderWords(name); decoded != "" && decoded != name {
			return decoded
		}
	}
	if strings.Contains(name, "%") {
		if decoded, err := url.QueryUnescape(name); err == nil && decoded != "" && decoded != name {
			return decoded
		}
	}
	return name
}
