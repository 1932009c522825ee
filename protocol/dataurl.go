package protocol

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	AudioMIME = "audio/flac"
	ImageMIME = "image/jpeg"
)

func DataURL(mime string, data []byte) string {
	var b strings.Builder
	enc := base64.StdEncoding
	b.Grow(len("data:;base64,") + len(mime) + enc.EncodedLen(len(data)))
	b.WriteString("data:")
	b.WriteString(mime)
	b.WriteString(";base64,")
	b.WriteString(enc.EncodeToString(data))
	return b.String()
}

// ParseDataURL accepts "data:<mime>;base64,<payload>" as well as a bare
// base64 payload, which is returned with an empty mime type.
func ParseDataURL(s string) (mime string, data []byte, err error) {
	payload := s
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found {
			return "", nil, fmt.Errorf("data url: missing payload separator")
		}
		var enc string
		mime, enc, _ = strings.Cut(header, ";")
		if enc != "base64" {
			return "", nil, fmt.Errorf("data url: unsupported encoding %q", enc)
		}
		payload = body
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("data url: %w", err)
	}
	return mime, data, nil
}
