package codec

import (
	"encoding/base64"
	"fmt"
	"mime"
	"pollsock.it/utils/errs"
	"strings"
)

// Codec turns tunnel payloads into HTTP bodies and back.
// Middleboxes that mangle binary bodies can be crossed with Base64, at a cost of a third more bytes.
type Codec interface {
	Name() string
	ContentType() string
	Encode(payload []byte) []byte
	Decode(body []byte) ([]byte, error)

	// EncodedLen is the body length of an n bytes payload.
	EncodedLen(n int) int
}

var (
	Raw    Codec = rawCodec{}
	Base64 Codec = base64Codec{}
)

// ByName looks a codec up by its configuration name; the empty name is Raw.
func ByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", Raw.Name():
		return Raw, nil
	case Base64.Name():
		return Base64, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// ByContentType picks the codec a peer used for a body; anything but text is Raw.
func ByContentType(contentType string) Codec {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err == nil && mediaType == "text/plain" {
		return Base64
	}
	return Raw
}

type rawCodec struct{}

func (rawCodec) Name() string {
	return "raw"
}

func (rawCodec) ContentType() string {
	return "application/octet-stream"
}

func (rawCodec) Encode(payload []byte) []byte {
	return payload
}

func (rawCodec) Decode(body []byte) ([]byte, error) {
	return body, nil
}

func (rawCodec) EncodedLen(n int) int {
	return n
}

type base64Codec struct{}

func (base64Codec) Name() string {
	return "base64"
}

func (base64Codec) ContentType() string {
	return "text/plain; charset=utf-8"
}

func (base64Codec) Encode(payload []byte) []byte {
	body := make([]byte, base64.StdEncoding.EncodedLen(len(payload)))
	base64.StdEncoding.Encode(body, payload)
	return body
}

func (base64Codec) Decode(body []byte) ([]byte, error) {
	payload := make([]byte, base64.StdEncoding.DecodedLen(len(body)))
	n, err := base64.StdEncoding.Decode(payload, body)
	if err != nil {
		return nil, errs.WithStack(err)
	}
	return payload[:n], nil
}

func (base64Codec) EncodedLen(n int) int {
	return base64.StdEncoding.EncodedLen(n)
}
