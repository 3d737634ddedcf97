package llm

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// Image is a selected file read into memory, tagged with its MIME type.
type Image struct {
	Data     []byte
	MIMEType string
}

// ReadImage reads r exactly once. The declared MIME type wins when present,
// otherwise the content is sniffed. The bytes are not validated as an image.
func ReadImage(r io.Reader, declaredMIME string) (Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Image{}, &EncodingError{Err: err}
	}
	return Image{Data: data, MIMEType: resolveMIME(declaredMIME, data)}, nil
}

// Base64 returns the standard base64 payload without a data URL prefix.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL returns the image as a data:<mime>;base64, URL.
func (i Image) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", i.MIMEType, i.Base64())
}

// Size returns the image size in bytes.
func (i Image) Size() int {
	return len(i.Data)
}

// StripDataURLPrefix removes a leading data:<mime>;base64, prefix and returns
// the bare payload with the MIME type the prefix declared.
func StripDataURLPrefix(s string) (payload string, mimeType string) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return s, ""
	}
	header, rest, ok := strings.Cut(s, ",")
	if !ok {
		return s, ""
	}
	header = strings.TrimPrefix(header, "data:")
	header = strings.TrimSuffix(header, ";base64")
	return rest, header
}

// DecodeDataURL decodes a data URL or a bare base64 string into an Image.
func DecodeDataURL(s string) (Image, error) {
	payload, declared := StripDataURLPrefix(s)
	if payload == "" {
		return Image{}, &EncodingError{Err: errors.New("no image data")}
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, &EncodingError{Err: fmt.Errorf("invalid base64 payload: %w", err)}
	}
	return Image{Data: data, MIMEType: resolveMIME(declared, data)}, nil
}

// IsImageMIME reports whether mimeType is an image/* type.
func IsImageMIME(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

func resolveMIME(declared string, data []byte) string {
	if declared != "" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil && mediaType != "application/octet-stream" {
			return mediaType
		}
	}
	return http.DetectContentType(data)
}
