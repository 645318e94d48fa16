package chat

import (
	"encoding/base64"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const fallbackFileType = "application/octet-stream"

// detectFileType sniffs the MIME type of a base64 data URL's payload.
func detectFileType(dataURL string) string {
	_, payload, ok := strings.Cut(dataURL, ",")
	if !ok {
		return fallbackFileType
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fallbackFileType
	}
	return mimetype.Detect(raw).String()
}
