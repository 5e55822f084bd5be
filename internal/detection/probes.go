package detection

import (
	"bytes"
	"encoding/base64"
)

// encodedProbeLen is how much of a payload the base64 probe looks at
const encodedProbeLen = 100

var fileTransferSignatures = [][]byte{
	[]byte("Content-Type: application/octet-stream"),
	[]byte("filename="),
	[]byte("PUT /upload"),
	[]byte("POST /file"),
}

var clipboardPatterns = [][]byte{
	{0x03, 0x00, 0x00, 0x00}, // RFB ServerCutText header
	[]byte("clipboard"),
	[]byte("copy"),
	[]byte("paste"),
}

var databasePatterns = [][]byte{
	[]byte("INSERT INTO"),
	[]byte("CREATE TABLE"),
}

// IsFileTransfer reports whether the payload carries upload framing
func IsFileTransfer(data []byte) bool {
	return containsAny(data, fileTransferSignatures)
}

// IsClipboard reports a clipboard marker, case-insensitively
func IsClipboard(data []byte) bool {
	return containsAny(bytes.ToLower(data), clipboardPatterns)
}

// HasDatabaseContent reports SQL dump statements
func HasDatabaseContent(data []byte) bool {
	return containsAny(data, databasePatterns)
}

// HasEncodedData reports whether the payload prefix decodes as base64 to
// more than 10 bytes. Characters outside the base64 alphabet are skipped
// before decoding. Any sufficiently base64-shaped prefix matches, so this
// is a heuristic with known false positives.
func HasEncodedData(data []byte) bool {
	if len(data) > encodedProbeLen {
		data = data[:encodedProbeLen]
	}

	filtered := make([]byte, 0, len(data))
	for _, b := range data {
		if isBase64Char(b) {
			filtered = append(filtered, b)
		}
	}
	if len(filtered) == 0 || len(filtered)%4 != 0 {
		return false
	}

	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(filtered)))
	n, err := base64.StdEncoding.Decode(decoded, filtered)
	if err != nil {
		return false
	}
	return n > 10
}

func isBase64Char(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '+', b == '/', b == '=':
		return true
	}
	return false
}

func containsAny(data []byte, patterns [][]byte) bool {
	for _, p := range patterns {
		if bytes.Contains(data, p) {
			return true
		}
	}
	return false
}
