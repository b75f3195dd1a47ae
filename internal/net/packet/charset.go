package packet

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// clientText is the charset of strings on the client wire. nil means UTF-8.
var clientText encoding.Encoding

// UseCharset selects the client string charset by WHATWG name ("utf-8",
// "big5", "gbk", ...). Call once at startup, before any session exists.
func UseCharset(name string) error {
	if name == "" || strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
		clientText = nil
		return nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return fmt.Errorf("client charset %q: %w", name, err)
	}
	clientText = enc
	return nil
}

func encodeText(s string) []byte {
	if clientText == nil || isASCII(s) {
		return []byte(s)
	}
	encoded, err := clientText.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// Fallback: write raw bytes (works for pure ASCII)
		return []byte(s)
	}
	return encoded
}

func decodeText(raw []byte) string {
	if clientText == nil || isASCII(string(raw)) {
		return string(raw)
	}
	decoded, err := clientText.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw) // fallback to raw bytes
	}
	return string(decoded)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
