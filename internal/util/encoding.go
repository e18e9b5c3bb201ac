package util

import (
	"encoding/base64"

	"golang.org/x/text/unicode/norm"
)

// textEncoding is URL-safe so bundles survive query strings and JSON without
// escaping. Strict mode rejects non-zero trailing bits, which keeps the
// text-to-bytes mapping one-to-one.
var textEncoding = base64.RawURLEncoding.Strict()

func Normalize(s string) string {
	return norm.NFKD.String(s)
}

func TextEncode(b []byte) string {
	return textEncoding.EncodeToString(b)
}

func TextDecode(s string) ([]byte, error) {
	return textEncoding.DecodeString(s)
}
