package features

import "unicode/utf16"

// Hash is the 32-bit signed rolling hash used for identifier columns:
// h = h*31 + unit over the UTF-16 code units of s, wrapping on overflow.
// Hash("") is 0. Distinct strings may collide; that precision loss is
// accepted for these columns.
func Hash(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(u)
	}
	return h
}
