// Package sms implements the text codec and inbound-message parsing for a
// GSM modem operated in SMS text mode.
//
// Two encodings are supported. The GSM 7-bit default alphabet carries plain
// ASCII-ish text up to 160 characters. Everything else travels as UCS-2:
// big-endian UTF-16 code units rendered as uppercase hex, capped at 70
// characters. The decision is made per message, never per fragment.
package sms

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf16"
)

// Character limits of a single SMS per encoding.
const (
	MaxLenGSM  = 160
	MaxLenUCS2 = 70
)

// NeedsUCS2 reports whether text requires UCS-2 encoding. Any code point
// above 0x7F forces UCS-2, as does the euro sign, which is technically
// representable in the GSM extension table but mangled by enough firmwares
// that hex is the safe route.
func NeedsUCS2(text string) bool {
	for _, r := range text {
		if r > 0x7F || r == '€' {
			return true
		}
	}
	return false
}

// LengthError reports a message body that exceeds the single-SMS cap of its
// encoding. Concatenated (multi-part) messages are not supported.
type LengthError struct {
	Encoding string
	Limit    int
	Length   int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("sms: message too long for %s encoding: %d > %d characters",
		e.Encoding, e.Length, e.Limit)
}

// Validate checks the body against the length cap of the chosen encoding.
// Length is counted in characters (code points), not bytes.
func Validate(text string, ucs2 bool) error {
	n := len([]rune(text))
	if ucs2 {
		if n > MaxLenUCS2 {
			return &LengthError{Encoding: "UCS-2", Limit: MaxLenUCS2, Length: n}
		}
		return nil
	}
	if n > MaxLenGSM {
		return &LengthError{Encoding: "GSM-7", Limit: MaxLenGSM, Length: n}
	}
	return nil
}

// ToUCS2Hex encodes text as big-endian UTF-16 rendered as uppercase hex,
// the on-the-wire form the modem expects in UCS-2 mode. Code points outside
// the BMP become surrogate pairs (two code units, four hex bytes each).
func ToUCS2Hex(text string) string {
	units := utf16.Encode([]rune(text))
	buf := make([]byte, 0, len(units)*2)
	for _, u := range units {
		buf = append(buf, byte(u>>8), byte(u))
	}
	return strings.ToUpper(hex.EncodeToString(buf))
}

// FromUCS2Hex decodes an uppercase-or-lowercase hex UCS-2 string back to
// text. The input must decode to an even number of bytes.
func FromUCS2Hex(s string) (string, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("sms: invalid UCS-2 hex: %w", err)
	}
	if len(raw)%2 != 0 {
		return "", fmt.Errorf("sms: odd UCS-2 byte count %d", len(raw))
	}
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = uint16(raw[2*i])<<8 | uint16(raw[2*i+1])
	}
	return string(utf16.Decode(units)), nil
}

// looksLikeUCS2Hex reports whether a CMGR field is plausibly hex-encoded
// UCS-2: non-empty, hex digits only, and a multiple of four characters
// (whole 16-bit code units). Modems that deliver in UCS-2 mode hex-encode
// sender and body without marking them, so detection is heuristic.
func looksLikeUCS2Hex(s string) bool {
	if s == "" || len(s)%4 != 0 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'A' && r <= 'F':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}

// decodeField decodes a CMGR field that may or may not be UCS-2 hex,
// returning the input unchanged when it is not.
func decodeField(s string) string {
	if !looksLikeUCS2Hex(s) {
		return s
	}
	decoded, err := FromUCS2Hex(s)
	if err != nil {
		return s
	}
	return decoded
}
