package canonical

import (
	"bytes"
	"regexp"
	"strconv"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var ucsEscapeRe = regexp.MustCompile(`#U([0-9A-Fa-f]{4})`)

// decodeUCS expands #UXXXX escape sequences left behind by legacy archive
// tooling.
func decodeUCS(s string) string {
	return ucsEscapeRe.ReplaceAllStringFunc(s, func(m string) string {
		n, err := strconv.ParseUint(m[2:], 16, 32)
		if err != nil {
			return m
		}
		return string(rune(n))
	})
}

// decodeText turns raw payload bytes into repaired text. The bool result is
// false when the payload is not text at all (NUL-dense or undecodable), which
// downstream treats as corrupt.
func decodeText(payload []byte) (string, bool) {
	if len(payload) == 0 {
		return "", false
	}
	if isBinary(payload) {
		return "", false
	}
	var text string
	if utf8.Valid(payload) {
		text = string(payload)
	} else {
		// Legacy feeds arrive in windows-1251; the decoder cannot fail, so
		// accept only when the result reads as text.
		decoded, err := charmap.Windows1251.NewDecoder().Bytes(payload)
		if err != nil || !utf8.Valid(decoded) {
			return "", false
		}
		text = string(decoded)
	}
	text = decodeUCS(text)
	return fixMojibake(text), true
}

// isBinary flags payloads with NUL bytes or a high share of control bytes.
func isBinary(payload []byte) bool {
	if bytes.IndexByte(payload, 0) >= 0 {
		return true
	}
	sample := payload
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	control := 0
	for _, b := range sample {
		if b < 0x09 || (b > 0x0d && b < 0x20) {
			control++
		}
	}
	return control*10 > len(sample)
}

// fixMojibake recovers cp866 cyrillic text that was mis-decoded as cp437
// (the usual fate of cyrillic names inside ZIP archives). The repair is
// applied only when the input shows cp437 artifacts and no cyrillic, and is
// kept only when it actually produces cyrillic.
func fixMojibake(s string) string {
	if countCyrillic(s) > 0 || countCP437Artifacts(s) == 0 {
		return s
	}
	encoded, err := charmap.CodePage437.NewEncoder().String(s)
	if err != nil {
		return s
	}
	repaired, err := charmap.CodePage866.NewDecoder().String(encoded)
	if err != nil {
		return s
	}
	if countCyrillic(repaired) > countCyrillic(s) {
		return repaired
	}
	return s
}

func countCyrillic(s string) int {
	n := 0
	for _, r := range s {
		if unicode.Is(unicode.Cyrillic, r) {
			n++
		}
	}
	return n
}

// countCP437Artifacts counts runes from the cp437 high half (accented
// latin, Greek, box drawing), which is what cp866 cyrillic bytes render as
// under a cp437 decode.
func countCP437Artifacts(s string) int {
	n := 0
	for _, r := range s {
		if r <= 0x7f {
			continue
		}
		if b, ok := charmap.CodePage437.EncodeRune(r); ok && b >= 0x80 {
			n++
		}
	}
	return n
}
