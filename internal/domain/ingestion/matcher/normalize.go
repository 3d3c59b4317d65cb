package matcher

import (
	"strings"
	"unicode"
)

// Normalize canonicalizes a part number: uppercase, dashes and whitespace removed,
// leading zeros stripped per segment and from the result. An all-zero number is "0".
//
//	Normalize("0065-02050-05") == "6520505"
//	Normalize("65-02050-5")    == "6520505"
func Normalize(pn string) string {
	segments := strings.FieldsFunc(strings.ToUpper(pn), func(r rune) bool {
		return r == '-' || unicode.IsSpace(r)
	})
	if len(segments) == 0 {
		return ""
	}

	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(strings.TrimLeft(seg, "0"))
	}

	out := strings.TrimLeft(b.String(), "0")
	if out == "" {
		return "0"
	}
	return out
}
