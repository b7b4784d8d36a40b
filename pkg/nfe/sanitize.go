package nfe

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Límites de longitud de los campos de texto libre más usados.
const (
	MaxNameLength    = 60
	MaxStreetLength  = 60
	MaxProductLength = 120
	MaxRemarksLength = 5000
)

// SanitizeText normaliza texto libre para el XML: elimina acentos y caracteres de control,
// colapsa espacios y corta en maxLen runas (0 = sin límite).
func SanitizeText(s string, maxLen int) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	var b strings.Builder
	b.Grow(len(out))
	space := false
	for _, r := range out {
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsControl(r), r == unicode.ReplacementChar:
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	res := b.String()
	if maxLen > 0 {
		if rs := []rune(res); len(rs) > maxLen {
			res = strings.TrimSpace(string(rs[:maxLen]))
		}
	}
	return res
}
