package quantity

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

var prefixes = []struct {
	symbol string
	scale  float64
}{
	{"G", 1e9},
	{"M", 1e6},
	{"k", 1e3},
	{"", 1},
	{"m", 1e-3},
	{"u", 1e-6},
	{"µ", 1e-6},
	{"n", 1e-9},
	{"p", 1e-12},
}

// Format renders v with an engineering prefix, e.g. 48000 Hz -> "48 kHz".
func Format(v float64, u Unit) string {
	sym := u.String()
	if u == None || u == Bits || v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return strings.TrimSpace(strconv.FormatFloat(v, 'g', 4, 64) + " " + sym)
	}
	abs := math.Abs(v)
	for _, p := range prefixes {
		if p.symbol == "u" {
			continue
		}
		if abs >= p.scale*0.9995 {
			return fmt.Sprintf("%s %s%s", strconv.FormatFloat(v/p.scale, 'g', 4, 64), p.symbol, sym)
		}
	}
	last := prefixes[len(prefixes)-1]
	return fmt.Sprintf("%s %s%s", strconv.FormatFloat(v/last.scale, 'g', 4, 64), last.symbol, sym)
}

// Parse reads a magnitude such as "48k", "30 ms", "4.7uF" or "1kΩ". A trailing
// unit symbol is accepted only if it matches u.
func Parse(s string, u Unit) (float64, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return 0, fmt.Errorf("quantity: empty value")
	}

	end := 0
	for end < len(in) {
		c := in[end]
		if (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '+' {
			end++
			continue
		}
		if (c == 'e' || c == 'E') && end+1 < len(in) && isExponentTail(in[end+1:]) {
			end++
			continue
		}
		break
	}
	if end == 0 {
		return 0, fmt.Errorf("quantity: invalid number %q", s)
	}
	v, err := strconv.ParseFloat(in[:end], 64)
	if err != nil {
		return 0, fmt.Errorf("quantity: invalid number %q", s)
	}

	rest := strings.TrimSpace(in[end:])
	if sym := u.String(); sym != "" {
		rest = strings.TrimSuffix(rest, sym)
	}
	if rest == "" {
		return v, nil
	}
	r, size := utf8.DecodeRuneInString(rest)
	if size != len(rest) {
		return 0, fmt.Errorf("quantity: unknown suffix %q in %q", rest, s)
	}
	for _, p := range prefixes {
		if p.symbol == string(r) {
			return v * p.scale, nil
		}
	}
	if r == 'K' {
		return v * 1e3, nil
	}
	return 0, fmt.Errorf("quantity: unknown suffix %q in %q", rest, s)
}

func isExponentTail(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '-' || s[0] == '+' {
		s = s[1:]
	}
	return s != "" && s[0] >= '0' && s[0] <= '9'
}
