package ics

import "strings"

// textEscaper escapes TEXT values. strings.Replacer scans left to right
// and never rescans its own output, so a backslash introduced for ';'
// is not escaped a second time.
var textEscaper = strings.NewReplacer(
	`\`, `\\`,
	`;`, `\;`,
	`,`, `\,`,
	"\r\n", `\n`,
	"\n", `\n`,
	"\r", `\n`,
)

// EscapeText escapes a TEXT property value for writing.
func EscapeText(s string) string {
	return textEscaper.Replace(s)
}

// UnescapeText reverses EscapeText. It is a single pass, so "\\n" yields
// a backslash followed by 'n' rather than a newline. Unknown escapes are
// kept verbatim.
func UnescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		switch n := s[i+1]; n {
		case 'n', 'N':
			b.WriteByte('\n')
			i++
		case ',', ';', '\\':
			b.WriteByte(n)
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
