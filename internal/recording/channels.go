package recording

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ParseChannelList splits a comma or semicolon separated channel list,
// trimming whitespace and upper-casing each name. Empty entries are dropped.
func ParseChannelList(value string) []string {
	upper := cases.Upper(language.Und)
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ';'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(strings.TrimSpace(f), " ", "")
		if f == "" {
			continue
		}
		out = append(out, upper.String(f))
	}
	return out
}
