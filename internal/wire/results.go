package wire

import (
	"regexp"
	"strconv"
)

var typeTagPattern = regexp.MustCompile(`type:\s*(\d+)\s+`)

// FormatQueryResults rewrites the "type: N " tags the DNS client embeds in its
// result strings into record type mnemonics, e.g. "type: 5 www.example.com"
// becomes "CNAME www.example.com". Unknown types render as TYPE<N>.
func FormatQueryResults(results string, names map[int]string) string {
	if results == "" {
		return ""
	}
	return typeTagPattern.ReplaceAllStringFunc(results, func(match string) string {
		sub := typeTagPattern.FindStringSubmatch(match)
		n, err := strconv.Atoi(sub[1])
		if err != nil {
			return match
		}
		if name, ok := names[n]; ok {
			return name + " "
		}
		return "TYPE" + sub[1] + " "
	})
}
