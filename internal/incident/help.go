package incident

import (
	stdhtml "html"
	"strings"

	"golang.org/x/net/html"
)

// LineSeparator replaces line-break markup in help text.
const LineSeparator = "\n"

// breakTags end a line when opened or closed.
var breakTags = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// HelpText turns an escaped markup help template into plain text.
// Entities are unescaped, tags are stripped and line-break markup becomes
// LineSeparator. Blank lines are dropped and each line is trimmed.
func HelpText(raw string) string {
	z := html.NewTokenizer(strings.NewReader(stdhtml.UnescapeString(raw)))

	var lines []string
	var cur strings.Builder
	flush := func() {
		if line := strings.Join(strings.Fields(cur.String()), " "); line != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			flush()
			return strings.Join(lines, LineSeparator)
		case html.TextToken:
			cur.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if breakTags[string(name)] {
				flush()
			}
		}
	}
}
