package mail

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	// ```html ... ``` fences that models like to wrap HTML answers in
	codeFence = regexp.MustCompile("(?m)^[ \t]*```[a-zA-Z]*[ \t]*$\n?")
	bodyOpen  = regexp.MustCompile(`(?i)<body[^>]*>`)
	htmlish   = regexp.MustCompile(`(?i)<(html|body|div|p|h[1-6]|ul|ol|table|section|article)[\s>]`)
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderSummaryHTML turns an LLM summary into the HTML body of the summary
// email. Code fences are stripped, Markdown answers are rendered to HTML,
// and an "LLM Model: <model>" banner is inserted right after <body>
// (or at the top when there is no body tag).
func RenderSummaryHTML(summary, model string) string {
	s := strings.TrimSpace(codeFence.ReplaceAllString(summary, ""))

	if !htmlish.MatchString(s) {
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(s), &buf); err == nil {
			s = buf.String()
		} else {
			s = "<pre>" + html.EscapeString(s) + "</pre>"
		}
	}

	banner := "LLM Model: " + html.EscapeString(model) + "<br><br>"
	if loc := bodyOpen.FindStringIndex(s); loc != nil {
		return s[:loc[1]] + banner + s[loc[1]:]
	}
	return banner + s
}
