package summarize

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = "You are an expert assistant that summarizes articles into a well-structured HTML format."

const instructions = `Summarize the text delimited by the marker %[1]s.
Return the summary as HTML for readability, with these sections:
- the exact title of the article and its date, if they can be determined
- a one to two sentence high-level summary
- a section called Keywords listing the key concepts horizontally
- a one to three paragraph summary of the article`

// newSentinel returns a random delimiter for wrapping prompt sections.
func newSentinel() string {
	return "<<<TLDR-" + uuid.NewString() + ">>>"
}

// sentinelFor returns a sentinel that occurs in none of texts.
func sentinelFor(gen func() string, texts ...string) string {
	for {
		s := gen()
		clash := false
		for _, t := range texts {
			if strings.Contains(t, s) {
				clash = true
				break
			}
		}
		if !clash {
			return s
		}
	}
}

// buildPrompt renders the user prompt for one chunk. The running summary is
// passed as background context and the chunk as the material to summarize,
// each wrapped in sentinel.
func buildPrompt(sentinel, focus, running, chunk string) string {
	var b strings.Builder
	b.Grow(len(running) + len(chunk) + 1024)

	b.WriteString(fmt.Sprintf(instructions, sentinel))
	b.WriteString("\n")
	if f := strings.TrimSpace(focus); f != "" {
		b.WriteString(f)
		b.WriteString("\n")
	}
	b.WriteString("\nIf the background context below is not empty, fold it into your overall analysis. ")
	b.WriteString("It is not a separate section, only additional information.\n\n")

	b.WriteString("Background context: ")
	b.WriteString(sentinel)
	b.WriteString(running)
	b.WriteString(sentinel)
	b.WriteString("\n\nOriginal text: ")
	b.WriteString(sentinel)
	b.WriteString(chunk)
	b.WriteString(sentinel)
	return b.String()
}
