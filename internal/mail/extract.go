// Package mail reads newsletters over IMAP, extracts their text, and sends
// summaries over SMTP.
package mail

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/url"
	"strings"

	htmltomd "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-shiori/go-readability"
	. "github.com/roelfdiedericks/tldr/internal/logging"

	// Register charset decoders (windows-1252, iso-8859-*, etc.)
	_ "github.com/emersion/go-message/charset"
)

// ExtractText returns the readable body of a raw RFC 5322 message.
//
// The first inline text/plain part wins. Parts without a Content-Type are
// sniffed. Without a plain part, the first inline text/html part is
// converted to Markdown, falling back to readability's plain-text extraction
// when conversion fails. Input that cannot be parsed as a message is
// returned as is (converted when it looks like HTML). An empty result means
// nothing usable was found.
func ExtractText(raw []byte) (string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", nil
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		L_debug("mail: not a MIME message, using raw body", "error", err)
		if sniff(raw) == "text/html" {
			return htmlToText(string(raw)), nil
		}
		return string(raw), nil
	}
	defer mr.Close()

	var plain, html string
	for plain == "" {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				L_debug("mail: unknown charset, reading part undecoded", "error", err)
			} else {
				L_debug("mail: failed to read part", "error", err)
				break
			}
		}
		if p == nil {
			break
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		if disp, _, _ := h.ContentDisposition(); disp == "attachment" {
			continue
		}
		ct, _, _ := mime.ParseMediaType(h.Get("Content-Type"))
		if ct != "" && ct != "text/plain" && ct != "text/html" {
			continue
		}
		b, err := io.ReadAll(p.Body)
		if err != nil {
			continue
		}
		if ct == "" {
			ct = sniff(b)
		}

		switch ct {
		case "text/plain":
			plain = string(b)
		case "text/html":
			if html == "" {
				html = string(b)
			}
		}
	}

	if strings.TrimSpace(plain) != "" {
		return plain, nil
	}
	if strings.TrimSpace(html) != "" {
		return htmlToText(html), nil
	}
	return "", nil
}

// sniff guesses the type of a body sent without a Content-Type header.
func sniff(b []byte) string {
	if mimetype.Detect(b).Is("text/html") {
		return "text/html"
	}
	return "text/plain"
}

// htmlToText converts newsletter HTML into Markdown-ish text.
func htmlToText(html string) string {
	md, err := htmltomd.ConvertString(html)
	if err == nil && strings.TrimSpace(md) != "" {
		return strings.TrimSpace(md)
	}
	if err != nil {
		L_warn("mail: html-to-markdown failed, falling back to readability", "error", err)
	}

	base := &url.URL{Scheme: "https", Host: "localhost"}
	article, readErr := readability.FromReader(strings.NewReader(html), base)
	if readErr != nil {
		L_warn("mail: readability failed, using raw html", "error", readErr)
		return html
	}
	return strings.TrimSpace(article.TextContent)
}

// Subject returns the decoded Subject header of a raw message, or "".
func Subject(raw []byte) string {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return ""
	}
	defer mr.Close()
	s, err := mr.Header.Subject()
	if err != nil {
		return mr.Header.Get("Subject")
	}
	return s
}
