// Package frontmatter reads and writes the optional metadata block at the
// top of a note file:
//
//	---
//	hidden: true
//	title: Release notes
//	link: https://example.com/post
//	guid: post-17
//	published: "2024-03-01T10:00:00Z"
//	source: https://example.com/feed.xml
//	---
//	body...
//
// Only the keys above are recognized. Encode writes them in that fixed order
// and Parse(Encode(m)) returns m unchanged.
package frontmatter

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const delimiter = "---"

// Meta holds the recognized metadata keys.
type Meta struct {
	Hidden    bool   `yaml:"hidden,omitempty"`
	Title     string `yaml:"title,omitempty"`
	Link      string `yaml:"link,omitempty"`
	GUID      string `yaml:"guid,omitempty"`
	Published string `yaml:"published,omitempty"`
	Source    string `yaml:"source,omitempty"`
}

// IsZero reports whether no recognized key is set.
func (m Meta) IsZero() bool {
	return m == Meta{}
}

// Document is a note file split into its metadata block and body.
type Document struct {
	Meta Meta
	// Header is the raw block including both delimiter lines and the
	// trailing newline. Keeping it verbatim preserves unknown keys.
	Header string
	Body   string
}

// HasHeader reports whether the file started with a metadata block.
func (d Document) HasHeader() bool {
	return d.Header != ""
}

// Content returns the text a note exposes for editing. A hidden block is
// stripped; a visible one stays part of the content.
func (d Document) Content() string {
	if d.Meta.Hidden {
		return d.Body
	}
	return d.Header + d.Body
}

// HiddenHeader returns the block that must be re-attached on write, or ""
// when the header is visible (it is already inside the content).
func (d Document) HiddenHeader() string {
	if d.Meta.Hidden {
		return d.Header
	}
	return ""
}

// Parse splits text into metadata and body. Text without a well-formed
// leading block (or with a block that is not valid YAML) is returned as a
// Document with an empty header and the whole text as body.
func Parse(text string) Document {
	header, inner, body, ok := split(text)
	if !ok {
		return Document{Body: text}
	}

	var meta Meta
	if err := yaml.Unmarshal([]byte(inner), &meta); err != nil {
		return Document{Body: text}
	}
	return Document{Meta: meta, Header: header, Body: body}
}

// split finds the leading "---" block. The opening delimiter must be the
// first line and the closing delimiter a line of its own.
func split(text string) (header, inner, body string, ok bool) {
	if !strings.HasPrefix(text, delimiter+"\n") && !strings.HasPrefix(text, delimiter+"\r\n") {
		return "", "", text, false
	}
	start := strings.Index(text, "\n") + 1
	rest := text[start:]
	offset := start
	for {
		idx := strings.Index(rest, "\n")
		var line string
		if idx < 0 {
			line = rest
		} else {
			line = rest[:idx]
		}
		if strings.TrimRight(line, "\r") == delimiter {
			end := offset + len(line)
			if idx >= 0 {
				end++
			}
			return text[:end], text[start:offset], text[end:], true
		}
		if idx < 0 {
			return "", "", text, false
		}
		offset += idx + 1
		rest = rest[idx+1:]
	}
}

// Encode renders m as a metadata block. A zero Meta encodes to "".
func Encode(m Meta) (string, error) {
	if m.IsZero() {
		return "", nil
	}
	var buf bytes.Buffer
	buf.WriteString(delimiter + "\n")

	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(m); err != nil {
		return "", fmt.Errorf("failed to encode frontmatter: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return "", fmt.Errorf("failed to encode frontmatter: %w", err)
	}

	buf.WriteString(delimiter + "\n")
	return buf.String(), nil
}

// Compose joins a hidden header and the note content into file text.
func Compose(hiddenHeader, content string) string {
	return hiddenHeader + content
}
