package xpub

import (
	"strings"

	"golang.org/x/net/html/atom"
)

const (
	paragraphOpen  = "<p"
	paragraphClose = "</p>"
)

// ParagraphRegion is the position of one paragraph in a document. All fields
// are byte offsets: Start is the '<' of the opening tag, OpenTagEnd is just
// past its '>', and Close is the '<' of the matching </p>.
type ParagraphRegion struct {
	Start      int
	OpenTagEnd int
	Close      int
}

// OpenTag returns the paragraph's opening tag, attributes included.
func (p ParagraphRegion) OpenTag(doc string) string {
	return doc[p.Start:p.OpenTagEnd]
}

// Inner returns the text strictly between the opening tag and </p>.
func (p ParagraphRegion) Inner(doc string) string {
	return doc[p.OpenTagEnd:p.Close]
}

// End returns the offset just past the closing </p>.
func (p ParagraphRegion) End() int {
	return p.Close + len(paragraphClose)
}

// FindParagraph returns the first paragraph that starts at or after from.
// Only tags named exactly "p" match, which is stricter than matching every
// "<p" substring: <pre> and <param> are skipped, as are
// self-closing <p/> tags, which have no inner text. Nesting is not tracked:
// the paragraph ends at the first </p> after its opening tag.
//
// The boolean result is false when no further paragraph exists. A paragraph
// with no </p>, or whose opening tag has no '>' before it, is reported as a
// *MarkupError.
func FindParagraph(doc string, from int) (ParagraphRegion, bool, error) {
	for from < len(doc) {
		i := strings.Index(doc[from:], paragraphOpen)
		if i < 0 {
			break
		}
		start := from + i
		if !isParagraphTag(doc[start+1:]) {
			from = start + len(paragraphOpen)
			continue
		}

		gt := strings.IndexByte(doc[start:], '>')
		if gt > 0 && doc[start+gt-1] == '/' && !strings.Contains(doc[start+1:start+gt], "<") {
			from = start + gt + 1
			continue
		}

		rel := strings.Index(doc[start:], paragraphClose)
		if rel < 0 {
			return ParagraphRegion{}, false, &MarkupError{Offset: start, Err: ErrUnclosedParagraph}
		}
		closeAt := start + rel
		if gt < 0 || start+gt >= closeAt {
			return ParagraphRegion{}, false, &MarkupError{Offset: start, Err: ErrUnterminatedTag}
		}

		return ParagraphRegion{Start: start, OpenTagEnd: start + gt + 1, Close: closeAt}, true, nil
	}
	return ParagraphRegion{}, false, nil
}

// WrapParagraphs wraps the words of every paragraph in doc, left to right.
// Text outside paragraphs, and each paragraph's opening tag, are copied
// unchanged. Searching resumes after each rewritten paragraph, so no region
// is processed twice.
func WrapParagraphs(doc string) (string, error) {
	var b strings.Builder
	last := 0
	for {
		p, ok, err := FindParagraph(doc, last)
		if err != nil {
			return "", err
		}
		if !ok {
			break
		}
		if b.Len() == 0 {
			b.Grow(len(doc) * 2)
		}
		b.WriteString(doc[last:p.Start])
		b.WriteString(p.OpenTag(doc))
		b.WriteString(WrapWords(p.Inner(doc)))
		b.WriteString(paragraphClose)
		last = p.End()
	}
	if last == 0 {
		return doc, nil
	}
	b.WriteString(doc[last:])
	return b.String(), nil
}

// isParagraphTag reports whether s (the text after '<') starts with the tag
// name "p".
func isParagraphTag(s string) bool {
	name, ok := readTagName(s)
	return ok && atom.Lookup([]byte(name)) == atom.P
}
