package xpub

import (
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html/atom"
)

// Wrapper markup placed around every word and existing span. The handler
// takes no arguments besides the element; the injected script reads the
// element's rendered text when it is clicked.
const (
	wordOpen  = `<span onclick="window.translate(this)">`
	wordClose = `</span>`
)

// spanClose is the literal that ends an existing span payload.
const spanClose = "</span>"

// TokenKind identifies the kind of a Token.
type TokenKind int

const (
	// WordToken is a run of non-whitespace text outside any tag.
	WordToken TokenKind = iota
	// TagToken is a tag copied verbatim, from '<' through '>'.
	TagToken
	// SpanToken is an existing <span> element through its first </span>.
	SpanToken
	// WhitespaceToken is a maximal run of whitespace outside any tag.
	WhitespaceToken
)

func (k TokenKind) String() string {
	switch k {
	case WordToken:
		return "Word"
	case TagToken:
		return "Tag"
	case SpanToken:
		return "Span"
	case WhitespaceToken:
		return "Whitespace"
	}
	return "Unknown"
}

// Token is one lexical unit of a paragraph's inner text. Raw is always a
// substring of the tokenizer input, so concatenating every Raw reproduces the
// input exactly.
type Token struct {
	Kind TokenKind
	Raw  string
}

// Tokenizer splits the inner text of one paragraph into tokens. It is not a
// markup parser: it does not track nesting, and everything between '<' and
// the next '>' is opaque tag content, attribute values included.
//
// A Tokenizer is consumed as it is read and cannot be restarted.
type Tokenizer struct {
	src string
	pos int
}

// NewTokenizer returns a Tokenizer over s.
func NewTokenizer(s string) *Tokenizer {
	return &Tokenizer{src: s}
}

// Next returns the next token. The second result is false once the input is
// exhausted.
func (z *Tokenizer) Next() (Token, bool) {
	if z.pos >= len(z.src) {
		return Token{}, false
	}
	rest := z.src[z.pos:]
	r, _ := utf8.DecodeRuneInString(rest)

	var tok Token
	switch {
	case r == '<' && isSpanStart(rest):
		tok = Token{Kind: SpanToken, Raw: rest[:spanEnd(rest)]}
	case r == '<':
		tok = Token{Kind: TagToken, Raw: rest[:tagEnd(rest)]}
	case unicode.IsSpace(r):
		tok = Token{Kind: WhitespaceToken, Raw: rest[:runEnd(rest, true)]}
	default:
		tok = Token{Kind: WordToken, Raw: rest[:runEnd(rest, false)]}
	}

	// An existing span without its closing tag is passed through untouched.
	if tok.Kind == SpanToken && !hasSuffixFold(tok.Raw, spanClose) {
		tok.Kind = TagToken
	}

	z.pos += len(tok.Raw)
	return tok, true
}

// All returns the remaining tokens as a sequence.
func (z *Tokenizer) All() iter.Seq[Token] {
	return func(yield func(Token) bool) {
		for tok, ok := z.Next(); ok; tok, ok = z.Next() {
			if !yield(tok) {
				return
			}
		}
	}
}

// WrapWords rewrites the inner text of one paragraph so that every bare word
// and every existing span is wrapped in a clickable span. Tags and whitespace
// are copied unchanged.
//
// WrapWords is not idempotent: applying it to its own output wraps the
// wrapper spans again.
func WrapWords(inner string) string {
	var b strings.Builder
	b.Grow(len(inner) * 2)
	for tok := range NewTokenizer(inner).All() {
		switch tok.Kind {
		case WordToken, SpanToken:
			b.WriteString(wordOpen)
			b.WriteString(tok.Raw)
			b.WriteString(wordClose)
		default:
			b.WriteString(tok.Raw)
		}
	}
	return b.String()
}

// runEnd returns the byte length of the leading run of whitespace (space true)
// or of word characters (space false). A word ends at whitespace or '<'.
func runEnd(s string, space bool) int {
	for i, r := range s {
		if space {
			if !unicode.IsSpace(r) {
				return i
			}
			continue
		}
		if r == '<' || unicode.IsSpace(r) {
			return i
		}
	}
	return len(s)
}

// tagEnd returns the length of the tag starting at s[0], through its '>'.
// An unterminated tag runs to the end of s.
func tagEnd(s string) int {
	if i := strings.IndexByte(s, '>'); i >= 0 {
		return i + 1
	}
	return len(s)
}

// spanEnd returns the length of the existing span starting at s[0], through
// the first </span> (ASCII case-insensitive). Nested spans are not tracked.
func spanEnd(s string) int {
	if i := indexFold(s, spanClose); i >= 0 {
		return i + len(spanClose)
	}
	return len(s)
}

// isSpanStart reports whether s begins with a <span> opening tag. The tag
// name is read in full and compared, so <strong>, <sub> or <section> do not
// match. A self-closing <span/> has no payload and is treated as a plain tag.
func isSpanStart(s string) bool {
	name, ok := readTagName(s[1:])
	if !ok || atom.Lookup([]byte(name)) != atom.Span {
		return false
	}
	end := tagEnd(s)
	return end < 2 || s[end-1] != '>' || s[end-2] != '/'
}

// readTagName reads the tag name at the start of s (the text after '<') and
// returns it lowercased. ok is false when s does not start with a name or the
// name is followed by something other than whitespace, '>', '/' or the end of
// input.
func readTagName(s string) (name string, ok bool) {
	i := 0
	for i < len(s) && isNameByte(s[i]) {
		i++
	}
	if i == 0 {
		return "", false
	}
	if i < len(s) {
		switch s[i] {
		case ' ', '\t', '\n', '\r', '\f', '>', '/':
		default:
			return "", false
		}
	}
	return strings.ToLower(s[:i]), true
}

func isNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '-' || c == '_' || c == ':' || c == '.'
}

// indexFold returns the index of the first ASCII case-insensitive occurrence
// of the ASCII string sub in s, or -1.
func indexFold(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if equalFoldASCII(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}

func hasSuffixFold(s, suffix string) bool {
	return len(s) >= len(suffix) && equalFoldASCII(s[len(s)-len(suffix):], suffix)
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if lowerASCII(a[i]) != lowerASCII(b[i]) {
			return false
		}
	}
	return true
}

func lowerASCII(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
