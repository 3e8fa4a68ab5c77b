package xpub

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
)

// utf8BOM is the UTF-8 byte order mark.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// xmlDeclEncoding matches the encoding pseudo-attribute of an XML declaration.
var xmlDeclEncoding = regexp.MustCompile(`^\s*<\?xml[^>]*?\sencoding\s*=\s*["']([A-Za-z0-9._:-]+)["']`)

// docEncoding records how a markup entry was encoded so it can be written
// back the same way. enc is nil for UTF-8.
type docEncoding struct {
	bom  []byte
	enc  encoding.Encoding
	name string
}

// detectEncoding determines the encoding of a markup entry. A UTF-8 byte
// order mark or an XML declaration wins; otherwise valid UTF-8 is taken as
// UTF-8 and anything else goes through HTML charset sniffing, which also
// recognizes UTF-16 byte order marks.
func detectEncoding(data []byte) docEncoding {
	if bytes.HasPrefix(data, utf8BOM) {
		return docEncoding{bom: utf8BOM, name: "utf-8"}
	}

	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	if m := xmlDeclEncoding.FindSubmatch(head); m != nil {
		// The declaration was readable as ASCII, so a UTF-16 or UTF-32 label
		// is wrong and the bytes are sniffed instead.
		if enc, name := charset.Lookup(string(m[1])); enc != nil && !isWideEncoding(name) {
			if name == "utf-8" {
				return docEncoding{name: name}
			}
			return docEncoding{enc: enc, name: name}
		}
	}

	if utf8.Valid(data) {
		return docEncoding{name: "utf-8"}
	}

	enc, name, _ := charset.DetermineEncoding(data, "application/xhtml+xml")
	if name == "utf-8" {
		return docEncoding{name: name}
	}
	return docEncoding{enc: enc, name: name}
}

// isWideEncoding reports whether name is a UTF-16 or UTF-32 encoding.
func isWideEncoding(name string) bool {
	name = strings.ToLower(name)
	return strings.HasPrefix(name, "utf-16") || strings.HasPrefix(name, "utf-32")
}

// decode returns the document text with any UTF-8 byte order mark removed.
func (d docEncoding) decode(data []byte) (string, error) {
	data = data[len(d.bom):]
	if d.enc == nil {
		return string(data), nil
	}
	out, err := d.enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("xpub: decode %s: %w", d.name, err)
	}
	return string(out), nil
}

// encode converts text back to the original encoding and restores the byte
// order mark. Characters the encoding cannot represent become numeric
// character references.
func (d docEncoding) encode(s string) ([]byte, error) {
	if d.enc == nil {
		out := make([]byte, 0, len(d.bom)+len(s))
		out = append(out, d.bom...)
		return append(out, s...), nil
	}
	out, err := encoding.HTMLEscapeUnsupported(d.enc.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("xpub: encode %s: %w", d.name, err)
	}
	return out, nil
}
