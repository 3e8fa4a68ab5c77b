package xpub

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func newTestTransformer(t *testing.T) *Transformer {
	t.Helper()
	tr, err := NewTransformer("es", "")
	if err != nil {
		t.Fatalf("NewTransformer() error = %v", err)
	}
	return tr
}

// TestTransform_Scenarios covers the documented input/output pairs. The
// interaction block is appended to documents without </body>, so it is
// trimmed before comparing.
func TestTransform_Scenarios(t *testing.T) {
	tr := newTestTransformer(t)
	block := tr.injector.Block()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "words wrapped, whitespace kept",
			input: "<p>Hello world</p>",
			want:  "<p>" + w("Hello") + " " + w("world") + "</p>",
		},
		{
			name:  "no paragraph",
			input: "<div>Unchanged</div>",
			want:  "<div>Unchanged</div>",
		},
		{
			name:  "existing span wrapped once",
			input: "<p>Hello <span>beautiful</span> world</p>",
			want:  "<p>" + w("Hello") + " " + w("<span>beautiful</span>") + " " + w("world") + "</p>",
		},
		{
			name:  "opening tag attributes verbatim",
			input: `<p id="last">Last paragraph.</p>`,
			want:  `<p id="last">` + w("Last") + " " + w("paragraph.") + "</p>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tr.Transform(tt.input)
			if err != nil {
				t.Fatalf("Transform() error = %v", err)
			}
			if !strings.HasSuffix(got, block) {
				t.Fatal("interaction block was not appended")
			}
			if body := strings.TrimSuffix(got, block); body != tt.want {
				t.Errorf("Transform(%q) =\n%q\nwant\n%q", tt.input, body, tt.want)
			}
		})
	}
}

func TestTransform_Unclosed(t *testing.T) {
	tr := newTestTransformer(t)
	got, err := tr.Transform("<p>Unclosed paragraph")
	if !errors.Is(err, ErrMalformedMarkup) {
		t.Fatalf("Transform() error = %v; want ErrMalformedMarkup", err)
	}
	if got != "" {
		t.Errorf("Transform() output = %q; want none", got)
	}
}

func TestTransform_ScriptNotWrapped(t *testing.T) {
	tr := newTestTransformer(t)
	doc := "<html><body><p>uno dos</p></body></html>"
	got, err := tr.Transform(doc)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	want := "<html><body><p>" + w("uno") + " " + w("dos") + "</p>" + tr.injector.Block() + "</body></html>"
	if got != want {
		t.Errorf("Transform() =\n%q\nwant\n%q", got, want)
	}
	if n := strings.Count(got, wordOpen); n != 2 {
		t.Errorf("got %d wrapper spans; want 2", n)
	}
}

func TestTransform_NotIdempotent(t *testing.T) {
	tr := newTestTransformer(t)
	doc := "<html><body><p>Hola</p></body></html>"

	once, err := tr.Transform(doc)
	if err != nil {
		t.Fatalf("first Transform() error = %v", err)
	}
	twice, err := tr.Transform(once)
	if err != nil {
		t.Fatalf("second Transform() error = %v", err)
	}
	if twice == once {
		t.Fatal("second Transform() returned its input; wrapping is expected to nest")
	}
	if !strings.Contains(twice, w(w("Hola"))) {
		t.Error("second pass did not double-wrap the word")
	}
	if n := strings.Count(twice, `id="xpub-modal"`); n != 2 {
		t.Errorf("second pass has %d interaction blocks; want 2", n)
	}
}

// TestTransform_WordsMatchPayloads checks that, for every paragraph, the
// whitespace-separated words of its text are exactly the texts of its
// outermost wrapper spans, in order.
func TestTransform_WordsMatchPayloads(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>T</title></head>
<body>
<h1>Not a paragraph</h1>
<p>Hello world</p>
<p class="a">  Érase   una vez,
  en un lugar  </p>
<p>Buenos <em>días</em> amigo</p>
<p>Hello <span class="name">beautiful</span> world</p>
<p><strong>Muy</strong> <a href="#n1" title="nota uno">bien</a> hecho.</p>
<p>日本語　の テキスト</p>
<p></p>
</body>
</html>`

	before := parseParagraphs(t, doc)
	got, err := newTestTransformer(t).Transform(doc)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	after := parseParagraphs(t, got)

	if len(after) != len(before) {
		t.Fatalf("got %d paragraphs; want %d", len(after), len(before))
	}
	for i := range before {
		words := strings.Fields(textContent(before[i]))
		payloads := wrapperPayloads(after[i])
		if strings.Join(payloads, "|") != strings.Join(words, "|") {
			t.Errorf("paragraph %d: payloads %q; want words %q", i, payloads, words)
		}
	}
}

func TestTransformBytes(t *testing.T) {
	tr := newTestTransformer(t)

	t.Run("utf-8 with BOM", func(t *testing.T) {
		in := append(append([]byte{}, utf8BOM...), "<p>añejo</p>"...)
		out, err := tr.TransformBytes(in)
		if err != nil {
			t.Fatalf("TransformBytes() error = %v", err)
		}
		if !bytes.HasPrefix(out, utf8BOM) {
			t.Error("byte order mark was not preserved")
		}
		if bytes.Count(out, utf8BOM) != 1 {
			t.Error("byte order mark duplicated")
		}
		if !bytes.Contains(out, []byte(w("añejo"))) {
			t.Errorf("output does not contain the wrapped word: %q", out)
		}
	})

	t.Run("declared latin-1", func(t *testing.T) {
		in := []byte("<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n<html><body><p>caf\xe9 cr\xe8me</p></body></html>")
		out, err := tr.TransformBytes(in)
		if err != nil {
			t.Fatalf("TransformBytes() error = %v", err)
		}
		for _, word := range []string{"caf\xe9", "cr\xe8me"} {
			if !bytes.Contains(out, []byte(w(word))) {
				t.Errorf("output does not contain the wrapped %q in the original encoding", word)
			}
		}
		if !bytes.HasPrefix(out, in[:bytes.IndexByte(in, '\n')+1]) {
			t.Error("XML declaration was not preserved")
		}
	})

	t.Run("malformed", func(t *testing.T) {
		out, err := tr.TransformBytes([]byte("<html><body><p>open</body></html>"))
		var me *MarkupError
		if !errors.As(err, &me) {
			t.Fatalf("TransformBytes() error = %v; want *MarkupError", err)
		}
		if out != nil {
			t.Errorf("TransformBytes() output = %q; want nil", out)
		}
	})
}

func TestTransformDocument(t *testing.T) {
	got, err := TransformDocument("<body><p>ciao</p></body>", "it")
	if err != nil {
		t.Fatalf("TransformDocument() error = %v", err)
	}
	if !strings.HasPrefix(got, "<body><p>"+w("ciao")+"</p>") {
		t.Errorf("TransformDocument() = %q", got)
	}
	if !strings.Contains(got, `var language = "it";`) {
		t.Error("language not rendered into the script")
	}

	if _, err := TransformDocument("<p>x</p>", ""); !errors.Is(err, ErrInvalidLanguage) {
		t.Errorf("TransformDocument(empty lang) error = %v; want ErrInvalidLanguage", err)
	}
}

func TestMarkupError(t *testing.T) {
	base := &MarkupError{Offset: 12, Err: ErrUnclosedParagraph}
	if got, want := base.Error(), "xpub: offset 12: paragraph has no closing </p>"; got != want {
		t.Errorf("Error() = %q; want %q", got, want)
	}

	located := withEntry(base, "OEBPS/ch1.xhtml")
	if got, want := located.Error(), "xpub: OEBPS/ch1.xhtml: offset 12: paragraph has no closing </p>"; got != want {
		t.Errorf("Error() = %q; want %q", got, want)
	}
	if base.Entry != "" {
		t.Error("withEntry modified the original error")
	}
	for _, target := range []error{ErrUnclosedParagraph, ErrMalformedMarkup} {
		if !errors.Is(located, target) {
			t.Errorf("errors.Is(%v, %v) = false", located, target)
		}
	}
	if errors.Is(located, ErrUnterminatedTag) {
		t.Error("located error matches an unrelated sentinel")
	}

	other := withEntry(ErrEntryTooLarge, "big.xhtml")
	if !errors.Is(other, ErrEntryTooLarge) || errors.Is(other, ErrMalformedMarkup) {
		t.Errorf("withEntry(non-markup) = %v", other)
	}
}

// parseParagraphs returns every <p> element of doc in document order.
func parseParagraphs(t *testing.T, doc string) []*html.Node {
	t.Helper()
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("html.Parse() error = %v", err)
	}
	var ps []*html.Node
	for n := range root.Descendants() {
		if n.Type == html.ElementNode && n.DataAtom == atom.P {
			ps = append(ps, n)
		}
	}
	return ps
}

func textContent(n *html.Node) string {
	var b strings.Builder
	for d := range n.Descendants() {
		if d.Type == html.TextNode {
			b.WriteString(d.Data)
		}
	}
	return b.String()
}

func isWrapper(n *html.Node) bool {
	if n.Type != html.ElementNode || n.DataAtom != atom.Span {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == "onclick" && a.Val == "window.translate(this)" {
			return true
		}
	}
	return false
}

// wrapperPayloads returns the text of the outermost wrapper spans under n.
func wrapperPayloads(n *html.Node) []string {
	var out []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isWrapper(c) {
			out = append(out, textContent(c))
			continue
		}
		out = append(out, wrapperPayloads(c)...)
	}
	return out
}
