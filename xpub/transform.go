package xpub

// Transformer rewrites whole markup documents: paragraph words are wrapped
// and the interaction block is injected. A Transformer holds no per-document
// state and is safe for concurrent use.
type Transformer struct {
	injector *Injector
}

// NewTransformer returns a Transformer for lang that points the injected
// script at backend (DefaultBackend when empty).
func NewTransformer(lang, backend string) (*Transformer, error) {
	in, err := NewInjector(lang, backend)
	if err != nil {
		return nil, err
	}
	return &Transformer{injector: in}, nil
}

// Transform wraps the words of every paragraph in doc and injects the
// interaction block. Paragraphs are wrapped first so the injected block is
// never scanned. On malformed markup the error is a *MarkupError and doc is
// not modified.
func (t *Transformer) Transform(doc string) (string, error) {
	wrapped, err := WrapParagraphs(doc)
	if err != nil {
		return "", err
	}
	return t.injector.Inject(wrapped), nil
}

// TransformBytes transforms an encoded markup entry. The entry's encoding
// (byte order mark, XML declaration or sniffed charset) is detected, the
// text is transformed and the result is encoded the same way.
func (t *Transformer) TransformBytes(data []byte) ([]byte, error) {
	enc := detectEncoding(data)
	doc, err := enc.decode(data)
	if err != nil {
		return nil, err
	}
	out, err := t.Transform(doc)
	if err != nil {
		return nil, err
	}
	return enc.encode(out)
}

// TransformDocument transforms doc for lang using DefaultBackend.
func TransformDocument(doc, lang string) (string, error) {
	t, err := NewTransformer(lang, "")
	if err != nil {
		return "", err
	}
	return t.Transform(doc)
}
