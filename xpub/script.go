package xpub

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"text/template"
	"unicode"

	"golang.org/x/text/language"
)

// DefaultBackend is the base URL of the translation and speech service the
// injected script talks to.
const DefaultBackend = "http://localhost:3000"

const bodyClose = "</body>"

//go:embed interaction.tmpl
var interactionSource string

// interactionTemplate is the modal, style and script block added to every
// document. Its only substitution points are the language and the backend
// URL, both rendered as JSON string literals.
var interactionTemplate = template.Must(template.New("interaction").
	Funcs(template.FuncMap{"jsString": jsString}).
	Parse(interactionSource))

type interactionParams struct {
	Language string
	Backend  string
}

// Injector inserts the rendered interaction block into documents. The block
// is rendered once, so an Injector can be shared by concurrent callers.
type Injector struct {
	block string
}

// NewInjector renders the interaction block for lang and backend. An empty
// backend selects DefaultBackend.
func NewInjector(lang, backend string) (*Injector, error) {
	lang, err := NormalizeLanguage(lang)
	if err != nil {
		return nil, err
	}
	backend, err = normalizeBackend(backend)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	if err := interactionTemplate.Execute(&b, interactionParams{Language: lang, Backend: backend}); err != nil {
		return nil, fmt.Errorf("xpub: render interaction script: %w", err)
	}
	return &Injector{block: b.String()}, nil
}

// Block returns the rendered interaction block.
func (in *Injector) Block() string {
	return in.block
}

// Inject inserts the interaction block directly before the last </body> in
// doc, or appends it when doc has no </body>.
func (in *Injector) Inject(doc string) string {
	if i := strings.LastIndex(doc, bodyClose); i >= 0 {
		return doc[:i] + in.block + doc[i:]
	}
	return doc + in.block
}

// InjectScript is a convenience wrapper around NewInjector and Inject using
// DefaultBackend.
func InjectScript(doc, lang string) (string, error) {
	in, err := NewInjector(lang, "")
	if err != nil {
		return "", err
	}
	return in.Inject(doc), nil
}

// NormalizeLanguage validates a language identifier. Surrounding whitespace
// is trimmed, and well-formed BCP 47 tags are canonicalized ("EN-us" becomes
// "en-US"). Other non-empty values, such as "Spanish", are returned as is;
// they are escaped when rendered into the script.
func NormalizeLanguage(lang string) (string, error) {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidLanguage)
	}
	for _, r := range lang {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: %q contains control characters", ErrInvalidLanguage, lang)
		}
	}
	if tag, err := language.Parse(lang); err == nil {
		return tag.String(), nil
	}
	return lang, nil
}

// normalizeBackend validates the backend base URL and strips any trailing
// slash so request paths can be appended directly.
func normalizeBackend(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultBackend, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBackend, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not an absolute http(s) URL", ErrInvalidBackend, raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

// jsString renders s as a JavaScript string literal. encoding/json escapes
// quotes, backslashes, control characters, '<', '>' and '&', so the value
// cannot end the string, the script element or the CDATA section.
func jsString(s string) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
