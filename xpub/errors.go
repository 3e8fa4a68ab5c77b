package xpub

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the xpub package.
var (
	// ErrMalformedMarkup is the class of every markup failure. It is never
	// returned bare; ErrUnclosedParagraph and ErrUnterminatedTag are reported
	// through a *MarkupError that also matches ErrMalformedMarkup.
	ErrMalformedMarkup = errors.New("xpub: malformed markup")

	// ErrUnclosedParagraph indicates a <p> opening tag with no </p> anywhere
	// after it in the document.
	ErrUnclosedParagraph = errors.New("xpub: paragraph has no closing </p>")

	// ErrUnterminatedTag indicates a <p opening tag whose closing '>' could
	// not be found before the paragraph's </p>.
	ErrUnterminatedTag = errors.New("xpub: opening paragraph tag has no closing '>'")

	// ErrInvalidLanguage indicates an empty language identifier or one
	// containing control characters.
	ErrInvalidLanguage = errors.New("xpub: invalid language")

	// ErrInvalidBackend indicates the translation backend URL is not an
	// absolute http(s) URL.
	ErrInvalidBackend = errors.New("xpub: invalid backend URL")

	// ErrDRMProtected indicates the ePub file is protected by DRM
	// (e.g., Adobe ADEPT, Apple FairPlay, Readium LCP) and cannot be rewritten.
	ErrDRMProtected = errors.New("xpub: file is DRM protected")

	// ErrUnsafeEntry indicates an archive entry whose name escapes the
	// archive root (absolute path or "../" traversal).
	ErrUnsafeEntry = errors.New("xpub: unsafe zip entry path")

	// ErrEntryTooLarge indicates an archive entry whose decompressed size
	// exceeds the configured limit.
	ErrEntryTooLarge = errors.New("xpub: zip entry too large")

	// ErrNoPackage indicates the archive has no package document (OPF).
	ErrNoPackage = errors.New("xpub: no package document found")
)

// MarkupError locates a malformed-markup failure. Offset is a byte offset into
// the decoded document; Entry is the archive entry name when the document came
// from an archive.
//
// A MarkupError matches both its Err and ErrMalformedMarkup with errors.Is.
type MarkupError struct {
	Entry  string
	Offset int
	Err    error
}

func (e *MarkupError) Error() string {
	msg := strings.TrimPrefix(e.Err.Error(), "xpub: ")
	if e.Entry != "" {
		return fmt.Sprintf("xpub: %s: offset %d: %s", e.Entry, e.Offset, msg)
	}
	return fmt.Sprintf("xpub: offset %d: %s", e.Offset, msg)
}

func (e *MarkupError) Unwrap() []error {
	return []error{e.Err, ErrMalformedMarkup}
}

// withEntry attaches an archive entry name to a markup error. Other errors are
// wrapped with the entry name as context.
func withEntry(err error, name string) error {
	var me *MarkupError
	if errors.As(err, &me) {
		located := *me
		located.Entry = name
		return &located
	}
	return fmt.Errorf("xpub: %s: %w", name, err)
}
