// Package xpub turns an ePub into an interactive reader for language
// learners. Every word inside a body paragraph becomes a clickable span, and
// each content document gets a small script that, on click, asks a companion
// backend for a translation (POST /translate) and synthesized speech
// (POST /synth) and shows both in a modal.
//
// # Rewriting an ePub
//
// Use [NewRewriter] with the book's language, then [Rewriter.RewriteFile]:
//
//	rw, err := xpub.NewRewriter("es")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := rw.RewriteFile(ctx, "book.epub", "modified.epub")
//
// Entries whose names end in .xhtml, .html or .htm are transformed; all other
// entries are copied byte for byte. Entry order and names are preserved. The
// output file only appears once the whole archive has been written.
//
// The returned [Result] lists transformed and skipped documents, the BLAKE3
// digest of the output, and the title and languages from the package
// document when one exists. A book whose declared language differs from the
// requested one is still rewritten; the mismatch is reported in
// Result.Warnings.
//
// # Transforming documents
//
// [Transformer.Transform] rewrites a single document. [WrapParagraphs] and
// [WrapWords] expose the two stages of word wrapping, and [Tokenizer] the
// underlying scan:
//
//	<p>Hello <span>world</span></p>
//
// becomes
//
//	<p><span onclick="window.translate(this)">Hello</span> <span onclick="window.translate(this)"><span>world</span></span></p>
//
// Only the inner text of paragraphs is touched. Tags, attributes and
// whitespace are copied verbatim, and an existing span is wrapped once as a
// whole. Wrapping is not idempotent.
//
// # Error Handling
//
// Malformed markup (a <p> without </p>, or an opening tag without '>') is
// reported as a [*MarkupError] matching [ErrMalformedMarkup]. By default it
// aborts the whole rewrite; [WithMalformedPolicy]([PolicySkip]) copies the
// broken entry unchanged instead. Other sentinel errors:
//   - [ErrInvalidLanguage] – the language identifier is empty or unusable
//   - [ErrInvalidBackend] – the backend URL is not absolute http(s)
//   - [ErrDRMProtected] – the file is DRM encrypted
//   - [ErrUnsafeEntry] – an entry name escapes the archive root
//   - [ErrEntryTooLarge] – an entry exceeds the decompression limit
//   - [ErrNoPackage] – no package document was found (never fatal to a rewrite)
package xpub
