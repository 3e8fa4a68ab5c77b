package xpub

import (
	"archive/zip"
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
)

const (
	mimetypeName     = "mimetype"
	expectedMimetype = "application/epub+zip"
)

// markupSuffixes are the entry name suffixes, compared case-insensitively,
// that mark an entry for transformation.
var markupSuffixes = []string{".xhtml", ".html", ".htm"}

// IsMarkup reports whether an archive entry name denotes a markup document.
func IsMarkup(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range markupSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// Policy decides what happens when a markup entry is malformed.
type Policy int

const (
	// PolicyAbort fails the whole rewrite on the first malformed entry.
	PolicyAbort Policy = iota
	// PolicySkip copies a malformed entry unchanged and carries on.
	PolicySkip
)

func (p Policy) String() string {
	switch p {
	case PolicyAbort:
		return "abort"
	case PolicySkip:
		return "skip"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// Entry is one archive entry staged in memory. Entries keep the archive's
// order from reading through writing.
type Entry struct {
	// Name is the ZIP-internal path.
	Name string

	// Data is the entry content: the original bytes, or the transformed
	// document once a markup entry has been rewritten.
	Data []byte

	// Markup reports whether the entry is transformed.
	Markup bool

	header zip.FileHeader
}

// Result summarizes a completed rewrite.
type Result struct {
	// Entries is the number of entries written.
	Entries int

	// Transformed lists the rewritten markup entries in archive order.
	Transformed []string

	// Skipped lists malformed markup entries copied unchanged under PolicySkip.
	Skipped []string

	// Warnings holds non-fatal findings such as a missing mimetype entry or
	// font obfuscation.
	Warnings []string

	// Digest is the hex BLAKE3-256 digest of the output archive.
	Digest string

	// Book is the package document metadata, nil when the archive has no
	// readable OPF file.
	Book *BookInfo
}

// Rewriter rewrites EPUB archives. Use NewRewriter to create one; a Rewriter
// may be reused and shared between goroutines.
type Rewriter struct {
	lang         string
	backend      string
	logger       *slog.Logger
	workers      int
	policy       Policy
	maxEntrySize int64
	transformer  *Transformer
}

// Option configures a Rewriter.
type Option func(*Rewriter)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *slog.Logger) Option {
	return func(r *Rewriter) { r.logger = l }
}

// WithWorkers bounds the number of markup entries transformed concurrently.
// Values below 1 select runtime.NumCPU(); 1 transforms strictly in sequence.
func WithWorkers(n int) Option {
	return func(r *Rewriter) { r.workers = n }
}

// WithMalformedPolicy selects what to do with malformed markup entries.
func WithMalformedPolicy(p Policy) Option {
	return func(r *Rewriter) { r.policy = p }
}

// WithBackend sets the base URL the injected script sends requests to.
func WithBackend(url string) Option {
	return func(r *Rewriter) { r.backend = url }
}

// WithMaxEntrySize limits the decompressed size of any single entry.
// Values below 1 select DefaultMaxEntrySize.
func WithMaxEntrySize(n int64) Option {
	return func(r *Rewriter) { r.maxEntrySize = n }
}

// NewRewriter returns a Rewriter that transforms markup entries for lang.
func NewRewriter(lang string, opts ...Option) (*Rewriter, error) {
	r := &Rewriter{lang: lang, policy: PolicyAbort}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	if r.workers < 1 {
		r.workers = runtime.NumCPU()
	}
	if r.maxEntrySize < 1 {
		r.maxEntrySize = DefaultMaxEntrySize
	}

	t, err := NewTransformer(r.lang, r.backend)
	if err != nil {
		return nil, err
	}
	r.transformer = t
	r.lang, _ = NormalizeLanguage(r.lang)
	return r, nil
}

// Rewrite reads the archive in ra, transforms its markup entries and writes
// the new archive to w. Every entry is read and transformed before the first
// byte is written, so a read or markup error leaves w untouched.
//
// Entry names, order, comments and modification times are preserved. Entries
// are deflated, except "mimetype", which is stored as the EPUB container
// format requires. Non-markup entries are copied byte for byte.
func (r *Rewriter) Rewrite(ctx context.Context, ra io.ReaderAt, size int64, w io.Writer) (*Result, error) {
	// Insecure names are rejected per entry with ErrUnsafeEntry.
	zr, err := zip.NewReader(ra, size)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("xpub: open zip: %w", err)
	}

	res := &Result{}

	fontObfuscation, err := checkDRM(zr, r.maxEntrySize)
	if err != nil {
		return nil, err
	}
	if fontObfuscation {
		res.Warnings = append(res.Warnings, "font obfuscation detected; obfuscated fonts are copied unchanged")
	}
	res.Warnings = append(res.Warnings, checkMimetype(zr)...)
	res.Book, err = readBookInfo(zr, r.maxEntrySize)
	switch {
	case errors.Is(err, ErrNoPackage):
		r.logger.Debug("no package document", "error", err)
	case err != nil:
		res.Warnings = append(res.Warnings, fmt.Sprintf("cannot read package document: %v", err))
	case len(res.Book.Languages) > 0 && !languageMatches(r.lang, res.Book.Languages):
		res.Warnings = append(res.Warnings, fmt.Sprintf("book language %s does not match %s",
			strings.Join(res.Book.Languages, ", "), r.lang))
	}
	for _, warning := range res.Warnings {
		r.logger.Warn("archive warning", "warning", warning)
	}

	entries, err := r.readEntries(ctx, zr)
	if err != nil {
		return nil, err
	}

	skipped, err := r.transformEntries(ctx, entries)
	if err != nil {
		return nil, err
	}

	for i, e := range entries {
		switch {
		case skipped[i]:
			res.Skipped = append(res.Skipped, e.Name)
		case e.Markup:
			res.Transformed = append(res.Transformed, e.Name)
		}
	}

	h := blake3.New()
	if err := writeEntries(io.MultiWriter(w, h), zr.Comment, entries); err != nil {
		return nil, err
	}
	res.Entries = len(entries)
	res.Digest = hex.EncodeToString(h.Sum(nil))

	r.logger.Info("archive rewritten",
		"entries", res.Entries,
		"transformed", len(res.Transformed),
		"skipped", len(res.Skipped),
		"blake3", res.Digest,
	)
	return res, nil
}

// RewriteFile rewrites the archive at inPath into outPath. The output is
// staged in a temporary file next to outPath and renamed into place only
// after the whole archive has been written; on failure no file is left at
// outPath and an existing file there is not touched.
func (r *Rewriter) RewriteFile(ctx context.Context, inPath, outPath string) (res *Result, err error) {
	in, err := os.Open(inPath)
	if err != nil {
		return nil, fmt.Errorf("xpub: open %s: %w", inPath, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return nil, fmt.Errorf("xpub: stat %s: %w", inPath, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(outPath), "."+filepath.Base(outPath)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("xpub: create output: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	bw := bufio.NewWriter(tmp)
	res, err = r.Rewrite(ctx, in, info.Size(), bw)
	if err != nil {
		return nil, err
	}
	if err = bw.Flush(); err != nil {
		return nil, fmt.Errorf("xpub: write %s: %w", outPath, err)
	}
	if err = tmp.Chmod(0o644); err != nil {
		return nil, fmt.Errorf("xpub: write %s: %w", outPath, err)
	}
	if err = tmp.Close(); err != nil {
		return nil, fmt.Errorf("xpub: write %s: %w", outPath, err)
	}
	if err = os.Rename(tmpPath, outPath); err != nil {
		return nil, fmt.Errorf("xpub: finalize %s: %w", outPath, err)
	}
	return res, nil
}

// readEntries stages every entry, in archive order.
func (r *Rewriter) readEntries(ctx context.Context, zr *zip.Reader) ([]Entry, error) {
	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := readZipFileWithLimit(f, r.maxEntrySize)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			Name:   f.Name,
			Data:   data,
			Markup: !f.FileInfo().IsDir() && IsMarkup(f.Name),
			header: f.FileHeader,
		})
	}
	return entries, nil
}

// transformEntries rewrites the markup entries in place. Each entry is
// transformed independently, so they run concurrently; results are stored by
// index and the archive order is unaffected. The returned slice marks entries
// skipped under PolicySkip.
func (r *Rewriter) transformEntries(ctx context.Context, entries []Entry) ([]bool, error) {
	skipped := make([]bool, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range entries {
		if !entries[i].Markup {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e := &entries[i]
			out, err := r.transformer.TransformBytes(e.Data)
			if err != nil {
				if r.policy == PolicySkip && errors.Is(err, ErrMalformedMarkup) {
					skipped[i] = true
					r.logger.Warn("skipping malformed entry", "entry", e.Name, "error", err)
					return nil
				}
				return withEntry(err, e.Name)
			}
			r.logger.Debug("entry transformed", "entry", e.Name, "in", len(e.Data), "out", len(out))
			e.Data = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return skipped, nil
}

// writeEntries writes the staged entries as a new ZIP archive.
func writeEntries(w io.Writer, comment string, entries []Entry) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		hdr := &zip.FileHeader{
			Name:           e.Name,
			Comment:        e.header.Comment,
			Modified:       e.header.Modified,
			ModifiedTime:   e.header.ModifiedTime,
			ModifiedDate:   e.header.ModifiedDate,
			ExternalAttrs:  e.header.ExternalAttrs,
			CreatorVersion: e.header.CreatorVersion,
			Method:         zip.Deflate,
		}
		if e.Name == mimetypeName {
			hdr.Method = zip.Store
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("xpub: create entry %s: %w", e.Name, err)
		}
		if _, err := fw.Write(e.Data); err != nil {
			return fmt.Errorf("xpub: write entry %s: %w", e.Name, err)
		}
	}
	if comment != "" {
		if err := zw.SetComment(comment); err != nil {
			return fmt.Errorf("xpub: set archive comment: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("xpub: close zip: %w", err)
	}
	return nil
}

// checkMimetype checks that the first entry is named "mimetype" and holds
// "application/epub+zip". The rewriter accepts any ZIP, so deviations are
// only reported.
func checkMimetype(zr *zip.Reader) []string {
	if len(zr.File) == 0 {
		return []string{"empty ZIP archive; mimetype entry missing"}
	}

	first := zr.File[0]
	if first.Name != mimetypeName {
		return []string{`first ZIP entry is not "mimetype"`}
	}

	data, err := readZipFileWithLimit(first, int64(len(expectedMimetype))+64)
	if err != nil {
		return []string{fmt.Sprintf("cannot read mimetype entry: %v", err)}
	}
	if string(data) != expectedMimetype {
		return []string{fmt.Sprintf("unexpected mimetype: %q", string(data))}
	}
	return nil
}
