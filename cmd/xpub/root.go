package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/foomprep/lang-learn-tools/internal/config"
	"github.com/foomprep/lang-learn-tools/internal/logging"
	"github.com/foomprep/lang-learn-tools/xpub"
)

// rootOptions holds the flag values shared by the commands.
type rootOptions struct {
	output        string
	lang          string
	backend       string
	workers       int
	skipMalformed bool
	maxEntryBytes int64
	logLevel      string
	logFormat     string
}

func newRootCmd(cfg config.Config) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "xpub <input.epub>",
		Short: "xpub makes every word of an ePub clickable for translation",
		Long: `xpub rewrites the XHTML documents of an ePub so that each word inside a
paragraph can be clicked to show its translation and play its pronunciation.
The translation and speech requests go to the backend given by --backend.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", cfg.Output, "Path of the output file")
	f.StringVarP(&opts.lang, "lang", "l", cfg.Language, "Language of the ePub (e.g. es, fr, de)")

	// Conversion settings apply to serve as well.
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.backend, "backend", cfg.Backend, "Base URL of the translation and speech backend")
	pf.IntVar(&opts.workers, "workers", cfg.Workers, "Number of documents transformed concurrently")
	pf.BoolVar(&opts.skipMalformed, "skip-malformed", cfg.SkipMalformed, "Copy documents with malformed markup unchanged instead of failing")
	pf.Int64Var(&opts.maxEntryBytes, "max-entry-bytes", cfg.MaxEntryBytes, "Maximum decompressed size of a single archive entry")
	pf.StringVar(&opts.logLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pf.StringVar(&opts.logFormat, "log-format", cfg.LogFormat, "Log format (text, json)")

	cmd.AddCommand(newServeCmd(cfg, opts), newVersionCmd())
	return cmd
}

func runConvert(cmd *cobra.Command, opts *rootOptions, input string) error {
	if opts.lang == "" {
		return errors.New(`required flag "lang" not set (or set XPUB_LANG)`)
	}

	log, err := newLogger(cmd.ErrOrStderr(), opts)
	if err != nil {
		return err
	}

	inPath, err := filepath.Abs(input)
	if err != nil {
		return fmt.Errorf("resolve input path: %w", err)
	}
	outPath, err := filepath.Abs(opts.output)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	policy := xpub.PolicyAbort
	if opts.skipMalformed {
		policy = xpub.PolicySkip
	}
	rw, err := xpub.NewRewriter(opts.lang,
		xpub.WithBackend(opts.backend),
		xpub.WithWorkers(opts.workers),
		xpub.WithMalformedPolicy(policy),
		xpub.WithMaxEntrySize(opts.maxEntryBytes),
		xpub.WithLogger(log),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Debug("rewriting", "input", inPath, "output", outPath, "lang", opts.lang)
	res, err := rw.RewriteFile(ctx, inPath, outPath)
	if err != nil {
		return err
	}

	for _, warning := range res.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", warning)
	}
	out := cmd.OutOrStdout()
	for _, name := range res.Skipped {
		fmt.Fprintf(out, "skipped malformed document: %s\n", name)
	}
	fmt.Fprintln(out, "Epub modified successfully!")
	if res.Book != nil && res.Book.Title != "" {
		fmt.Fprintf(out, "title: %s\n", res.Book.Title)
	}
	fmt.Fprintf(out, "%s: %d entries, %d documents transformed, blake3 %s\n",
		outPath, res.Entries, len(res.Transformed), res.Digest)
	return nil
}

func newLogger(w io.Writer, opts *rootOptions) (*slog.Logger, error) {
	level, err := logging.ParseLevel(opts.logLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(w, level, opts.logFormat)
}
