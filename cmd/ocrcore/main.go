// Command ocrcore runs recognition and resegmentation on local files and
// manages the shared job queue and dictionaries.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tesseract-ocr/tesseract-sub021/internal/boxfile"
	"github.com/tesseract-ocr/tesseract-sub021/internal/config"
	"github.com/tesseract-ocr/tesseract-sub021/internal/dictionary"
	"github.com/tesseract-ocr/tesseract-sub021/internal/logging"
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
	"github.com/tesseract-ocr/tesseract-sub021/internal/processor"
)

var (
	Version = "0.1.0"

	headerColor = color.New(color.FgCyan, color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
)

// options shared by every subcommand
type options struct {
	paramsFile  string
	languages   []string
	wordListDir string
	charsetDir  string
	tessdata    string
	logLevel    string
	timeout     time.Duration
	output      string
}

func main() {
	_ = godotenv.Load(".env.ocrcore")

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "ocrcore",
		Short:         "Recognize segmented pages and build training data",
		Version:       Version,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetLevel(opts.logLevel)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.paramsFile, "params", "", "recognition params file (YAML or TOML); default "+config.DefaultParamsPath())
	flags.StringSliceVarP(&opts.languages, "lang", "l", []string{"eng"}, "languages, primary first")
	flags.StringVar(&opts.wordListDir, "wordlists", "", "directory of <lang>.words lists")
	flags.StringVar(&opts.charsetDir, "charsets", "", "directory of <lang>"+processor.CharsetExtension+" listings")
	flags.StringVar(&opts.tessdata, "tessdata", os.Getenv("TESSDATA_PREFIX"), "tessdata directory")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "stop recognition after this long; 0 means no deadline")
	flags.StringVarP(&opts.output, "output", "o", "", "write output to this file instead of stdout")

	root.AddCommand(
		newRecognizeCmd(opts),
		newResegmentCmd(opts),
		newSubmitCmd(opts),
		newDictCmd(),
		newJobCmd(),
	)
	return root
}

// newProcessor builds an offline processor: nothing is persisted
func newProcessor(opts *options, tweak func(*config.Params)) (*processor.PageProcessor, error) {
	params, err := config.LoadParams(opts.paramsFile)
	if err != nil {
		return nil, err
	}
	if tweak != nil {
		tweak(params)
	}
	var dicts processor.DictionaryLoader
	if opts.wordListDir != "" {
		dicts = dictionary.FileStore{Dir: opts.wordListDir}
	}
	return processor.NewPageProcessor(&processor.ProcessorConfig{
		Languages:      opts.languages,
		Params:         params,
		Dictionaries:   dicts,
		CharsetDir:     opts.charsetDir,
		TessdataPrefix: opts.tessdata,
		Timeout:        opts.timeout,
		Logger:         logging.NewLoggerTo(os.Stderr, "ocrcore"),
	})
}

// signalContext is cancelled on the first interrupt, so a run stops at the
// next word and still reports what it finished.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRecognizeCmd(opts *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "recognize <page.json> <image>",
		Short: "Recognize the words of a segmented page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("unknown format %q", format)
			}
			proc, err := newProcessor(opts, nil)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			out, runErr := proc.ProcessPage(ctx, &processor.ProcessRequest{
				JobID: uuid.New().String(),
				Page:  processor.Source{Path: args[0]},
				Image: processor.Source{Path: args[1]},
			})
			if out == nil {
				return runErr
			}

			var buf bytes.Buffer
			if format == "json" {
				if err := page.Encode(&buf, out.Page); err != nil {
					return err
				}
			} else {
				buf.WriteString(out.Text)
			}
			if err := writeOutput(opts.output, buf.Bytes()); err != nil {
				return err
			}
			printRecognizeSummary(cmd.ErrOrStderr(), out)
			return runErr
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

func newResegmentCmd(opts *options) *cobra.Command {
	var (
		boxPage   int
		rebalance bool
		targets   map[string]int
	)
	cmd := &cobra.Command{
		Use:   "resegment <page.json> <boxfile>",
		Short: "Relabel a page from a box file and write the resulting boxes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			proc, err := newProcessor(opts, func(p *config.Params) {
				if rebalance {
					p.Training.Rebalance = true
				}
			})
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			out, runErr := proc.ProcessTraining(ctx, &processor.TrainingRequest{
				JobID:   uuid.New().String(),
				Page:    processor.Source{Path: args[0]},
				Boxes:   processor.Source{Path: args[1]},
				BoxPage: boxPage,
				Targets: targets,
			})
			if out == nil || out.Summary == nil {
				return runErr
			}

			var buf bytes.Buffer
			if err := boxfile.Write(&buf, out.Page, max(boxPage, 0)); err != nil {
				return err
			}
			if err := writeOutput(opts.output, buf.Bytes()); err != nil {
				return err
			}
			printResegmentSummary(cmd.ErrOrStderr(), out)
			return runErr
		},
	}
	cmd.Flags().IntVar(&boxPage, "page", boxfile.AllPages, "box file page to apply; -1 applies all")
	cmd.Flags().BoolVar(&rebalance, "rebalance", false, "clone samples of classes below their target")
	cmd.Flags().StringToIntVar(&targets, "target", nil, "wanted samples per label, e.g. --target a=20,b=10")
	return cmd
}

func writeOutput(target string, data []byte) error {
	if target == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("writing output file: %w", err)
	}
	return nil
}

func printRecognizeSummary(w io.Writer, out *processor.ProcessResult) {
	r := out.Result
	headerColor.Fprintf(w, "Page %s\n", out.PageID)
	fmt.Fprintf(w, "  words %d  chars %d  rejects %d\n", r.Words, r.Chars, r.Rejects)
	fmt.Fprintf(w, "  adapted %d  fuzzy %d/%d  diacritics %d+%d  corrections %d+%d\n",
		r.Adapted, r.FuzzyImproved, r.FuzzyRuns,
		r.DiacriticsAttached, r.DiacriticsPromoted,
		r.DictionaryCorrections, r.BigramCorrections)
	if len(r.LanguageWins) > 0 {
		var wins []string
		for lang, n := range r.LanguageWins {
			wins = append(wins, fmt.Sprintf("%s=%d", lang, n))
		}
		fmt.Fprintf(w, "  language wins %s\n", strings.Join(wins, " "))
	}
	if r.Cancelled {
		warnColor.Fprintf(w, "  cancelled in %s; %d placeholders\n", r.CancelledIn, r.Placeholders)
		return
	}
	okColor.Fprintf(w, "  done in %s\n", r.Duration.Round(time.Millisecond))
}

func printResegmentSummary(w io.Writer, out *processor.TrainingResult) {
	s := out.Summary
	headerColor.Fprintf(w, "Page %s\n", out.PageID)
	fmt.Fprintf(w, "  boxes %d  applied %d  failed %d  conflicts %d  label failures %d\n",
		s.BoxesRead, s.BoxesApplied, s.BoxFailures, s.SegmentationConflicts, s.LabelFailures)
	fmt.Fprintf(w, "  words created %d  corrupted %d  duplicates %d\n",
		s.WordsCreated, s.CorruptedWords, s.Duplicates)
	if len(s.FatalClasses) > 0 {
		warnColor.Fprintf(w, "  too few samples to rebalance: %s\n", strings.Join(s.FatalClasses, " "))
		return
	}
	okColor.Fprintf(w, "  %d samples\n", out.Samples)
}
