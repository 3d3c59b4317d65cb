// Package cmd implements the ingest command line tool, which runs the parser,
// mapper and matcher over local files without a database.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/mapper"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/parser"
	"github.com/FACorreiaa/skyparts-market/pkg/ai"
)

// options are the flags shared by every subcommand
type options struct {
	verbose bool
	sheet   string
	maxRows int
	samples int
	useAI   bool
}

// NewRootCommand builds the ingest command tree
func NewRootCommand(version string) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "ingest",
		Short: "Run the inventory ingestion pipeline on local files",
		Long: `Ingest parses seller inventory files, maps their columns to listing fields
and matches rows against a parts catalog, printing JSON.

Examples:
  ingest parse stock.xlsx --sheet Inventory
  ingest map stock.csv
  ingest match stock.csv --catalog parts.csv --aircraft aircraft.csv
  GEMINI_API_KEY=... ingest map capabilities.pdf --ai`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline progress to stderr")
	root.PersistentFlags().StringVar(&opts.sheet, "sheet", "", "spreadsheet sheet name (default: first sheet)")
	root.PersistentFlags().IntVar(&opts.maxRows, "max-rows", parser.DefaultConfig().MaxRows, "maximum data rows to read")
	root.PersistentFlags().IntVar(&opts.samples, "samples", 5, "sample rows passed to the mapper")
	root.PersistentFlags().BoolVar(&opts.useAI, "ai", false, "use Gemini (GEMINI_API_KEY) for documents and column mapping")

	root.AddCommand(newParseCommand(opts), newMapCommand(opts), newMatchCommand(opts))
	return root
}

func (o *options) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// completer returns a Gemini client when --ai is set
func (o *options) completer() (*ai.Client, error) {
	if !o.useAI {
		return nil, nil
	}
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("--ai requires GEMINI_API_KEY")
	}
	return ai.NewClient(ai.Config{APIKey: key, Model: os.Getenv("GEMINI_MODEL")}), nil
}

// parseFile reads path and parses it by extension
func (o *options) parseFile(cmd *cobra.Command, path string) (*parser.ParseResult, error) {
	mt, ok := parser.MIMEForFilename(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", parser.ErrUnsupportedType, path)
	}
	format, _ := parser.FormatForMIME(mt)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	client, err := o.completer()
	if err != nil {
		return nil, err
	}
	var extractor parser.Completer
	if client != nil {
		extractor = client
	}

	p := parser.New(parser.Config{MaxRows: o.maxRows}, nil, extractor, o.logger(cmd))
	return p.ParseBytes(cmd.Context(), data, format, parser.Options{SheetName: o.sheet})
}

// mapColumns runs the mapping cascade over a parse result
func (o *options) mapColumns(cmd *cobra.Command, parsed *parser.ParseResult) (*mapper.Result, error) {
	client, err := o.completer()
	if err != nil {
		return nil, err
	}
	var completer mapper.Completer
	if client != nil {
		completer = client
	}

	cfg := mapper.DefaultConfig()
	cfg.EnableAI = client != nil
	cfg.MaxSampleRows = o.samples

	samples := parsed.Rows
	if len(samples) > o.samples {
		samples = samples[:o.samples]
	}
	return mapper.New(cfg, completer, o.logger(cmd)).Map(cmd.Context(), parsed.Headers, samples), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
