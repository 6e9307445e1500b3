package main

import (
	"context"
	"io"
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/memorial-cli/internal/extract"
	"github.com/sells-group/memorial-cli/internal/marker"
	"github.com/sells-group/memorial-cli/internal/model"
)

var (
	extractNumberFormat string
	extractRulesFile    string
	extractConcurrency  int
	extractImport       bool
)

var extractCmd = &cobra.Command{
	Use:   "extract [file ...]",
	Short: "Extract metadata and vertices from memorial text files",
	Long: "Parses each file (or stdin when no file or \"-\" is given) and prints one extraction result per " +
		"input, in input order. With --import the vertices are stored as new markers.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if extractConcurrency > 0 {
			cfg.Extract.Concurrency = extractConcurrency
		}
		if extractNumberFormat != "" {
			cfg.Extract.NumberFormat = extractNumberFormat
		}
		if err := cfg.Validate("extract"); err != nil {
			return err
		}

		x, err := newExtractor()
		if err != nil {
			return err
		}

		if len(args) == 0 {
			args = []string{"-"}
		}
		results, err := extractAll(ctx, x, args, cmd.InOrStdin(), cfg.Extract.Concurrency)
		if err != nil {
			return err
		}

		if extractImport {
			if err := importResults(ctx, results); err != nil {
				return err
			}
		}

		if len(results) == 1 {
			return render(cmd.OutOrStdout(), outputFormat, results[0])
		}
		return render(cmd.OutOrStdout(), outputFormat, results)
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractNumberFormat, "number-format", "", "number separator convention: auto, comma or dot (default from config)")
	extractCmd.Flags().StringVar(&extractRulesFile, "rules", "", "YAML file with extra vertex rules")
	extractCmd.Flags().IntVar(&extractConcurrency, "concurrency", 0, "files parsed in parallel (default from config)")
	extractCmd.Flags().BoolVar(&extractImport, "import", false, "store extracted vertices as new markers")
	rootCmd.AddCommand(extractCmd)
}

func newExtractor() (*extract.Extractor, error) {
	norm, err := newNormalizer(cfg, "")
	if err != nil {
		return nil, err
	}

	path := extractRulesFile
	if path == "" {
		path = cfg.Extract.RulesFile
	}
	var extra []extract.PatternRule
	if path != "" {
		extra, err = extract.LoadRules(path)
		if err != nil {
			return nil, err
		}
	}
	return extract.New(norm, extra...), nil
}

// extractAll parses every source with at most limit files in flight. Results
// keep the order of sources. Stdin is read once and shared by every "-".
func extractAll(ctx context.Context, x *extract.Extractor, sources []string, stdin io.Reader, limit int) ([]*model.ExtractionResult, error) {
	var stdinText string
	if slices.Contains(sources, "-") {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, eris.Wrap(err, "read stdin")
		}
		stdinText = string(data)
	}

	results := make([]*model.ExtractionResult, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, src := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text := stdinText
			if src != "-" {
				data, err := os.ReadFile(src)
				if err != nil {
					return eris.Wrapf(err, "read %s", src)
				}
				text = string(data)
			}
			results[i] = x.Extract(src, text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func importResults(ctx context.Context, results []*model.ExtractionResult) error {
	if err := cfg.Validate("markers"); err != nil {
		return err
	}
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	imp := marker.NewImporter(s)
	for _, res := range results {
		if _, err := imp.Import(ctx, res); err != nil {
			return err
		}
	}
	return nil
}
