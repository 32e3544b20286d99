package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"memberdir/internal/directory/service"
	"memberdir/internal/importer"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	MappingPath string
	Commit      bool
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <members|schools|orders> <file.csv>",
		Short: "Analyze or commit a spreadsheet batch",
		Long: `Classify every row of a CSV export against the current directory.

Without --commit the command prints the preview counts and per-row issues
and writes nothing. With --commit it re-analyzes and replays the delta
through the directory write path.

The mapping file binds canonical fields to CSV columns:
  [{"field": "memberId", "columns": ["Member No"]},
   {"field": "firstName", "columns": ["First", "Middle"]}]

Example:
  dirctl import members members.csv --mapping members.json
  dirctl import orders orders.csv --mapping orders.json --commit`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MappingPath, "mapping", "", "path to the column mapping JSON (required)")
	cmd.Flags().BoolVar(&opts.Commit, "commit", false, "write the analyzed delta")
	_ = cmd.MarkFlagRequired("mapping")
	return cmd
}

func runImport(ctx context.Context, opts *ImportOptions, entity, csvPath string, cmd *cobra.Command) error {
	mapping, err := loadMapping(opts.MappingPath)
	if err != nil {
		return err
	}
	rows, err := loadRows(csvPath)
	if err != nil {
		return err
	}

	e, err := openEnv(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.close()

	directory := service.New(
		e.db,
		e.db.Schools(),
		e.db.Gradings(),
		e.db.Orders(),
		e.emails,
		e.counters,
		e.engine,
		service.WithLogger(e.logger),
	)
	svc := importer.NewService(
		e.db,
		e.db.Schools(),
		e.db.Orders(),
		importer.NewReconciler(importer.WithLogger(e.logger)),
		importer.NewCommitter(directory, e.counters, importer.WithCommitLogger(e.logger)),
	)

	if opts.Commit {
		return commitBatch(ctx, svc, entity, rows, mapping, cmd)
	}
	return analyzeBatch(ctx, svc, entity, rows, mapping, cmd)
}

func analyzeBatch(ctx context.Context, svc *importer.Service, entity string, rows []map[string]string, mapping importer.Mapping, cmd *cobra.Command) error {
	var counts importer.Counts
	var issues []string

	switch entity {
	case "members":
		delta, err := svc.AnalyzeMembers(ctx, rows, mapping)
		if err != nil {
			return err
		}
		counts, issues = delta.Counts(), issueLines(delta.Issues)
	case "schools":
		delta, err := svc.AnalyzeSchools(ctx, rows, mapping)
		if err != nil {
			return err
		}
		counts, issues = delta.Counts(), issueLines(delta.Issues)
	case "orders":
		delta, _, err := svc.AnalyzeOrders(ctx, rows, mapping)
		if err != nil {
			return err
		}
		counts, issues = delta.Counts(), issueLines(delta.Issues)
	default:
		return fmt.Errorf("unknown entity %q", entity)
	}

	cmd.Printf("new %d, updates %d, unchanged %d, issues %d, skipped %d\n",
		counts.New, counts.Updates, counts.Unchanged, counts.Issues, counts.Skipped)
	for _, line := range issues {
		cmd.Printf("  %s\n", line)
	}
	return nil
}

func commitBatch(ctx context.Context, svc *importer.Service, entity string, rows []map[string]string, mapping importer.Mapping, cmd *cobra.Command) error {
	progress := func(current, total int) {
		cmd.Printf("\r%d/%d", current, total)
	}

	var counts importer.Counts
	var result *importer.Result
	var err error
	switch entity {
	case "members":
		counts, result, err = svc.CommitMembers(ctx, rows, mapping, progress)
	case "schools":
		counts, result, err = svc.CommitSchools(ctx, rows, mapping, progress)
	case "orders":
		counts, result, err = svc.CommitOrders(ctx, rows, mapping, progress)
	default:
		return fmt.Errorf("unknown entity %q", entity)
	}
	if err != nil {
		return err
	}

	cmd.Printf("\nwrote %d of %d (new %d, updates %d); %d issues left unwritten\n",
		result.Written, counts.New+counts.Updates, counts.New, counts.Updates, counts.Issues)
	for _, key := range result.Failed {
		cmd.Printf("  failed: %s\n", key)
	}
	return nil
}

func issueLines[T any](issues []*importer.ProposedChange[T]) []string {
	lines := make([]string, 0, len(issues))
	for _, c := range issues {
		for _, issue := range c.Issues {
			lines = append(lines, fmt.Sprintf("row %d (%s): %s", c.Row, c.Key, issue))
		}
	}
	return lines
}

func loadMapping(path string) (importer.Mapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var mapping importer.Mapping
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return nil, fmt.Errorf("parse mapping %s: %w", path, err)
	}
	return mapping, nil
}

// loadRows reads a CSV with a header row into header-keyed cell maps.
func loadRows(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv %s has no header row", path)
	}

	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
