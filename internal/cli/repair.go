package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"memberdir/internal/repair"
)

// NewRepairCommand creates the repair command.
func NewRepairCommand(rootOpts *RootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "repair <rekey|profiles|rosters|quarantine|all>",
		Short: "Run directory repair sweeps",
		Long: `Run one repair sweep, or all of them in dependency order.

Sweeps:
  rekey       move members keyed by their memberId onto surrogate keys
  profiles    rebuild the instructor profile mirror from scratch
  rosters     reconcile sifu rosters against member documents
  quarantine  quarantine members with empty or duplicate memberIds

Example:
  dirctl repair rekey --dry-run
  dirctl repair all`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepair(cmd.Context(), rootOpts, args[0], dryRun, cmd)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report fixes without writing")
	return cmd
}

func runRepair(ctx context.Context, rootOpts *RootOptions, sweep string, dryRun bool, cmd *cobra.Command) error {
	e, err := openEnv(ctx, rootOpts)
	if err != nil {
		return err
	}
	defer e.close()

	svc := repair.New(
		e.db,
		e.db.Profiles(),
		e.db.Rosters(),
		e.db.Quarantine(),
		e.engine,
		repair.WithLogger(e.logger),
	)

	type sweepFunc func(ctx context.Context, dryRun bool) (*repair.Report, error)
	sweeps := map[string]sweepFunc{
		"rekey":      svc.RekeyLegacyMembers,
		"profiles":   svc.RebuildInstructorProfiles,
		"rosters":    svc.ReconcileRosters,
		"quarantine": svc.QuarantineDuplicateMembers,
	}

	var runs []sweepFunc
	switch {
	case sweep == "all":
		runs = []sweepFunc{sweeps["rekey"], sweeps["profiles"], sweeps["rosters"], sweeps["quarantine"]}
	case sweeps[sweep] != nil:
		runs = []sweepFunc{sweeps[sweep]}
	default:
		return fmt.Errorf("unknown sweep %q", sweep)
	}

	for _, run := range runs {
		report, err := run(ctx, dryRun)
		if err != nil {
			return err
		}
		printReport(cmd, report)
	}
	return nil
}

func printReport(cmd *cobra.Command, report *repair.Report) {
	mode := ""
	if report.DryRun {
		mode = " (dry run)"
	}
	cmd.Printf("%s%s: examined %d, fixed %d\n", report.Sweep, mode, report.Examined, report.Fixed)
	for _, d := range report.Details {
		cmd.Printf("  %s\n", d)
	}
}
