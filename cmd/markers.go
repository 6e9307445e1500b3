package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/memorial-cli/internal/marker"
	"github.com/sells-group/memorial-cli/internal/store"
)

var markersCmd = &cobra.Command{
	Use:   "markers",
	Short: "Validate and correct persisted markers",
	Long:  "Operates on the marker store configured under store.* (SQLite by default, Postgres optional).",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("markers")
	},
}

var markersMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply marker store migrations",
	Long:  "Applies all pending SQL migrations for the configured driver in lexicographic order.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		if err := s.Migrate(ctx); err != nil {
			return eris.Wrap(err, "markers migrate")
		}

		zap.L().Info("all migrations applied successfully", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

var validateForce bool

var markersValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Classify stored coordinates and record the outcome",
	Long: "Classifies every marker that has not been validated yet (all markers with --force). " +
		"Unresolvable coordinates move the marker to PENDING.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		norm, err := newNormalizer(cfg, "")
		if err != nil {
			return err
		}

		sum, err := marker.NewValidator(s, norm.Classifier()).Run(ctx, validateForce)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), outputFormat, sum)
	},
}

var (
	correctCommit   bool
	correctOperator string
	correctLimit    int
)

var markersCorrectCmd = &cobra.Command{
	Use:   "correct",
	Short: "Reproject geographic coordinates stored as projected",
	Long: "Prints the correction plan without writing anything. With --commit the plan is applied in one " +
		"transaction and every rewrite is recorded in the correction log.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		norm, err := newNormalizer(cfg, "")
		if err != nil {
			return err
		}

		operator := correctOperator
		if operator == "" {
			operator = cfg.Correct.Operator
		}
		c := marker.NewCorrector(s, norm, marker.CorrectorConfig{
			Operator: operator,
			Reason:   cfg.Correct.Reason,
		})

		plan, err := c.Plan(ctx, store.MarkerFilter{Limit: correctLimit})
		if err != nil {
			return err
		}
		if !correctCommit {
			zap.L().Info("dry run, nothing written; rerun with --commit to apply",
				zap.Int("checked", len(plan.Items)),
				zap.Int("actionable", len(plan.Actionable())),
			)
			return render(cmd.OutOrStdout(), outputFormat, plan)
		}

		sum, err := c.Commit(ctx, plan)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), outputFormat, sum)
	},
}

func init() {
	markersValidateCmd.Flags().BoolVar(&validateForce, "force", false, "revalidate markers that already have a result")

	markersCorrectCmd.Flags().BoolVar(&correctCommit, "commit", false, "apply the plan instead of printing it")
	markersCorrectCmd.Flags().StringVar(&correctOperator, "operator", "", "operator recorded in the correction log (default from config)")
	markersCorrectCmd.Flags().IntVar(&correctLimit, "limit", 0, "maximum number of markers to check (0 = all)")

	markersCmd.AddCommand(markersMigrateCmd, markersValidateCmd, markersCorrectCmd)
	rootCmd.AddCommand(markersCmd)
}
