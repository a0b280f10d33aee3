package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-soundcheck/internal/analysis"
	"github.com/teslashibe/go-soundcheck/internal/report"
	"github.com/teslashibe/go-soundcheck/internal/store"
)

var (
	reportsKind  string
	reportsLimit int
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Browse the report archive",
	Long: `Browse reports archived by 'serve' or by --save.

Commands:
  reports list          - newest reports first
  reports show <id...>  - one or more reports by ID
  reports delete <id>   - remove a report`,
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived reports, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := analysis.Kind(reportsKind)
		switch kind {
		case "", analysis.KindQuality, analysis.KindDOA:
		default:
			return fmt.Errorf("kind must be quality or doa, got %q", reportsKind)
		}

		return withStore(func(st *store.Store) error {
			reports, err := st.List(cmd.Context(), store.Filter{Kind: kind, Limit: reportsLimit})
			if err != nil {
				return err
			}
			return report.Write(os.Stdout, reports, format)
		})
	},
}

var reportsShowCmd = &cobra.Command{
	Use:   "show <id...>",
	Short: "Show archived reports",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st *store.Store) error {
			reports := make([]analysis.Report, 0, len(args))
			for _, id := range args {
				r, err := st.Get(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("report %s: %w", id, err)
				}
				reports = append(reports, r)
			}
			return report.Write(os.Stdout, reports, format)
		})
	},
}

var reportsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an archived report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st *store.Store) error {
			if err := st.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("deleted", args[0])
			return nil
		})
	},
}

func withStore(fn func(*store.Store) error) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func init() {
	reportsListCmd.Flags().StringVar(&reportsKind, "kind", "", "only quality or doa reports")
	reportsListCmd.Flags().IntVarP(&reportsLimit, "limit", "n", 20, "maximum reports to list, 0 for all")

	reportsCmd.AddCommand(reportsListCmd)
	reportsCmd.AddCommand(reportsShowCmd)
	reportsCmd.AddCommand(reportsDeleteCmd)
}
