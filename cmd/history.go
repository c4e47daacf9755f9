package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Azure/testbed-copilot/pkg/store"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var (
		repo   string
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history [workflow-id]",
		Short: "List past repair sessions, or show one as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.NewBoltStore(root.settings.StorePath)
			if err != nil {
				return err
			}
			defer st.Close()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				rec, err := st.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(rec, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			var filters []store.Filter
			if repo != "" {
				filters = append(filters, store.ByRepo(repo))
			}
			if status != "" {
				filters = append(filters, store.ByStatus(status))
			}
			records, err := st.List(cmd.Context(), filters...)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "No sessions recorded.")
				return nil
			}
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WORKFLOW ID\tREPO\tVERSION\tSTATUS\tITERATIONS\tFINISHED")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", r.WorkflowID, r.Repo, r.Version, r.Status, r.Iterations, r.FinishedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "Only sessions of this owner/name")
	cmd.Flags().StringVar(&status, "status", "", "Only sessions with this status")
	cmd.Flags().IntVar(&limit, "limit", 20, "Show at most this many sessions (0 for all)")
	return cmd
}
