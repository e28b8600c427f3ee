package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Liz4v/pixel-hawk-sub000/internal/persistence"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print every tracked project's state and latest diff result",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	home, err := homeDir()
	if err != nil {
		return err
	}
	layout := buildLayout(home)

	store, err := persistence.Open(layout.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	projects, err := store.ListAllProjects()
	if err != nil {
		return fmt.Errorf("listing projects: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATE\tCOMPLETION\tLAST MESSAGE")
	for _, p := range projects {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.1f%%\t%s\n", p.ID, p.Name, p.State, p.MaxCompletionPercent, p.LastLogMessage)
	}
	return w.Flush()
}
