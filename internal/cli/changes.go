package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/saptak/screenshotnotes-sub005/pkg/changelog"
)

// newChangesCmd creates the changes command for inspecting the change log.
func newChangesCmd(configPath *string) *cobra.Command {
	var (
		since       uint64
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "changes [graph.json]",
		Short: "Show the recorded change log",
		Long: `Show the recorded change log.

Without flags the command prints every recorded change after --since in
version order. With --interactive a scrollable browser opens instead.

The change log is durable only with the sqlite or mongo cache backend;
with the in-memory backend each run starts from an empty log.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChanges(cmd, args[0], *configPath, since, interactive)
		},
	}

	cmd.Flags().Uint64Var(&since, "since", 0, "only show changes after this version id")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "browse the log interactively")
	return cmd
}

func runChanges(cmd *cobra.Command, graphPath, configPath string, since uint64, interactive bool) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	sess, err := openSession(ctx, graphPath, configPath, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	records := sess.manager.ChangesSince(since)
	if len(records) == 0 {
		printInfo("No recorded changes after version %d", since)
		return nil
	}

	if interactive {
		return browseChanges(records)
	}

	fmt.Println(StyleTitle.Render(fmt.Sprintf("Change log (%d entries)", len(records))))
	for _, rec := range records {
		fmt.Println(formatRecord(rec))
	}
	return nil
}

// formatRecord renders one change record as a single line.
func formatRecord(rec changelog.Record) string {
	nodes := strings.Join(rec.NodeIDs, ", ")
	if len(nodes) > 60 {
		nodes = nodes[:57] + "..."
	}
	return fmt.Sprintf("%s %s %s %s %s",
		StyleHighlight.Render(fmt.Sprintf("v%d", rec.VersionID)),
		StyleDim.Render(rec.Timestamp.Format("2006-01-02 15:04:05")),
		StyleValue.Render(string(rec.Type)),
		StyleDim.Render(string(rec.Origin)),
		StyleDim.Render("["+nodes+"]"))
}
