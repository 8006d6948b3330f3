package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newValidateCmd creates the validate command for integrity checking.
func newValidateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [graph.json]",
		Short: "Validate and repair graph and cache integrity",
		Long: `Validate and repair graph and cache integrity.

The validate command scans for dangling edges, malformed relationships,
and cache entries that no longer match any reachable graph state.
Violations are repaired in place: bad edges are removed, stale cache
entries are evicted, and the affected region is relaid out. Repeated
repairing runs escalate to a full layout rebuild.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], *configPath)
		},
	}
	return cmd
}

func runValidate(cmd *cobra.Command, graphPath, configPath string) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	sess, err := openSession(ctx, graphPath, configPath, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	prog := newProgress(logger)
	report, err := sess.manager.ValidateIntegrity(ctx)
	if err != nil {
		return err
	}

	if report.Repaired {
		if err := sess.save(); err != nil {
			return fmt.Errorf("save graph %s: %w", graphPath, err)
		}
	}

	prog.done(fmt.Sprintf("Checked %d nodes, %d edges", report.CheckedNodes, report.CheckedEdges))
	switch {
	case report.FullRecompute:
		printWarning("repeated violations; cache cleared and layout rebuilt")
	case report.Repaired:
		printWarning("repaired %d invalid edge(s), evicted %d cache entr(ies)",
			len(report.RemovedEdges), report.EvictedEntries)
		for _, key := range report.RemovedEdges {
			printDetail("removed %s", key)
		}
	default:
		printSuccess("No integrity violations found")
	}
	return nil
}
