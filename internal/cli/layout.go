package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/saptak/screenshotnotes-sub005/pkg/layoutcache"
)

// newLayoutCmd creates the layout command for computing node positions.
func newLayoutCmd(configPath *string) *cobra.Command {
	var (
		output string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "layout [graph.json]",
		Short: "Compute or fetch the layout for a graph",
		Long: `Compute or fetch the layout for a graph.

The layout command fingerprints the graph and looks up the cached
layout. On a hit the cached positions are returned without running the
solver; on a miss (or with --force) the full force-directed layout is
computed, cached, and written back into the graph file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLayout(cmd, args[0], output, *configPath, force)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write positions JSON to file (default: update graph in place)")
	cmd.Flags().BoolVar(&force, "force", false, "recompute even when a cached layout exists")
	return cmd
}

func runLayout(cmd *cobra.Command, graphPath, output, configPath string, force bool) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	sess, err := openSession(ctx, graphPath, configPath, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	fp := sess.manager.Fingerprint()
	var (
		snap   layoutcache.Snapshot
		cached bool
	)
	if force {
		sp := newSpinnerWithContext(ctx, "Computing layout...")
		sp.Start()
		snap, err = sess.manager.FullRecompute(ctx)
		if err != nil {
			sp.StopWithError("Layout failed")
			return err
		}
		sp.StopWithSuccess(fmt.Sprintf("Laid out %d nodes", len(snap.Positions)))
	} else {
		sp := newSpinnerWithContext(ctx, "Resolving layout...")
		sp.Start()
		snap, cached, err = sess.manager.GetLayout(ctx, fp)
		if err != nil {
			sp.StopWithError("Layout failed")
			return err
		}
		if cached {
			sp.StopWithSuccess("Layout served from cache")
		} else {
			sp.StopWithSuccess(fmt.Sprintf("Laid out %d nodes", len(snap.Positions)))
		}
	}

	if err := sess.save(); err != nil {
		return fmt.Errorf("save graph %s: %w", graphPath, err)
	}
	if output != "" {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(output, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("write layout %s: %w", output, err)
		}
		printDetail("layout written to %s", output)
	}

	g := sess.manager.Snapshot()
	printStats(g.NodeCount(), g.EdgeCount(), cached)
	printKeyValue("fingerprint", shortFingerprint(snap.Fingerprint))
	printKeyValue("version", fmt.Sprintf("%d", snap.SourceVersion))
	return nil
}

// shortFingerprint truncates a digest for display.
func shortFingerprint(fp string) string {
	if len(fp) > 16 {
		return fp[:16] + strings.Repeat(".", 2)
	}
	return fp
}
