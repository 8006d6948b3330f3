package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/saptak/screenshotnotes-sub005/pkg/consistency"
)

// newApplyCmd creates the apply command for mutating a graph.
func newApplyCmd(configPath *string) *cobra.Command {
	var changeFile string

	cmd := &cobra.Command{
		Use:   "apply [graph.json]",
		Short: "Apply changes to a mind-map graph",
		Long: `Apply changes to a mind-map graph.

Changes are read as JSON from --changes (or stdin with "-"): either a
single change object or an array. Each change names its type, origin,
and payload, for example:

  {"type": "node_added", "origin": "user_edit",
   "node": {"id": "doc-42", "importance": 0.8}}

Changes are applied in order. Conflicting changes within the resolution
window are arbitrated by origin priority; superseded changes are
reported and skipped, not merged. After all changes settle, only the
affected region has been relaid out and the graph file is rewritten.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, args[0], changeFile, *configPath)
		},
	}

	cmd.Flags().StringVarP(&changeFile, "changes", "c", "-", "change JSON file, or - for stdin")
	return cmd
}

func runApply(cmd *cobra.Command, graphPath, changeFile, configPath string) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	changes, err := readChanges(changeFile)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		printInfo("No changes to apply")
		return nil
	}

	sess, err := openSession(ctx, graphPath, configPath, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	prog := newProgress(logger)
	applied, superseded := 0, 0
	for i, ch := range changes {
		res, err := sess.manager.ApplyChange(ctx, ch)
		if err != nil {
			return fmt.Errorf("change %d (%s): %w", i+1, ch.Type, err)
		}
		if res.Superseded {
			superseded++
			printWarning("change %d (%s from %s) superseded by higher-priority change", i+1, ch.Type, ch.Origin)
			continue
		}
		applied++
		logger.Debug("change applied",
			"index", i+1, "type", ch.Type, "version", res.AppliedVersion, "dirty", len(res.DirtyNodeIDs))
	}

	if err := sess.save(); err != nil {
		return fmt.Errorf("save graph %s: %w", graphPath, err)
	}

	prog.done(fmt.Sprintf("Applied %d change(s)", applied))
	if superseded > 0 {
		printDetail("%d superseded", superseded)
	}
	g := sess.manager.Snapshot()
	printStats(g.NodeCount(), g.EdgeCount(), false)
	printKeyValue("fingerprint", sess.manager.Fingerprint()[:16])
	return nil
}

// readChanges decodes one change or an array of changes from path.
func readChanges(path string) ([]consistency.Change, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open changes %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var changes []consistency.Change
		if err := json.Unmarshal([]byte(trimmed), &changes); err != nil {
			return nil, fmt.Errorf("parse changes: %w", err)
		}
		return changes, nil
	}
	var ch consistency.Change
	if err := json.Unmarshal([]byte(trimmed), &ch); err != nil {
		return nil, fmt.Errorf("parse change: %w", err)
	}
	return []consistency.Change{ch}, nil
}
