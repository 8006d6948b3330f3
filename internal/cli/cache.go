package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newCacheCmd creates the cache management command.
func newCacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the layout cache",
	}

	cmd.AddCommand(newCacheStatusCmd(configPath))
	cmd.AddCommand(newCacheClearCmd(configPath))
	cmd.AddCommand(newCacheInvalidateCmd(configPath))
	return cmd
}

// newCacheStatusCmd creates the "cache status" subcommand.
func newCacheStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status [graph.json]",
		Short: "Check whether the current graph state has a cached layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := openSession(ctx, args[0], *configPath, loggerFromContext(ctx))
			if err != nil {
				return err
			}
			defer sess.Close()

			fp := sess.manager.Fingerprint()
			snap, ok, err := sess.manager.CachedLayout(ctx, fp)
			if err != nil || !ok {
				printInfo("No cached layout for the current state")
				printKeyValue("fingerprint", shortFingerprint(fp))
				return nil
			}
			printSuccess("Cached layout found")
			printKeyValue("fingerprint", shortFingerprint(snap.Fingerprint))
			printKeyValue("positions", fmt.Sprintf("%d", len(snap.Positions)))
			printKeyValue("version", fmt.Sprintf("%d", snap.SourceVersion))
			printKeyValue("saved", snap.SavedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

// newCacheClearCmd creates the "cache clear" subcommand.
func newCacheClearCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [graph.json]",
		Short: "Clear all cached layouts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)
			sess, err := openSession(ctx, args[0], *configPath, logger)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.manager.ClearLayoutCache(ctx); err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			printSuccess("Layout cache cleared")
			return nil
		},
	}
}

// newCacheInvalidateCmd creates the "cache invalidate" subcommand.
func newCacheInvalidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate [graph.json] [node-id...]",
		Short: "Evict cached layouts covering the given nodes",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := openSession(ctx, args[0], *configPath, loggerFromContext(ctx))
			if err != nil {
				return err
			}
			defer sess.Close()

			n, err := sess.manager.InvalidateLayouts(ctx, args[1:])
			if err != nil {
				return fmt.Errorf("invalidate: %w", err)
			}
			printSuccess("Evicted %d cache entr(ies)", n)
			return nil
		},
	}
}
