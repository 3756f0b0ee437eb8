package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crossref-cli/internal/cache"
	"github.com/sells-group/crossref-cli/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the response cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show response cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openCacheForMaintenance(cmd)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		st, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cacheStatsTable(st))
		return nil
	},
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired response cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openCacheForMaintenance(cmd)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		n, err := store.Sweep(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("cache sweep complete", zap.Int("removed", n))
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired entries\n", n)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheSweepCmd)
	rootCmd.AddCommand(cacheCmd)
}

func openCacheForMaintenance(cmd *cobra.Command) (cache.Store, error) {
	if err := cfg.Validate(config.ModeCache); err != nil {
		return nil, err
	}
	return openCache(cmd.Context(), cfg)
}

func cacheStatsTable(st cache.Stats) string {
	rows := [][]string{
		{"backend", st.Backend},
		{"entries", strconv.Itoa(st.Entries)},
		{"expired", strconv.Itoa(st.Expired)},
		{"total hits", strconv.FormatInt(st.TotalHits, 10)},
	}
	return renderTable([]string{"Metric", "Value"}, rows, map[int]bool{1: true})
}
