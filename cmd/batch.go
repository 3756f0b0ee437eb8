package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crossref-cli/internal/catalog"
	"github.com/sells-group/crossref-cli/internal/config"
	"github.com/sells-group/crossref-cli/internal/model"
	"github.com/sells-group/crossref-cli/internal/scheduler"
)

var (
	batchFile     string
	batchPriority string
	batchOutput   string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Resolve a file of competitor products as one batch job",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		priority, err := scheduler.ParsePriority(batchPriority)
		if err != nil {
			return err
		}

		comps, err := catalog.LoadCompetitors(batchFile)
		if err != nil {
			return err
		}
		if len(comps) == 0 {
			return eris.Errorf("batch: %s has no competitor records", batchFile)
		}

		env, err := initEnv(ctx, config.ModeBatch)
		if err != nil {
			return err
		}
		defer env.Close()

		sch := env.newScheduler(cfg.Batch)
		snap, err := runBatch(ctx, sch, comps, priority)
		if err != nil {
			return err
		}

		fmt.Fprint(cmd.OutOrStdout(), jobSummary(snap))

		if batchOutput != "" {
			if err := writeSnapshot(batchOutput, snap); err != nil {
				return err
			}
		}
		if snap.Status == scheduler.StatusFailed {
			return eris.Errorf("batch: job %s failed: %s", snap.ID, snap.Error)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "competitor file (yaml, json, csv or xlsx)")
	batchCmd.Flags().StringVar(&batchPriority, "priority", "normal", "job priority: low, normal or high")
	batchCmd.Flags().StringVar(&batchOutput, "output", "", "write the job snapshot as JSON to this path")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}

// runBatch submits one job, follows its events until it is terminal and
// returns its final snapshot. Cancelling ctx cancels the job.
func runBatch(ctx context.Context, sch *scheduler.Scheduler, comps []model.CompetitorRecord, priority scheduler.Priority) (scheduler.Snapshot, error) {
	events, unsubscribe := sch.Subscribe(16)
	defer unsubscribe()

	runCtx, cancelRun := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return sch.Run(gctx)
	})

	id, err := sch.Submit(comps, priority)
	if err != nil {
		cancelRun()
		_ = g.Wait()
		return scheduler.Snapshot{}, err
	}

	log := zap.L().With(zap.String("job_id", id))
	done := ctx.Done()
loop:
	for {
		select {
		case <-done:
			log.Info("batch interrupted, cancelling job")
			sch.Cancel(id)
			done = nil
		case ev := <-events:
			if ev.JobID != id {
				continue
			}
			if ev.Type == scheduler.EventProgress {
				log.Info("batch progress",
					zap.Int("completed", ev.Progress.Completed),
					zap.Int("failed", ev.Progress.Failed),
					zap.Int("total", ev.Progress.Total),
					zap.Duration("eta", ev.Progress.ETA),
				)
			}
			if ev.Status.Terminal() {
				break loop
			}
		}
	}

	unsubscribe()
	cancelRun()
	if err := g.Wait(); err != nil {
		return scheduler.Snapshot{}, eris.Wrap(err, "batch: scheduler")
	}

	snap, ok := sch.Job(id)
	if !ok {
		return scheduler.Snapshot{}, eris.Wrapf(scheduler.ErrUnknownJob, "batch: job %s", id)
	}
	return snap, nil
}

func writeSnapshot(path string, snap scheduler.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "batch: create output")
	}
	defer f.Close() //nolint:errcheck
	return encodeJSON(f, snap)
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "encode json")
	}
	return nil
}
