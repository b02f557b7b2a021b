package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tonimelisma/callguard/internal/callclient"
)

// soakTally counts terminal outcomes by taxonomy, incremented concurrently
// by every soak worker.
type soakTally struct {
	success          atomic.Int64
	ioExhausted      atomic.Int64
	redirectsExh     atomic.Int64
	oneShotBlocked   atomic.Int64
	remote           atomic.Int64
	unknownRemote    atomic.Int64
	cancelled        atomic.Int64
	internal         atomic.Int64
	other            atomic.Int64
}

func (t *soakTally) record(err error) {
	switch {
	case err == nil:
		t.success.Add(1)
	case errors.Is(err, callclient.ErrIoExhausted):
		t.ioExhausted.Add(1)
	case errors.Is(err, callclient.ErrRedirectsExhausted):
		t.redirectsExh.Add(1)
	case errors.Is(err, callclient.ErrOneShotNotRetryable):
		t.oneShotBlocked.Add(1)
	case errors.Is(err, callclient.ErrRemote):
		t.remote.Add(1)
	case errors.Is(err, callclient.ErrUnknownRemote):
		t.unknownRemote.Add(1)
	case errors.Is(err, callclient.ErrCancelled):
		t.cancelled.Add(1)
	case errors.Is(err, callclient.ErrInternal):
		t.internal.Add(1)
	default:
		t.other.Add(1)
	}
}

// newSoakCmd builds the "soak" subcommand: a paced, concurrent load
// generator against the configured base URL pool, for exercising the
// limiter's AIMD behavior and the selector's failover under sustained
// traffic.
func newSoakCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "soak",
		Short: "Run paced concurrent load against the configured backend pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			opts, err := cc.Config.ToOptions()
			if err != nil {
				return err
			}

			opts = append(opts, callclient.WithLogger(cc.Logger))

			client, err := callclient.NewClient(cc.BaseURLs, opts...)
			if err != nil {
				return fmt.Errorf("building client: %w", err)
			}

			soakCfg := cc.Config.Soak

			duration, err := time.ParseDuration(soakCfg.Duration)
			if err != nil {
				return fmt.Errorf("soak.duration: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), duration)
			defer cancel()

			limiter := rate.NewLimiter(rate.Limit(soakCfg.RequestsPerSecond), 1)
			tally := &soakTally{}

			group, groupCtx := errgroup.WithContext(ctx)

			for i := 0; i < soakCfg.Concurrency; i++ {
				group.Go(func() error {
					return runSoakWorker(groupCtx, client, cc.BaseURLs[0], soakCfg, limiter, tally)
				})
			}

			if err := group.Wait(); err != nil {
				return fmt.Errorf("soak run: %w", err)
			}

			return printSoakTally(cmd, tally)
		},
	}

	return cmd
}

// runSoakWorker issues requests paced by limiter until ctx ends, recording
// every terminal outcome in tally. A worker returning nil on context
// cancellation (rather than propagating it) is deliberate: the soak loop's
// natural termination is "ran out of time", not an error.
func runSoakWorker(ctx context.Context, client *callclient.Client, baseURL string, cfg SoakConfig, limiter *rate.Limiter, tally *soakTally) error {
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}

		req := callclient.NewRequest(cfg.Method, baseURL+cfg.Path)

		resp, err := client.Execute(ctx, req)
		if err == nil {
			_, _ = resp.Buffer()
		}

		tally.record(err)

		if ctx.Err() != nil {
			return nil
		}
	}
}

func printSoakTally(cmd *cobra.Command, t *soakTally) error {
	if flagJSON {
		return writeJSON(cmd.OutOrStdout(), map[string]int64{
			"success":           t.success.Load(),
			"io_exhausted":      t.ioExhausted.Load(),
			"redirects_exhausted": t.redirectsExh.Load(),
			"one_shot_blocked":  t.oneShotBlocked.Load(),
			"remote":            t.remote.Load(),
			"unknown_remote":    t.unknownRemote.Load(),
			"cancelled":         t.cancelled.Load(),
			"internal":          t.internal.Load(),
			"other":             t.other.Load(),
		})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "success:             %d\n", t.success.Load())
	fmt.Fprintf(out, "io exhausted:        %d\n", t.ioExhausted.Load())
	fmt.Fprintf(out, "redirects exhausted: %d\n", t.redirectsExh.Load())
	fmt.Fprintf(out, "one-shot blocked:    %d\n", t.oneShotBlocked.Load())
	fmt.Fprintf(out, "remote error:        %d\n", t.remote.Load())
	fmt.Fprintf(out, "unknown remote:      %d\n", t.unknownRemote.Load())
	fmt.Fprintf(out, "cancelled:           %d\n", t.cancelled.Load())
	fmt.Fprintf(out, "internal:            %d\n", t.internal.Load())
	fmt.Fprintf(out, "other:               %d\n", t.other.Load())

	return nil
}
