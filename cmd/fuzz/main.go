package fuzz

import (
	goctx "context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wiretamper/wiretamper/config"
	"github.com/wiretamper/wiretamper/context"
	"github.com/wiretamper/wiretamper/fuzz"
	"github.com/wiretamper/wiretamper/log"
	"github.com/wiretamper/wiretamper/protocol"
	"github.com/wiretamper/wiretamper/util"
)

// FuzzCmd runs a fuzzing campaign over one trace
func FuzzCmd() *cobra.Command {
	var (
		traceName string
		name      string
		fc        config.FuzzConfig
	)
	cmd := &cobra.Command{
		Use:   "fuzz [trace.yaml]",
		Short: "Run a fuzzing campaign and print the runs that diverged from the baseline",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.Load(config.ConfigPath)
			if err != nil {
				return fmt.Errorf("failed to parse config: %s", err)
			}
			flags := cmd.Flags()
			if flags.Changed("iterations") {
				conf.FuzzConfig.Iterations = fc.Iterations
			}
			if flags.Changed("workers") {
				conf.FuzzConfig.Workers = fc.Workers
			}
			if flags.Changed("seed") {
				conf.FuzzConfig.Seed = fc.Seed
			}
			if flags.Changed("corpus") {
				conf.FuzzConfig.CorpusPath = fc.CorpusPath
			}

			var doc []byte
			if len(args) == 1 {
				doc, err = os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("failed to read trace: %s", err)
				}
				if name == "" {
					name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
				}
			}
			resolved, err := protocol.Resolve(conf, doc, traceName)
			if err != nil {
				return fmt.Errorf("failed to load trace: %s", err)
			}
			if name == "" {
				name = resolved.Trace.Name
			}

			logger := log.NewLogger(conf.LogConfig)
			defer logger.Destroy()
			ctx, err := context.NewRootContext(conf, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize: %s", err)
			}
			defer ctx.Stop()

			camp := fuzz.NewCampaign(name, resolved.Document, resolved.Registry, conf, ctx.Runner, logger)
			camp.Store = ctx.Store

			termCh := util.Term()
			runCtx, cancel := goctx.WithCancel(cmd.Context())
			defer cancel()
			go func() {
				select {
				case <-termCh:
					cancel()
				case <-runCtx.Done():
				}
			}()

			result, err := camp.Run(runCtx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "baseline %s\n", result.Baseline)
			fmt.Fprintf(out, "%d runs, %d findings\n", result.Runs, len(result.Findings))
			for _, f := range result.Findings {
				fmt.Fprintf(out, "#%d seed=%d report=%s %s\n", f.Iteration, f.Seed, f.ReportID, f.Fingerprint)
				for _, m := range f.Mutations {
					fmt.Fprintf(out, "\t%s\n", m)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&traceName, "trace", "", "Factory trace to fuzz when no file is given")
	cmd.Flags().StringVar(&name, "name", "", "Name of the campaign")
	cmd.Flags().IntVarP(&fc.Iterations, "iterations", "n", 0, "Number of mutated runs")
	cmd.Flags().IntVarP(&fc.Workers, "workers", "w", 0, "Number of concurrent runs")
	cmd.Flags().Int64Var(&fc.Seed, "seed", 0, "Campaign seed")
	cmd.Flags().StringVar(&fc.CorpusPath, "corpus", "", "File collecting the findings")
	return cmd
}
