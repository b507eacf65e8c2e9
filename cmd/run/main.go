package run

import (
	goctx "context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wiretamper/wiretamper/config"
	"github.com/wiretamper/wiretamper/context"
	"github.com/wiretamper/wiretamper/log"
	"github.com/wiretamper/wiretamper/protocol"
	"github.com/wiretamper/wiretamper/report"
	"github.com/wiretamper/wiretamper/testlib"
	"github.com/wiretamper/wiretamper/util"
)

// RunCmd executes one trace and prints its report
func RunCmd() *cobra.Command {
	var traceName, name, out, submit string
	cmd := &cobra.Command{
		Use:   "run [trace.yaml]",
		Short: "Execute a workflow trace against the target",
		Long: "Execute the trace of the given YAML file, or a factory trace of the configured " +
			"protocol when no file is given. Exits with an error unless the run passes.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.Load(config.ConfigPath)
			if err != nil {
				return fmt.Errorf("failed to parse config: %s", err)
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

			if submit != "" {
				resp, err := util.SendMsg(
					http.MethodPost,
					fmt.Sprintf("%s/runs?name=%s", submit, name),
					string(resolved.Document),
					util.YamlRequest(),
				)
				if err != nil {
					return fmt.Errorf("failed to submit trace: %s", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp)
				return nil
			}

			logger := log.NewLogger(conf.LogConfig)
			defer logger.Destroy()
			ctx, err := context.NewRootContext(conf, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize: %s", err)
			}
			defer ctx.Stop()

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

			r := ctx.Runner.Run(runCtx, testlib.NewTestCase(name, 0, resolved.Trace, nil))
			if err := ctx.Record(runCtx, r); err != nil {
				logger.WithError(err).Error("Failed to store report")
			}
			if err := write(cmd, r, out); err != nil {
				return err
			}
			if !r.Passed() {
				return fmt.Errorf("run %s: verdict %s", r.ID, r.Verdict)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&traceName, "trace", "", "Factory trace to run when no file is given")
	cmd.Flags().StringVar(&name, "name", "", "Name of the test case in the report")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the executed trace to this file")
	cmd.Flags().StringVar(&submit, "submit", "", "Run on the API server at this address instead")
	return cmd
}

func write(cmd *cobra.Command, r *report.Report, out string) error {
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %s", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(raw))
	if out != "" && r.Trace != "" {
		if err := os.WriteFile(out, []byte(r.Trace), 0o644); err != nil {
			return fmt.Errorf("failed to write trace: %s", err)
		}
	}
	return nil
}
