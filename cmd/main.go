package cmd

import (
	"github.com/spf13/cobra"
	"github.com/wiretamper/wiretamper/cmd/fuzz"
	"github.com/wiretamper/wiretamper/cmd/run"
	"github.com/wiretamper/wiretamper/cmd/serve"
	"github.com/wiretamper/wiretamper/cmd/trace"
	"github.com/wiretamper/wiretamper/config"
)

// RootCmd returns the root cobra command of the tool
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "wiretamper",
		Short:        "Execute and fuzz message level workflow traces of network protocols",
		SilenceUsage: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	flags := cmd.PersistentFlags()
	flags.StringVarP(&config.ConfigPath, "config", "c", "config.json", "Config file path")
	flags.StringVarP(&config.Flags.Protocol, "protocol", "p", "", "Protocol family, overrides the config")
	flags.StringVarP(&config.Flags.Role, "role", "r", "", "Local role, initiator or responder")
	flags.StringVarP(&config.Flags.Target, "target", "t", "", "Peer address, or the listen address of a responder")
	flags.StringVar(&config.Flags.LogLevel, "log-level", "", "Log level")

	cmd.AddCommand(run.RunCmd())
	cmd.AddCommand(trace.TraceCmd())
	cmd.AddCommand(fuzz.FuzzCmd())
	cmd.AddCommand(serve.ServeCmd())
	return cmd
}
