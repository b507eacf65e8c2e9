package trace

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wiretamper/wiretamper/config"
	"github.com/wiretamper/wiretamper/protocol"
)

// TraceCmd prints factory traces as YAML, a starting point for hand edited ones
func TraceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trace [name]",
		Short: "Print a factory trace of the configured protocol and role",
		Long:  "Print the named factory trace. Without a name, list the factory traces of every protocol.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				for _, name := range protocol.Names() {
					f, _ := protocol.Get(name)
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", name, f.Network(), strings.Join(f.Traces(), ","))
				}
				return nil
			}
			conf, err := config.Load(config.ConfigPath)
			if err != nil {
				return fmt.Errorf("failed to parse config: %s", err)
			}
			resolved, err := protocol.Resolve(conf, nil, args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(resolved.Document)
			return err
		},
	}
}
