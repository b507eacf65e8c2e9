package serve

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wiretamper/wiretamper/apiserver"
	"github.com/wiretamper/wiretamper/config"
	"github.com/wiretamper/wiretamper/context"
	"github.com/wiretamper/wiretamper/log"
	"github.com/wiretamper/wiretamper/util"
)

// ServeCmd runs the API server until terminated
func ServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve reports and metrics, and execute submitted traces",
		RunE: func(cmd *cobra.Command, args []string) error {
			termCh := util.Term()

			conf, err := config.Load(config.ConfigPath)
			if err != nil {
				return fmt.Errorf("failed to parse config: %s", err)
			}
			if addr != "" {
				conf.APIServerAddr = addr
			}
			logger := log.NewLogger(conf.LogConfig)
			defer logger.Destroy()
			ctx, err := context.NewRootContext(conf, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize: %s", err)
			}

			server := apiserver.NewAPIServer(ctx)
			if err := server.Start(); err != nil {
				return err
			}

			<-termCh
			err = server.Stop()
			ctx.Stop()
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides the config")
	return cmd
}
