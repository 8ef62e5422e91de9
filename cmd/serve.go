package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	mpdstreaming "github.com/G1deonChan/mpdstreaming"
	"github.com/G1deonChan/mpdstreaming/internal/config"
)

func init() {
	command := &cobra.Command{
		Use:   "serve",
		Short: "serve streaming server",
		Long:  `serve streaming server`,
		Run:   mpdstreaming.Service.ServeCommand,
	}

	configs := []config.Config{
		mpdstreaming.Service.ServerConfig,
	}

	cobra.OnInitialize(func() {
		for _, cfg := range configs {
			cfg.Set()
		}
		mpdstreaming.Service.Preflight()
	})

	for _, cfg := range configs {
		if err := cfg.Init(command); err != nil {
			log.Panic().Err(err).Msg("unable to run serve command")
		}
	}

	rootCmd.AddCommand(command)
}
