package mpdstreaming

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/G1deonChan/mpdstreaming/internal/api"
	"github.com/G1deonChan/mpdstreaming/internal/config"
	"github.com/G1deonChan/mpdstreaming/internal/http"
	"github.com/G1deonChan/mpdstreaming/internal/pipeline"
	"github.com/G1deonChan/mpdstreaming/internal/registry"
)

var Service *Main

func init() {
	Service = &Main{
		ServerConfig: &config.Server{},
	}
}

type Main struct {
	ServerConfig *config.Server

	logger     zerolog.Logger
	registry   *registry.Registry
	apiManager *api.ApiManagerCtx
	server     *http.HttpManagerCtx
}

func (main *Main) Preflight() {
	main.logger = log.With().Str("service", "main").Logger()
}

func (main *Main) Start() {
	conf := main.ServerConfig

	main.registry = registry.New(registry.Options{
		OutputRoot:  conf.OutputDir,
		Policy:      conf.Supervision.Policy(),
		Consumer:    pipeline.FFmpegConsumer(conf.Consumer),
		Supervision: conf.Supervision,
		Producer:    conf.Producer,
	})

	for _, stream := range conf.Streams {
		if err := main.registry.AddStream(stream); err != nil {
			main.logger.Error().Err(err).Str("stream", stream.ID).Msg("skipping invalid stream")
		}
	}
	main.registry.StartEnabled()

	main.apiManager = api.New(main.registry)

	main.server = http.New(conf)
	if conf.PProf {
		main.server.WithDebugPProf("/debug/pprof")
	}
	main.server.Mount(main.apiManager.Mount)
	main.server.Start()
}

func (main *Main) Shutdown() {
	main.registry.Shutdown()

	if err := main.server.Shutdown(); err != nil {
		main.logger.Err(err).Msg("server shutdown with an error")
	} else {
		main.logger.Debug().Msg("server shutdown")
	}
}

func (main *Main) ServeCommand(cmd *cobra.Command, args []string) {
	main.logger.Info().Msg("starting main server")
	main.Start()
	main.logger.Info().Msg("main ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit

	main.logger.Warn().Msgf("received %s, attempting graceful shutdown", sig)
	main.Shutdown()
	main.logger.Info().Msg("shutdown complete")
}
