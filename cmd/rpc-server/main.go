// rpc-server runs a standalone worker that accepts one keyed session per
// registered client key and serves calls on it until the client goes away.
package main

import (
	"flag"
	"os"

	"github.com/rs/zerolog"

	rpc "github.com/oi2996814/tvm-rpc"
	"github.com/oi2996814/tvm-rpc/log"
	"github.com/oi2996814/tvm-rpc/transport"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config.")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("log_level", cfg.LogLevel).Msg("Unknown log level.")
	}

	logger := log.Level(level).With().Str("mod", "rpc-server").Logger()

	layer := transport.NewTCP()
	if cfg.Transport == "kcp" {
		layer = transport.NewKCP()
	}

	server, err := rpc.NewServer(cfg.Port,
		rpc.WithServerTransport(layer),
		rpc.WithServerLogger(logger),
		rpc.WithServerHandler("server.info", func([]byte) ([]byte, error) {
			return []byte(cfg.ServerKey), nil
		}),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start server.")
	}

	server.Register(cfg.Key, cfg.ServerKey)

	logger.Info().
		Uint16("port", server.Port()).
		Str("transport", layer.String()).
		Str("key", cfg.Key).
		Msg("Serving.")

	if err := server.Serve(); err != nil {
		logger.Error().Err(err).Msg("Server loop failed.")
		os.Exit(1)
	}
}
