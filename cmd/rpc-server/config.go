package main

import (
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// rpc-server config.toml key mapping.
type fileConfig struct {
	Port      uint16 `toml:"port"`
	Key       string `toml:"key"`
	ServerKey string `toml:"server_key"`
	Transport string `toml:"transport"`
	LogLevel  string `toml:"log_level"`
}

type serverConfig struct {
	Port      uint16
	Key       string
	ServerKey string
	Transport string
	LogLevel  string
}

func defaultConfig() serverConfig {
	return serverConfig{
		Port:      9090,
		Key:       "client:worker0",
		ServerKey: "server:worker0",
		Transport: "tcp",
		LogLevel:  "info",
	}
}

func loadConfig(path string) (serverConfig, error) {
	cfg := defaultConfig()

	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serverConfig{}, errors.Wrapf(err, "failed to load config %s", path)
	}

	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("key") {
		cfg.Key = strings.TrimSpace(raw.Key)
	}
	if meta.IsDefined("server_key") {
		cfg.ServerKey = strings.TrimSpace(raw.ServerKey)
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.TrimSpace(raw.Transport)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if cfg.Key == "" {
		return serverConfig{}, errors.New("config: key must not be empty")
	}

	switch cfg.Transport {
	case "tcp", "kcp":
	default:
		return serverConfig{}, errors.Errorf("config: unknown transport %q", cfg.Transport)
	}

	return cfg, nil
}
