package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Server configures the chat daemon.
type Server struct {
	ListenAddr string  `toml:"listen_addr"`
	DataDir    string  `toml:"data_dir"`
	JWTSecret  string  `toml:"jwt_secret"`
	RatePerSec float64 `toml:"rate_per_sec"`
	RateBurst  int     `toml:"rate_burst"`
}

// Client configures the CLI client profile.
type Client struct {
	ServerURL string `toml:"server_url"`
	Token     string `toml:"token"`
}

// Config represents ~/.roomchat/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	Server         Server `toml:"server"`
	Client         Client `toml:"client"`
}

// Default returns a config with sensible development defaults.
func Default() *Config {
	return &Config{
		Server: Server{
			ListenAddr: ":8080",
			RatePerSec: 20,
			RateBurst:  40,
		},
		Client: Client{
			ServerURL: "http://localhost:8080",
		},
	}
}

// Load reads config from the given path. Returns an error if the file is
// missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
