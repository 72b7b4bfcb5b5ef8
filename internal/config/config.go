// Package config loads murmur configuration from flags, environment
// variables and an optional config file, in that order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths      PathsConfig      `mapstructure:"paths"`
	Generation GenerationConfig `mapstructure:"generation"`
	Server     ServerConfig     `mapstructure:"server"`
	Compute    ComputeConfig    `mapstructure:"compute"`
	LogLevel   string           `mapstructure:"log_level"`
}

type PathsConfig struct {
	ModelPath     string `mapstructure:"model_path"`
	TokenizerPath string `mapstructure:"tokenizer_path"`
	VoiceManifest string `mapstructure:"voice_manifest"`
}

type GenerationConfig struct {
	MaxChunkTokens int     `mapstructure:"max_chunk_tokens"`
	FlowSteps      int     `mapstructure:"flow_steps"`
	MinSteps       int     `mapstructure:"min_steps"`
	Temperature    float64 `mapstructure:"temperature"`
	EOSThreshold   float64 `mapstructure:"eos_threshold"`
	Seed           int64   `mapstructure:"seed"`
}

type ServerConfig struct {
	ListenAddr   string `mapstructure:"listen_addr"`
	MaxTextBytes int    `mapstructure:"max_text_bytes"`
	Workers      int    `mapstructure:"workers"`
	TimeoutSec   int    `mapstructure:"timeout_sec"`
}

type ComputeConfig struct {
	Threads int `mapstructure:"threads"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			ModelPath:     "models/murmur.safetensors",
			TokenizerPath: "models/tokenizer.model",
			VoiceManifest: "voices/manifest.json",
		},
		Generation: GenerationConfig{
			MaxChunkTokens: 32,
			FlowSteps:      8,
			MinSteps:       2,
			Temperature:    0.7,
			EOSThreshold:   -4.0,
			Seed:           0,
		},
		Server: ServerConfig{
			ListenAddr:   ":8080",
			MaxTextBytes: 4096,
			Workers:      2,
			TimeoutSec:   60,
		},
		Compute: ComputeConfig{
			Threads: 0, // 0 = GOMAXPROCS
		},
		LogLevel: "info",
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-model-path", defaults.Paths.ModelPath, "Path to model safetensors archive")
	fs.String("paths-tokenizer-path", defaults.Paths.TokenizerPath, "Path to SentencePiece tokenizer model")
	fs.String("paths-voice-manifest", defaults.Paths.VoiceManifest, "Path to voice manifest JSON")
	fs.Int("generation-max-chunk-tokens", defaults.Generation.MaxChunkTokens, "Token budget per text chunk")
	fs.Int("generation-flow-steps", defaults.Generation.FlowSteps, "Euler steps per latent frame")
	fs.Int("generation-min-steps", defaults.Generation.MinSteps, "Frames generated before EOS detection")
	fs.Float64("generation-temperature", defaults.Generation.Temperature, "Sampling noise temperature")
	fs.Float64("generation-eos-threshold", defaults.Generation.EOSThreshold, "EOS detection logit threshold")
	fs.Int64("generation-seed", defaults.Generation.Seed, "Sampling RNG seed (0 = clock)")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("server-max-text-bytes", defaults.Server.MaxTextBytes, "Maximum request text size in bytes")
	fs.Int("server-workers", defaults.Server.Workers, "Concurrent synthesis requests")
	fs.Int("server-timeout-sec", defaults.Server.TimeoutSec, "Per-request timeout in seconds")
	fs.Int("compute-threads", defaults.Compute.Threads, "Math worker threads (0 = GOMAXPROCS)")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)

	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("MURMUR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_", "__", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("murmur")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ParseLogLevel maps a level name to its slog value.
func ParseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q (expected debug|info|warn|error)", raw)
	}
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.model_path", c.Paths.ModelPath)
	v.SetDefault("paths.tokenizer_path", c.Paths.TokenizerPath)
	v.SetDefault("paths.voice_manifest", c.Paths.VoiceManifest)
	v.SetDefault("generation.max_chunk_tokens", c.Generation.MaxChunkTokens)
	v.SetDefault("generation.flow_steps", c.Generation.FlowSteps)
	v.SetDefault("generation.min_steps", c.Generation.MinSteps)
	v.SetDefault("generation.temperature", c.Generation.Temperature)
	v.SetDefault("generation.eos_threshold", c.Generation.EOSThreshold)
	v.SetDefault("generation.seed", c.Generation.Seed)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.max_text_bytes", c.Server.MaxTextBytes)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.timeout_sec", c.Server.TimeoutSec)
	v.SetDefault("compute.threads", c.Compute.Threads)
	v.SetDefault("log_level", c.LogLevel)
}

// flagKeys maps config keys to the flag names RegisterFlags declares.
var flagKeys = map[string]string{
	"paths.model_path":            "paths-model-path",
	"paths.tokenizer_path":        "paths-tokenizer-path",
	"paths.voice_manifest":        "paths-voice-manifest",
	"generation.max_chunk_tokens": "generation-max-chunk-tokens",
	"generation.flow_steps":       "generation-flow-steps",
	"generation.min_steps":        "generation-min-steps",
	"generation.temperature":      "generation-temperature",
	"generation.eos_threshold":    "generation-eos-threshold",
	"generation.seed":             "generation-seed",
	"server.listen_addr":          "server-listen-addr",
	"server.max_text_bytes":       "server-max-text-bytes",
	"server.workers":              "server-workers",
	"server.timeout_sec":          "server-timeout-sec",
	"compute.threads":             "compute-threads",
	"log_level":                   "log-level",
}

// bindFlags binds each config key directly to its flag. Changed flags take
// precedence; unchanged ones leave defaults, env and config-file values
// visible at the dotted keys.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for key, name := range flagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}

		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	return nil
}
