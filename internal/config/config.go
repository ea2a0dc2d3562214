// Package config loads mocd's server-side settings: buffer sizes, the
// sound driver preference list, the tag-cache ceiling, and the defaults
// for the whitelisted runtime options (Shuffle/Repeat/AutoNext/
// ShowStreamErrors). Layered with viper: built-in defaults, then
// ~/.moc/config.yaml, then MOC_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is mocd's process-wide settings, loaded once at startup.
type Config struct {
	// Ring/FIFO sizing (C1/C2).
	OutputBufferSize int `mapstructure:"output_buffer_size"`
	InputBufferSize  int `mapstructure:"input_buffer_size"`

	// Player loop / precache (C7/4.8).
	PrecacheThresholdBytes int `mapstructure:"precache_threshold_bytes"`

	// Output driver (C5) preference list, tried in order.
	SoundDriver []string `mapstructure:"sound_driver"`

	// Decoder registry (C4).
	MimeSniff bool `mapstructure:"mime_sniff"`

	// Tag cache (C9).
	CacheDir        string `mapstructure:"cache_dir"`
	CacheMaxRecords int    `mapstructure:"cache_max_records"`

	// Server (C11).
	SocketPath    string `mapstructure:"socket_path"`
	PidFile       string `mapstructure:"pid_file"`
	CookieFile    string `mapstructure:"cookie_file"`
	OverridesFile string `mapstructure:"overrides_file"`
	MaxClients    int    `mapstructure:"max_clients"`
	ErrorBufBytes int    `mapstructure:"error_buf_bytes"`

	// Defaults for the SET_OPTION-eligible whitelist.
	Shuffle          bool `mapstructure:"shuffle"`
	Repeat           bool `mapstructure:"repeat"`
	AutoNext         bool `mapstructure:"auto_next"`
	ShowStreamErrors bool `mapstructure:"show_stream_errors"`
}

const envPrefix = "MOC"

// Load reads defaults, then ~/.moc/config.yaml (or configPath if given),
// then MOC_* environment overrides.
func Load(configPath string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	mocDir := filepath.Join(home, ".moc")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(mocDir)
	}
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	setDefaults(v, mocDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if len(cfg.SoundDriver) == 0 {
		cfg.SoundDriver = []string{"oto", "null"}
	}

	overrides, err := LoadOverrides(cfg.OverridesFile)
	if err != nil {
		return nil, err
	}
	overrides.Apply(&cfg)

	return &cfg, nil
}

func setDefaults(v *viper.Viper, mocDir string) {
	v.SetDefault("output_buffer_size", 512*1024)
	v.SetDefault("input_buffer_size", 512*1024)
	v.SetDefault("precache_threshold_bytes", 2*32*1024) // ~2 * MAX_PLAY_BYTES-scaled PCM_BUF_SIZE
	v.SetDefault("sound_driver", []string{"oto", "null"})
	v.SetDefault("mime_sniff", true)
	v.SetDefault("cache_dir", filepath.Join(mocDir, "cache"))
	v.SetDefault("cache_max_records", 10000)
	v.SetDefault("socket_path", filepath.Join(mocDir, "socket"))
	v.SetDefault("pid_file", filepath.Join(mocDir, "pid"))
	v.SetDefault("cookie_file", filepath.Join(mocDir, "cookie"))
	v.SetDefault("overrides_file", filepath.Join(mocDir, "options.yaml"))
	v.SetDefault("max_clients", 10)
	v.SetDefault("error_buf_bytes", 256)
	v.SetDefault("shuffle", false)
	v.SetDefault("repeat", false)
	v.SetDefault("auto_next", true)
	v.SetDefault("show_stream_errors", true)
}

// OptionNames is the whitelist of options SET_OPTION/GET_OPTION may touch (§4.11).
var OptionNames = []string{"Shuffle", "Repeat", "AutoNext", "ShowStreamErrors"}

// IsWhitelistedOption reports whether name may be read/set over the protocol.
func IsWhitelistedOption(name string) bool {
	for _, n := range OptionNames {
		if n == name {
			return true
		}
	}
	return false
}
