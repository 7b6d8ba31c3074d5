package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
)

type Config struct {
	Audio AudioConfig `mapstructure:"audio"`
	Log   LogConfig   `mapstructure:"log"`
	v     *viper.Viper
	mu    sync.RWMutex
}

type AudioConfig struct {
	Backend      string  `mapstructure:"backend"` // oto, malgo
	SampleRate   int     `mapstructure:"sample_rate"`
	BitDepth     int     `mapstructure:"bit_depth"`
	Channels     int     `mapstructure:"channels"`
	BufferFrames int     `mapstructure:"buffer_frames"`
	ToneHz       float64 `mapstructure:"tone_hz"`
	Wave         string  `mapstructure:"wave"` // sine, square
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  bool   `mapstructure:"file"`
	Path  string `mapstructure:"path"`
}

func Get() *Config {
	once.Do(func() {
		instance = &Config{
			v: viper.New(),
		}
		if err := instance.load(); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
		}
	})
	return instance
}

func (c *Config) load() error {
	c.v.SetConfigName("config")
	c.v.SetConfigType("yaml")
	c.v.AddConfigPath(userConfigDir())
	c.v.AddConfigPath(".")

	c.setDefaults()

	if err := c.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
		// No config file; defaults apply.
	}

	if err := c.v.Unmarshal(c); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

func (c *Config) setDefaults() {
	c.v.SetDefault("audio.backend", "oto")
	c.v.SetDefault("audio.sample_rate", 44100)
	c.v.SetDefault("audio.bit_depth", 16)
	c.v.SetDefault("audio.channels", 2)
	c.v.SetDefault("audio.buffer_frames", 4096)
	c.v.SetDefault("audio.tone_hz", 440.0)
	c.v.SetDefault("audio.wave", "sine")

	c.v.SetDefault("log.level", "info")
	c.v.SetDefault("log.file", false)
	c.v.SetDefault("log.path", filepath.Join(dataDir(), "logs", "waveout.log"))
}

func (c *Config) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v.Set(key, value)
}

func (c *Config) GetString(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetString(key)
}

func (c *Config) GetInt(key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetInt(key)
}

func userConfigDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "WaveOut")
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "waveout")
}

func dataDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "WaveOut")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share", "waveout")
}
