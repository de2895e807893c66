package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

// EnvFile is read into the environment before the first value is loaded. Variables which are already set win.
const EnvFile = ".env"

var envFileOnce sync.Once

func loadEnvFile() {
	envFileOnce.Do(func() {
		if err := godotenv.Load(EnvFile); err != nil {
			log.Debug("No env file loaded, configuration will be read from environment variables", "err", err)
		}
	})
}

type Config struct {
	// Key that represents this value in the config
	key string
	// Once for loading the value
	once sync.Once
	// Default and loaded values
	defaultValue any
	loadedValue  any
}

func makeConfig(key string, defaultValue any) *Config {
	return &Config{
		key:          key,
		defaultValue: defaultValue,
		// once and loadedValue are zero-initialized
	}
}

func performLoad[T any](config *Config, parseValue func(string) (T, error)) T {
	loadEnvFile()

	config.once.Do(func() {
		value, ok := os.LookupEnv(config.key)

		if !ok {
			log.Debug("Config not set, using fallback", "key", config.key, "fallback", config.defaultValue)
			config.loadedValue = config.defaultValue
			return
		}

		parsed, err := parseValue(strings.TrimSpace(value))
		if err != nil {
			log.Warn("Found invalid config value, using fallback", "key", config.key, "value", value,
				"err", err, "fallback", config.defaultValue)
			config.loadedValue = config.defaultValue
			return
		}

		log.Debug("Using config value", "key", config.key, "value", parsed)
		config.loadedValue = parsed
	})

	return config.loadedValue.(T)
}

func (config *Config) GetString() string {
	return performLoad(config, func(value string) (string, error) {
		return value, nil
	})
}

// GetStrings splits a comma separated value, dropping empty entries.
func (config *Config) GetStrings() []string {
	return performLoad(config, func(value string) ([]string, error) {
		var values []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				values = append(values, part)
			}
		}
		return values, nil
	})
}

// GetDuration reads a whole number of seconds.
func (config *Config) GetDuration() time.Duration {
	return performLoad(config, func(value string) (time.Duration, error) {
		period, err := strconv.ParseUint(value, 10, 64)

		return time.Duration(period) * time.Second, err
	})
}

func (config *Config) GetInt() int {
	return performLoad(config, strconv.Atoi)
}

func (config *Config) GetInt64() int64 {
	return performLoad(config, func(value string) (int64, error) {
		return strconv.ParseInt(value, 10, 64)
	})
}

func (config *Config) GetFloat() float64 {
	return performLoad(config, func(value string) (float64, error) {
		return strconv.ParseFloat(value, 64)
	})
}
