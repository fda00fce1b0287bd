package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// SystemPath is searched after configPath and the working directory.
const SystemPath = "/etc/wes-io-chat"

// Load reads <configName>.yaml ("gateway" or "worker") and the environment.
// A missing file is not an error; defaults and env vars still apply.
func Load(configPath, configName string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath(SystemPath)

	// kafka.brokers -> KAFKA_BROKERS
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return v, nil
}

// Path returns the config directory from CONFIG_PATH, falling back to def.
// Both binaries pass "./config".
func Path(def string) string {
	return GetEnv("CONFIG_PATH", def)
}

// GetEnv returns environment variable value or default.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
