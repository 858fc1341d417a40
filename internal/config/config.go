package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

const configPathEnvVar = "CONFIG_PATH"

type Config interface {
	EnvConfig
	CorsConfig
	OAuthConfig
	SecurityConfig
	AuditConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetBaseURL() string
	GetEnv() string
	GetLogLevel() string
	GetPostLoginPath() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars  `yaml:",inline"`
	Cors     `yaml:"cors"`
	OAuth    `yaml:"oauth"`
	Security `yaml:"security"`
	Audit    `yaml:"audit"`
}

// New loads the configuration from the YAML file named by CONFIG_PATH when it
// is set, otherwise from environment variables. Defaults come from the
// env-default struct tags.
func New() (Config, error) {
	var c mainConfig
	if path := os.Getenv(configPathEnvVar); path != "" {
		if err := cleanenv.ReadConfig(path, &c); err != nil {
			return nil, fmt.Errorf("[config New] failed to read %s: %w", path, err)
		}
		return c, nil
	}
	if err := cleanenv.ReadEnv(&c); err != nil {
		return nil, fmt.Errorf("[config New] failed to read environment: %w", err)
	}
	return c, nil
}
