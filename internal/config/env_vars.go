package config

import (
	"strings"
)

type EnvVars struct {
	Port          string `yaml:"port" env:"PORT" env-default:"8080"`
	AppName       string `yaml:"app_name" env:"APP_NAME" env-default:"Cloud Audit"`
	BaseURL       string `yaml:"base_url" env:"BASE_URL" env-default:"http://localhost:8080"`
	Env           string `yaml:"env" env:"ENV" env-default:"DEV"`
	LogLevel      string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	PostLoginPath string `yaml:"post_login_path" env:"POST_LOGIN_PATH" env-default:"/dashboard"`
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	if strings.HasPrefix(e.Port, ":") {
		return e.Port
	}
	return ":" + e.Port
}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

// GetBaseURL returns the externally visible URL of this service (e.g., "https://audit.example.com").
// The OAuth redirect URI is derived from it.
func (e EnvVars) GetBaseURL() string {
	return strings.TrimSuffix(e.BaseURL, "/")
}

func (e EnvVars) GetEnv() string {
	return e.Env
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}

func (e EnvVars) GetPostLoginPath() string {
	return e.PostLoginPath
}
