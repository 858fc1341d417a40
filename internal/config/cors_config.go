package config

import "strings"

type Cors struct {
	Origins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-separator:","`
	Methods string   `yaml:"allowed_methods" env:"CORS_ALLOWED_METHODS" env-default:"GET, POST"`
	Headers string   `yaml:"allowed_headers" env:"CORS_ALLOWED_HEADERS" env-default:"Content-Type, X-CSRF-Token"`
}

var _ CorsConfig = Cors{}

type AllowedOrigins map[string]struct{}
type nullValue = struct{}

func (a AllowedOrigins) IsAllowedOrigin(origin string) bool {
	_, ok := a[origin]
	return ok
}

func (a AllowedOrigins) String() string {
	var origins []string
	for k := range a {
		origins = append(origins, k)
	}
	return strings.Join(origins, ", ")
}

func (c Cors) GetAllowedOrigins() AllowedOrigins {
	origins := make(AllowedOrigins, len(c.Origins))
	for _, o := range c.Origins {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = nullValue{}
		}
	}
	return origins
}

func (c Cors) GetAllowedMethods() string {
	return c.Methods
}

func (c Cors) GetAllowedHeaders() string {
	return c.Headers
}
