package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Shapes  ShapesConfig  `mapstructure:"shapes"`
	Storage StorageConfig `mapstructure:"storage"`
	Routes  RoutesConfig  `mapstructure:"routes"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           string   `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxSessions    int      `mapstructure:"max_sessions"`
}

// ShapesConfig describes the completion API and the persona namespace.
type ShapesConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	ModelNamespace    string        `mapstructure:"model_namespace"`
	VanityDomain      string        `mapstructure:"vanity_domain"`
	ProfileURL        string        `mapstructure:"profile_url"`
	StrictCredentials bool          `mapstructure:"strict_credentials"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// StorageConfig holds the local key-value store location
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// RoutesConfig holds the landing persona/channel pair.
type RoutesConfig struct {
	DefaultPersona string `mapstructure:"default_persona"`
	DefaultChannel string `mapstructure:"default_channel"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// EnvPrefix prefixes every environment override, e.g. SHAPESCHAT_SHAPES_API_KEY.
const EnvPrefix = "SHAPESCHAT"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_sessions", 256)

	v.SetDefault("shapes.base_url", "https://api.shapes.inc/v1")
	v.SetDefault("shapes.api_key", "")
	v.SetDefault("shapes.model_namespace", "shapesinc")
	v.SetDefault("shapes.vanity_domain", "shapes.inc")
	v.SetDefault("shapes.profile_url", "https://api.shapes.inc/shapes/public")
	v.SetDefault("shapes.strict_credentials", false)
	v.SetDefault("shapes.timeout", 60*time.Second)

	v.SetDefault("storage.path", "shapeschat.db")

	v.SetDefault("routes.default_persona", "general")
	v.SetDefault("routes.default_channel", "welcome")

	v.SetDefault("log.level", "info")
}

// Load reads config.yaml from the working directory, or the file named by
// CONFIG_PATH, and applies SHAPESCHAT_* environment overrides on top.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_PATH"))
}

// LoadFile is Load with an explicit file. An empty path searches for
// config.yaml in "." and tolerates its absence.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
