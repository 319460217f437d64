package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. SEGMENT_SERVER_PORT.
const EnvPrefix = "SEGMENT"

// Config is the full service and client configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Model     ModelConfig     `mapstructure:"model"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
	Client    ClientConfig    `mapstructure:"client"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ModelConfig describes where the model comes from and the tensor geometry it
// was trained with.
type ModelConfig struct {
	Backend           string        `mapstructure:"backend"`
	Path              string        `mapstructure:"path"`
	SharedLibraryPath string        `mapstructure:"shared_library_path"`
	InputName         string        `mapstructure:"input_name"`
	OutputName        string        `mapstructure:"output_name"`
	Height            int           `mapstructure:"height"`
	Width             int           `mapstructure:"width"`
	NumClasses        int           `mapstructure:"num_classes"`
	Resample          string        `mapstructure:"resample"`
	RemoteAddr        string        `mapstructure:"remote_addr"`
	RemoteTimeout     time.Duration `mapstructure:"remote_timeout"`
}

type UploadConfig struct {
	MaxSize   int64 `mapstructure:"max_size"`
	MaxPixels int64 `mapstructure:"max_pixels"`
}

type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type AuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Secret   string `mapstructure:"secret"`
	Audience string `mapstructure:"audience"`
}

type RateLimitConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Rate    string `mapstructure:"rate"`
}

type LogConfig struct {
	Mode         string        `mapstructure:"mode"`
	File         string        `mapstructure:"file"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
}

// ClientConfig is consumed by cmd/segclient only.
type ClientConfig struct {
	ServerURL   string        `mapstructure:"server_url"`
	DataDir     string        `mapstructure:"data_dir"`
	ImageSuffix string        `mapstructure:"image_suffix"`
	MaskSuffix  string        `mapstructure:"mask_suffix"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Output      string        `mapstructure:"output"`
	Format      string        `mapstructure:"format"`
	Quality     int           `mapstructure:"quality"`
}

// Load reads configuration from a YAML file and SEGMENT_* environment
// variables. A missing file is not an error: defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file or environment is present.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("model.backend", "onnx")
	v.SetDefault("model.path", "models/final_model.onnx")
	v.SetDefault("model.shared_library_path", "")
	v.SetDefault("model.input_name", "input")
	v.SetDefault("model.output_name", "output")
	v.SetDefault("model.height", 224)
	v.SetDefault("model.width", 224)
	v.SetDefault("model.num_classes", 8)
	v.SetDefault("model.resample", "bicubic")
	v.SetDefault("model.remote_addr", "localhost:50051")
	v.SetDefault("model.remote_timeout", 30*time.Second)

	v.SetDefault("upload.max_size", 10<<20)
	v.SetDefault("upload.max_pixels", 25_000_000)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 10*time.Minute)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=segmentation port=5432 sslmode=disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.audience", "")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rate", "100-S")

	v.SetDefault("log.mode", "release")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_age", 7*24*time.Hour)
	v.SetDefault("log.rotation_time", 24*time.Hour)

	v.SetDefault("client.server_url", "http://localhost:8000")
	v.SetDefault("client.data_dir", "data/test_samples")
	v.SetDefault("client.image_suffix", "_leftImg8bit.png")
	v.SetDefault("client.mask_suffix", "_gtFine_labelIds.png")
	v.SetDefault("client.timeout", 60*time.Second)
	v.SetDefault("client.output", "comparison.png")
	v.SetDefault("client.format", "png")
	v.SetDefault("client.quality", 90)
}

// Validate checks values that would otherwise surface as confusing runtime failures.
// paletteSize is the number of colors available for rendering class masks.
func (c *Config) Validate(paletteSize int) error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("server.mode must be debug, release or test, got %q", c.Server.Mode)
	}
	if c.Model.Height <= 0 || c.Model.Width <= 0 {
		return fmt.Errorf("model.height and model.width must be positive")
	}
	if c.Model.NumClasses <= 0 || c.Model.NumClasses > 256 {
		return fmt.Errorf("model.num_classes must be between 1 and 256")
	}
	if c.Model.NumClasses != paletteSize {
		return fmt.Errorf("model.num_classes (%d) does not match palette size (%d)", c.Model.NumClasses, paletteSize)
	}
	switch c.Model.Backend {
	case "onnx":
		if c.Model.Path == "" {
			return fmt.Errorf("model.path is required for the onnx backend")
		}
	case "grpc":
		if c.Model.RemoteAddr == "" {
			return fmt.Errorf("model.remote_addr is required for the grpc backend")
		}
	default:
		return fmt.Errorf("unknown model.backend %q", c.Model.Backend)
	}
	if c.Upload.MaxSize <= 0 {
		return fmt.Errorf("upload.max_size must be positive")
	}
	if c.Upload.MaxPixels <= 0 {
		return fmt.Errorf("upload.max_pixels must be positive")
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.Secret) == "" {
		return fmt.Errorf("auth.secret is required when auth is enabled")
	}
	return nil
}
