package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	StaticPath   string        `mapstructure:"static_path"`
	Secret       string        `mapstructure:"secret"`
	LogLevel     string        `mapstructure:"log_level"`
	LogFormat    string        `mapstructure:"log_format"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	SlowPolicy   string        `mapstructure:"slow_policy"`
	SnapshotPath string        `mapstructure:"snapshot_path"`
	RateLimit    RateLimit     `mapstructure:"rate_limit"`
	Upload       Upload        `mapstructure:"upload"`
	GIF          GIF           `mapstructure:"gif"`
	Voice        Voice         `mapstructure:"voice"`
	ICEServers   []ICEServer   `mapstructure:"ice_servers"`
}

// RateLimit applies per client token to the relay endpoints.
type RateLimit struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type Upload struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	MaxBytes int64         `mapstructure:"max_bytes"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type GIF struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	GiphyEndpoint       string        `mapstructure:"giphy_endpoint"`
	GiphyAPIKey         string        `mapstructure:"giphy_api_key"`
	GfycatTokenEndpoint string        `mapstructure:"gfycat_token_endpoint"`
	GfycatEndpoint      string        `mapstructure:"gfycat_endpoint"`
	GfycatClientID      string        `mapstructure:"gfycat_client_id"`
	GfycatClientSecret  string        `mapstructure:"gfycat_client_secret"`
	RedisAddr           string        `mapstructure:"redis_addr"`
	RedisPassword       string        `mapstructure:"redis_password"`
	RedisDB             int           `mapstructure:"redis_db"`
}

type Voice struct {
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("slow_policy", "drop")
	v.SetDefault("snapshot_path", "data/tokens.json")
	v.SetDefault("rate_limit.requests", 30)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("upload.endpoint", "https://api.imgbb.com/1/upload")
	v.SetDefault("upload.max_bytes", 10<<20)
	v.SetDefault("upload.timeout", "30s")
	v.SetDefault("gif.timeout", "10s")
	v.SetDefault("voice.token_ttl", "6h")
}

// Load reads config/config.<CONFIG_ENV>.yaml, defaulting to dev.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName on top of the defaults. A missing file is not an
// error. TABLETOP_* variables override both, e.g. TABLETOP_VOICE_API_SECRET.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("tabletop")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	// AutomaticEnv only sees keys viper already knows about.
	for _, k := range []string{
		"secret", "upload.api_key",
		"gif.giphy_endpoint", "gif.giphy_api_key",
		"gif.gfycat_token_endpoint", "gif.gfycat_endpoint",
		"gif.gfycat_client_id", "gif.gfycat_client_secret",
		"gif.redis_addr", "gif.redis_password", "gif.redis_db",
		"voice.api_key", "voice.api_secret",
	} {
		_ = v.BindEnv(k)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}
