// Package config loads process configuration from defaults, an optional YAML
// file and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server Server
	Store  Store
	JWT    JWT
	Limits Limits
	Chat   Chat
	Media  Media
	Logger Logger
	TLS    TLS
}

type Server struct {
	HTTPPort       string
	GRPCPort       string
	Environment    string
	AllowedOrigins []string
}

type Store struct {
	Backend  string // "mongo" or "memory"
	MongoURI string
	Database string
}

type JWT struct {
	Secret    string
	Keys      map[string]string
	ActiveKid string
	TTL       time.Duration
}

type Limits struct {
	LoginRPM     int
	ConnectRPM   int
	FramesPerSec float64
	FrameBurst   int
}

type Chat struct {
	DefaultTimeZone string
	JoinPolicy      string // "open" or "members"
}

type Media struct {
	SiteURL    string
	MediaURL   string
	S3Bucket   string
	AWSRegion  string
	PresignTTL time.Duration
}

type Logger struct {
	Level       string
	Development bool
}

type TLS struct {
	CertFile string
	KeyFile  string
	Require  bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("GRPC_PORT", "50051")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE", "mongo")
	v.SetDefault("MONGODB_DATABASE", "chat_db")
	v.SetDefault("JWT_TTL", "24h")
	v.SetDefault("RATE_LIMIT_RPM", 10)
	v.SetDefault("CONNECT_RATE_RPM", 60)
	v.SetDefault("FRAME_RATE_PER_SEC", 5.0)
	v.SetDefault("FRAME_BURST", 10)
	v.SetDefault("DEFAULT_TIMEZONE", "Asia/Tashkent")
	v.SetDefault("JOIN_POLICY", "open")
	v.SetDefault("MEDIA_URL", "/media/")
	v.SetDefault("PRESIGN_TTL", "15m")
}

// Load reads configuration. When CONFIG_FILE is set the YAML file it names is
// read first; environment variables always win.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}
	return Parse(v)
}

// Parse builds a Config from an already populated viper instance.
func Parse(v *viper.Viper) (*Config, error) {
	keys, err := parseKeys(v.GetString("JWT_KEYS"))
	if err != nil {
		return nil, err
	}

	c := &Config{
		Server: Server{
			HTTPPort:       v.GetString("HTTP_PORT"),
			GRPCPort:       v.GetString("GRPC_PORT"),
			Environment:    v.GetString("ENVIRONMENT"),
			AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		},
		Store: Store{
			Backend:  strings.ToLower(v.GetString("STORE")),
			MongoURI: v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
		},
		JWT: JWT{
			Secret:    v.GetString("JWT_SECRET"),
			Keys:      keys,
			ActiveKid: v.GetString("JWT_ACTIVE_KID"),
			TTL:       v.GetDuration("JWT_TTL"),
		},
		Limits: Limits{
			LoginRPM:     v.GetInt("RATE_LIMIT_RPM"),
			ConnectRPM:   v.GetInt("CONNECT_RATE_RPM"),
			FramesPerSec: v.GetFloat64("FRAME_RATE_PER_SEC"),
			FrameBurst:   v.GetInt("FRAME_BURST"),
		},
		Chat: Chat{
			DefaultTimeZone: v.GetString("DEFAULT_TIMEZONE"),
			JoinPolicy:      strings.ToLower(v.GetString("JOIN_POLICY")),
		},
		Media: Media{
			SiteURL:    strings.TrimRight(v.GetString("SITE_URL"), "/"),
			MediaURL:   v.GetString("MEDIA_URL"),
			S3Bucket:   v.GetString("S3_BUCKET"),
			AWSRegion:  v.GetString("AWS_REGION"),
			PresignTTL: v.GetDuration("PRESIGN_TTL"),
		},
		Logger: Logger{
			Level:       v.GetString("LOG_LEVEL"),
			Development: v.GetString("ENVIRONMENT") == "development",
		},
		TLS: TLS{
			CertFile: v.GetString("TLS_CERT"),
			KeyFile:  v.GetString("TLS_KEY"),
			Require:  v.GetBool("REQUIRE_TLS"),
		},
	}
	return c, c.validate()
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "mongo":
		if c.Store.MongoURI == "" {
			return errors.New("MONGODB_URI must be set when STORE=mongo")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE %q", c.Store.Backend)
	}
	if c.JWT.Secret == "" && len(c.JWT.Keys) == 0 {
		return errors.New("either JWT_SECRET or JWT_KEYS must be set")
	}
	if len(c.JWT.Keys) > 0 {
		if _, ok := c.JWT.Keys[c.JWT.ActiveKid]; !ok {
			return fmt.Errorf("JWT_ACTIVE_KID %q does not name a key in JWT_KEYS", c.JWT.ActiveKid)
		}
	}
	switch c.Chat.JoinPolicy {
	case "open", "members":
	default:
		return fmt.Errorf("unknown JOIN_POLICY %q", c.Chat.JoinPolicy)
	}
	if c.TLS.Require && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	return nil
}

// parseKeys parses "kid:secret,kid2:secret2".
func parseKeys(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	keys := map[string]string{}
	for _, p := range strings.Split(s, ",") {
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid JWT_KEYS entry: %s", p)
		}
		keys[parts[0]] = parts[1]
	}
	return keys, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
