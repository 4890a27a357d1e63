package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(values map[string]any) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestParseDefaults(t *testing.T) {
	c, err := Parse(newViper(map[string]any{
		"STORE":      "memory",
		"JWT_SECRET": "s3cr3t",
	}))
	require.NoError(t, err)

	assert.Equal(t, "8080", c.Server.HTTPPort)
	assert.Equal(t, "50051", c.Server.GRPCPort)
	assert.Equal(t, 24*time.Hour, c.JWT.TTL)
	assert.Equal(t, "Asia/Tashkent", c.Chat.DefaultTimeZone)
	assert.Equal(t, "open", c.Chat.JoinPolicy)
	assert.Equal(t, 10, c.Limits.LoginRPM)
	assert.True(t, c.Logger.Development)
}

func TestParseKeysAndOrigins(t *testing.T) {
	c, err := Parse(newViper(map[string]any{
		"STORE":           "memory",
		"JWT_KEYS":        "k1:one,k2:two",
		"JWT_ACTIVE_KID":  "k2",
		"ALLOWED_ORIGINS": "http://localhost:4200, https://example.com",
	}))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"k1": "one", "k2": "two"}, c.JWT.Keys)
	assert.Equal(t, []string{"http://localhost:4200", "https://example.com"}, c.Server.AllowedOrigins)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]any{
		"mongo without uri":  {"JWT_SECRET": "x"},
		"no jwt secret":      {"STORE": "memory"},
		"bad key entry":      {"STORE": "memory", "JWT_KEYS": "broken"},
		"unknown active kid": {"STORE": "memory", "JWT_KEYS": "k1:one", "JWT_ACTIVE_KID": "k9"},
		"unknown policy":     {"STORE": "memory", "JWT_SECRET": "x", "JOIN_POLICY": "invite"},
		"unknown store":      {"STORE": "redis", "JWT_SECRET": "x"},
		"tls without certs":  {"STORE": "memory", "JWT_SECRET": "x", "REQUIRE_TLS": true},
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(newViper(values))
			assert.Error(t, err)
		})
	}
}
