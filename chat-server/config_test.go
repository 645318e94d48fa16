package main

import (
	"testing"

	env "github.com/Netflix/go-env"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg, err := configFromEnvSet(env.EnvSet{})

	require.NoError(t, err)
	require.Equal(t, 3000, cfg.Port)
	require.Equal(t, Origins{"http://localhost:5174"}, cfg.ClientURL)
	require.Equal(t, "info", cfg.LogLevel)
	require.False(t, cfg.LogPretty)
	require.Equal(t, -1, cfg.MetricsPort)
	require.Equal(t, 5242880, cfg.ReadLimit)
	require.Equal(t, 64, cfg.SendBuffer)
}

func TestConfigFromEnvironment(t *testing.T) {
	cfg, err := configFromEnvSet(env.EnvSet{
		"PORT":       "8080",
		"CLIENT_URL": "https://chat.example.com/, http://localhost:5173,,https://chat.example.com",
		"LOG_LEVEL":  "debug",
		"LOG_PRETTY": "true",
	})

	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, Origins{"https://chat.example.com", "http://localhost:5173"}, cfg.ClientURL)
	require.Equal(t, "debug", cfg.LogLevel)
	require.True(t, cfg.LogPretty)
}

func TestConfigRejectsInvalidValues(t *testing.T) {
	tests := []env.EnvSet{
		{"PORT": "not-a-number"},
		{"PORT": "70000"},
		{"LOG_LEVEL": "loud"},
		{"WS_SEND_BUFFER": "0"},
		{"CLIENT_URL": " , "},
	}
	for _, es := range tests {
		_, err := configFromEnvSet(es)
		require.Error(t, err, "%v", es)
	}
}

func TestOriginsAllows(t *testing.T) {
	origins := parseOrigins("http://localhost:5174,https://chat.example.com")

	require.True(t, origins.Allows("http://localhost:5174"))
	require.True(t, origins.Allows("https://CHAT.example.com/"))
	require.True(t, origins.Allows(""))
	require.False(t, origins.Allows("https://evil.example.com"))

	require.True(t, parseOrigins("*").Allows("https://anything.example.com"))
}
