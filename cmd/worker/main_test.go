package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractEndpointFromURL(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://api.mainnet-beta.solana.com", "mainnet"},
		{"https://api.devnet.solana.com", "devnet"},
		{"https://mainnet.helius-rpc.com/?api-key=secret", "helius"},
		{"https://some-endpoint.solana-mainnet.quiknode.pro/key/", "quiknode"},
		{"https://solana-mainnet.g.alchemy.com/v2/key", "alchemy"},
		{"http://localhost:8899", "localhost"},
		{"://bad", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractEndpointFromURL(tt.url))
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}
