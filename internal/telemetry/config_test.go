package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_GetServiceName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		config   *Config
		expected string
	}{
		{
			name:     "returns default when empty",
			config:   &Config{},
			expected: DefaultServiceName,
		},
		{
			name: "returns configured value",
			config: &Config{
				ServiceName: "my-service",
			},
			expected: "my-service",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.config.GetServiceName())
		})
	}
}

func TestConfig_GetServiceVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		config   *Config
		expected string
	}{
		{
			name:     "returns unknown when empty",
			config:   &Config{},
			expected: "unknown",
		},
		{
			name: "returns configured value",
			config: &Config{
				ServiceVersion: "1.2.3",
			},
			expected: "1.2.3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.config.GetServiceVersion())
		})
	}
}

func TestConfig_GetEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		config   *Config
		expected string
	}{
		{
			name:     "returns default when empty",
			config:   &Config{},
			expected: DefaultEndpoint,
		},
		{
			name: "returns configured value",
			config: &Config{
				Endpoint: "collector.example.com:4318",
			},
			expected: "collector.example.com:4318",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.config.GetEndpoint())
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:   "nil config is valid",
			config: nil,
		},
		{
			name:   "disabled config is valid",
			config: &Config{Enabled: false},
		},
		{
			name:   "enabled with default endpoint is valid",
			config: &Config{Enabled: true},
		},
		{
			name: "enabled with explicit endpoint is valid",
			config: &Config{
				Enabled:  true,
				Endpoint: "otel-collector:4318",
				Insecure: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
