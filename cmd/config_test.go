package main

import (
	"context"
	"testing"

	"github.com/bingwapro/bingwa/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedacted(t *testing.T) {
	assert.Equal(t, "", redacted(""))
	assert.Equal(t, "****", redacted("abc"))
	assert.Equal(t, "****6789", redacted("secret-6789"))
}

func TestInitializePostHogWithoutKey(t *testing.T) {
	client, heartbeatID := initializePostHog(config.TelemetryConfig{PosthogEndpoint: config.DEFAULT_POSTHOG_ENDPOINT}, "Bingwa Test")
	assert.Nil(t, client)
	assert.Empty(t, heartbeatID)
}

func TestInitializeObservabilityDisabled(t *testing.T) {
	client, shutdown, err := initializeObservability(context.Background(), &config.Configuration{
		Telemetry: config.TelemetryConfig{PosthogKey: "phc_unused"},
	})
	require.NoError(t, err)
	assert.Nil(t, client)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}
