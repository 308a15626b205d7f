package config

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAndAddDefaults(t *testing.T) {
	// Test case with empty ProjectName and DataSource DNS
	cnf := Configuration{
		ProjectName: "",
		DataSource: DataSourceConfig{
			Dns: "",
		},
		Redis: RedisConfig{
			Dns: "localhost:6379",
		},
	}

	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}
	cnf = Configuration{
		ProjectName: "",
		DataSource: DataSourceConfig{
			Dns: "postgres://localhost:5432",
		},
		Redis: RedisConfig{
			Dns: "",
		},
	}

	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "redis DNS is required" {
		t.Errorf("Expected redis DNS required error, got %v", err)
	}

	cnf = Configuration{
		ProjectName: "Test Project",
		DataSource: DataSourceConfig{
			Dns: "some-dns",
		},
		Redis: RedisConfig{
			Dns: "localhost:6379",
		},
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if cnf.Server.Port != DEFAULT_PORT {
		t.Errorf("Expected default port %s, got %s", DEFAULT_PORT, cnf.Server.Port)
	}
}

func TestMpesaDefaults(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: MemoryDataSource},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}
	assert.NoError(t, cnf.validateAndAddDefaults())

	assert.Equal(t, MpesaSandbox, cnf.Mpesa.Environment)
	assert.Equal(t, "174379", cnf.Mpesa.BusinessShortCode)
	assert.Equal(t, "https://sandbox.safaricom.co.ke", cnf.Mpesa.BaseURL)
	assert.Equal(t, float64(10), cnf.Mpesa.MinAmount)
	assert.Equal(t, float64(150000), cnf.Mpesa.MaxAmount)
	assert.Equal(t, 3300, cnf.Mpesa.TokenTTLSeconds)
	assert.True(t, cnf.Ussd.Simulate)
	assert.Equal(t, "bingwa_webhooks", cnf.Queue.WebhookQueue)
	assert.Equal(t, "bingwa_credit_retry", cnf.Queue.CreditRetryQueue)
	assert.Equal(t, "@every 5m", cnf.Queue.CreditSweepCron)
	assert.Equal(t, 5, cnf.Queue.MaxRetryAttempts)
	assert.Equal(t, 30, cnf.Lock.HoldTimeoutSec)
	assert.Equal(t, 10, cnf.Lock.WaitTimeoutSec)
	assert.Equal(t, 5, cnf.RateLimit.StkPushPerMinute)
}

func TestMpesaProductionBaseURL(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: MemoryDataSource},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		Mpesa:      MpesaConfig{Environment: " Production ", BaseURL: ""},
		Ussd:       UssdConfig{GatewayURL: "http://gateway.local/ussd"},
	}
	assert.NoError(t, cnf.validateAndAddDefaults())

	assert.Equal(t, MpesaProduction, cnf.Mpesa.Environment)
	assert.Equal(t, "https://api.safaricom.co.ke", cnf.Mpesa.BaseURL)
	assert.False(t, cnf.Ussd.Simulate)
}

func TestRateLimitDefaults(t *testing.T) {
	rps := 10.0
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: MemoryDataSource},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		RateLimit:  RateLimitConfig{RequestsPerSecond: &rps},
	}
	assert.NoError(t, cnf.validateAndAddDefaults())
	if assert.NotNil(t, cnf.RateLimit.Burst) {
		assert.Equal(t, 20, *cnf.RateLimit.Burst)
	}
	if assert.NotNil(t, cnf.RateLimit.CleanupIntervalSec) {
		assert.Equal(t, 10800, *cnf.RateLimit.CleanupIntervalSec)
	}
}

func TestTelemetryDefaults(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: MemoryDataSource},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		Telemetry:  TelemetryConfig{PosthogKey: "  phc_test  "},
	}
	assert.NoError(t, cnf.validateAndAddDefaults())
	assert.Equal(t, "phc_test", cnf.Telemetry.PosthogKey)
	assert.Equal(t, DEFAULT_POSTHOG_ENDPOINT, cnf.Telemetry.PosthogEndpoint)

	cnf = Configuration{
		DataSource: DataSourceConfig{Dns: MemoryDataSource},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}
	assert.NoError(t, cnf.validateAndAddDefaults())
	assert.Empty(t, cnf.Telemetry.PosthogKey)
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "bingwa.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource: DataSourceConfig{
			Dns: "temp-dns",
		},
		Redis: RedisConfig{
			Dns: "temp-redis",
		},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	// Set an environment variable to override the project name
	t.Setenv("BINGWA_PROJECT_NAME", "Env Project")
	t.Setenv("BINGWA_MPESA_BUSINESS_SHORT_CODE", "600000")
	t.Setenv("BINGWA_TELEMETRY_POSTHOG_KEY", "phc_from_env")

	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile failed: %v", err)
	}

	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if loadedConfig.ProjectName != "Env Project" {
		t.Errorf("Expected ProjectName to be 'Env Project', got '%s'", loadedConfig.ProjectName)
	}
	if loadedConfig.DataSource.Dns != "temp-dns" {
		t.Errorf("Expected DataSource.Dns to be 'temp-dns', got '%s'", loadedConfig.DataSource.Dns)
	}
	if loadedConfig.Mpesa.BusinessShortCode != "600000" {
		t.Errorf("Expected short code override '600000', got '%s'", loadedConfig.Mpesa.BusinessShortCode)
	}
	if loadedConfig.Telemetry.PosthogKey != "phc_from_env" {
		t.Errorf("Expected posthog key from env, got '%s'", loadedConfig.Telemetry.PosthogKey)
	}
}

func TestInitConfig(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "bingwa.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "InitConfig Test",
		DataSource: DataSourceConfig{
			Dns: "init-config-dns",
		}, Redis: RedisConfig{
			Dns: "localhost:6379",
		},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	if err := InitConfig(tmpFile.Name()); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if loadedConfig.ProjectName != "InitConfig Test" {
		t.Errorf("Expected ProjectName to be 'InitConfig Test', got '%s'", loadedConfig.ProjectName)
	}
	if loadedConfig.DataSource.Dns != "init-config-dns" {
		t.Errorf("Expected DataSource.Dns to be 'init-config-dns', got '%s'", loadedConfig.DataSource.Dns)
	}
}
