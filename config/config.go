/*
Copyright 2024 Bingwa Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT             = "5001"
	DEFAULT_POSTHOG_ENDPOINT = "https://us.i.posthog.com"

	MemoryDataSource = "memory://"

	MpesaSandbox    = "sandbox"
	MpesaProduction = "production"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"BINGWA_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"BINGWA_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"BINGWA_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"BINGWA_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"BINGWA_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"BINGWA_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"BINGWA_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"BINGWA_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"BINGWA_REDIS_SKIP_TLS_VERIFY"`
}

// MpesaConfig holds the Daraja (M-Pesa Express) credentials and payment limits.
type MpesaConfig struct {
	ConsumerKey       string  `json:"consumer_key" envconfig:"BINGWA_MPESA_CONSUMER_KEY"`
	ConsumerSecret    string  `json:"consumer_secret" envconfig:"BINGWA_MPESA_CONSUMER_SECRET"`
	BusinessShortCode string  `json:"business_short_code" envconfig:"BINGWA_MPESA_BUSINESS_SHORT_CODE"`
	Passkey           string  `json:"passkey" envconfig:"BINGWA_MPESA_PASSKEY"`
	Environment       string  `json:"environment" envconfig:"BINGWA_MPESA_ENVIRONMENT"`
	CallbackURL       string  `json:"callback_url" envconfig:"BINGWA_MPESA_CALLBACK_URL"`
	BaseURL           string  `json:"base_url" envconfig:"BINGWA_MPESA_BASE_URL"`
	MinAmount         float64 `json:"min_amount" envconfig:"BINGWA_MPESA_MIN_AMOUNT"`
	MaxAmount         float64 `json:"max_amount" envconfig:"BINGWA_MPESA_MAX_AMOUNT"`
	TokenTTLSeconds   int     `json:"token_ttl_seconds" envconfig:"BINGWA_MPESA_TOKEN_TTL_SECONDS"`
	TimeoutSeconds    int     `json:"timeout_seconds" envconfig:"BINGWA_MPESA_TIMEOUT_SECONDS"`
}

type UssdConfig struct {
	GatewayURL     string `json:"gateway_url" envconfig:"BINGWA_USSD_GATEWAY_URL"`
	Simulate       bool   `json:"simulate" envconfig:"BINGWA_USSD_SIMULATE"`
	TimeoutSeconds int    `json:"timeout_seconds" envconfig:"BINGWA_USSD_TIMEOUT_SECONDS"`
}

type QueueConfig struct {
	WebhookQueue     string `json:"webhook_queue" envconfig:"BINGWA_QUEUE_WEBHOOK"`
	CreditRetryQueue string `json:"credit_retry_queue" envconfig:"BINGWA_QUEUE_CREDIT_RETRY"`
	CreditSweepCron  string `json:"credit_sweep_cron" envconfig:"BINGWA_QUEUE_CREDIT_SWEEP_CRON"`
	CreditSweepBatch int    `json:"credit_sweep_batch" envconfig:"BINGWA_QUEUE_CREDIT_SWEEP_BATCH"`
	MaxRetryAttempts int    `json:"max_retry_attempts" envconfig:"BINGWA_QUEUE_MAX_RETRY_ATTEMPTS"`
	NumberOfWorkers  int    `json:"number_of_workers" envconfig:"BINGWA_QUEUE_NUMBER_OF_WORKERS"`
	MonitoringPort   string `json:"monitoring_port" envconfig:"BINGWA_QUEUE_MONITORING_PORT"`
}

// LockConfig controls the redis locks that serialize payment attempts and ussd sessions.
type LockConfig struct {
	HoldTimeoutSec int `json:"hold_timeout_sec" envconfig:"BINGWA_LOCK_HOLD_TIMEOUT_SEC"`
	WaitTimeoutSec int `json:"wait_timeout_sec" envconfig:"BINGWA_LOCK_WAIT_TIMEOUT_SEC"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"BINGWA_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"BINGWA_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"BINGWA_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
	StkPushPerMinute   int      `json:"stk_push_per_minute" envconfig:"BINGWA_RATE_LIMIT_STK_PUSH_PER_MINUTE"`
}

// BackupConfig controls pg_dump backups of the bingwa schema and their upload to S3.
type BackupConfig struct {
	Dir                string `json:"dir" envconfig:"BINGWA_BACKUP_DIR"`
	S3Bucket           string `json:"s3_bucket" envconfig:"BINGWA_BACKUP_S3_BUCKET"`
	S3Region           string `json:"s3_region" envconfig:"BINGWA_BACKUP_S3_REGION"`
	S3Endpoint         string `json:"s3_endpoint" envconfig:"BINGWA_BACKUP_S3_ENDPOINT"`
	AwsAccessKeyID     string `json:"aws_access_key_id" envconfig:"BINGWA_BACKUP_AWS_ACCESS_KEY_ID"`
	AwsSecretAccessKey string `json:"aws_secret_access_key" envconfig:"BINGWA_BACKUP_AWS_SECRET_ACCESS_KEY"`
}

// TelemetryConfig points the server heartbeat at a PostHog project. No key, no heartbeat.
type TelemetryConfig struct {
	PosthogKey      string `json:"posthog_key" envconfig:"BINGWA_TELEMETRY_POSTHOG_KEY"`
	PosthogEndpoint string `json:"posthog_endpoint" envconfig:"BINGWA_TELEMETRY_POSTHOG_ENDPOINT"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"BINGWA_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"BINGWA_ENABLE_TELEMETRY"`
	OtelEndpoint    string           `json:"otel_endpoint" envconfig:"BINGWA_OTEL_ENDPOINT"`
	Telemetry       TelemetryConfig  `json:"telemetry"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Mpesa           MpesaConfig      `json:"mpesa"`
	Ussd            UssdConfig       `json:"ussd"`
	Queue           QueueConfig      `json:"queue"`
	Lock            LockConfig       `json:"lock"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
	Backup          BackupConfig     `json:"backup"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("bingwa", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called bingwa.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Bingwa Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Ussd.GatewayURL = strings.TrimSpace(cnf.Ussd.GatewayURL)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.setMpesaDefaults()
	cnf.setUssdDefaults()
	cnf.setQueueDefaults()

	cnf.Telemetry.PosthogKey = strings.TrimSpace(cnf.Telemetry.PosthogKey)
	if cnf.Telemetry.PosthogEndpoint == "" {
		cnf.Telemetry.PosthogEndpoint = DEFAULT_POSTHOG_ENDPOINT
	}

	if cnf.Backup.Dir == "" {
		cnf.Backup.Dir = "backups"
	}

	if cnf.Lock.HoldTimeoutSec <= 0 {
		cnf.Lock.HoldTimeoutSec = 30
	}
	if cnf.Lock.WaitTimeoutSec <= 0 {
		cnf.Lock.WaitTimeoutSec = 10
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
		log.Printf("Warning: Rate limit cleanup interval not specified. Setting default value: %d seconds", defaultCleanup)
	}

	// STK pushes prompt a customer's phone; 5 per minute per client mirrors the agent app's limit.
	if cnf.RateLimit.StkPushPerMinute <= 0 {
		cnf.RateLimit.StkPushPerMinute = 5
	}

	return nil
}

func (cnf *Configuration) setMpesaDefaults() {
	m := &cnf.Mpesa
	m.Environment = strings.ToLower(strings.TrimSpace(m.Environment))
	if m.Environment != MpesaProduction {
		m.Environment = MpesaSandbox
	}
	if m.BusinessShortCode == "" {
		m.BusinessShortCode = "174379"
	}
	if m.CallbackURL == "" {
		m.CallbackURL = "https://your-domain.com/mpesa/callback"
		log.Printf("Warning: M-Pesa callback url not specified. Setting default value: %s", m.CallbackURL)
	}
	if m.BaseURL == "" {
		m.BaseURL = MpesaBaseURL(m.Environment)
	}
	m.BaseURL = strings.TrimRight(m.BaseURL, "/")
	if m.MinAmount <= 0 {
		m.MinAmount = 10
	}
	if m.MaxAmount <= 0 {
		m.MaxAmount = 150000
	}
	if m.TokenTTLSeconds <= 0 {
		// tokens live for an hour; cache for 55 minutes
		m.TokenTTLSeconds = 3300
	}
	if m.TimeoutSeconds <= 0 {
		m.TimeoutSeconds = 30
	}
}

func (cnf *Configuration) setUssdDefaults() {
	if cnf.Ussd.GatewayURL == "" {
		cnf.Ussd.Simulate = true
	}
	if cnf.Ussd.TimeoutSeconds <= 0 {
		cnf.Ussd.TimeoutSeconds = 30
	}
}

func (cnf *Configuration) setQueueDefaults() {
	q := &cnf.Queue
	if q.WebhookQueue == "" {
		q.WebhookQueue = "bingwa_webhooks"
	}
	if q.CreditRetryQueue == "" {
		q.CreditRetryQueue = "bingwa_credit_retry"
	}
	if q.CreditSweepCron == "" {
		q.CreditSweepCron = "@every 5m"
	}
	if q.CreditSweepBatch <= 0 {
		q.CreditSweepBatch = 100
	}
	if q.MaxRetryAttempts <= 0 {
		q.MaxRetryAttempts = 5
	}
	if q.NumberOfWorkers <= 0 {
		q.NumberOfWorkers = 5
	}
	if q.MonitoringPort == "" {
		q.MonitoringPort = "5004"
	}
}

// MpesaBaseURL returns the Daraja host for an environment.
func MpesaBaseURL(environment string) string {
	if environment == MpesaProduction {
		return "https://api.safaricom.co.ke"
	}
	return "https://sandbox.safaricom.co.ke"
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
