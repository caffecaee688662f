/*
Copyright 2024 Blnk Finance Authors.

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
	DEFAULT_PORT = "5004"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"RECON_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"RECON_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"RECON_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"RECON_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"RECON_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"RECON_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	ExecutionQueue          string `json:"execution_queue" envconfig:"RECON_QUEUE_EXECUTION"`
	IngestionQueue          string `json:"ingestion_queue" envconfig:"RECON_QUEUE_INGESTION"`
	NumberOfIngestionQueues int    `json:"number_of_ingestion_queues" envconfig:"RECON_QUEUE_NUMBER_OF_INGESTION_QUEUES"`
	Concurrency             int    `json:"concurrency" envconfig:"RECON_QUEUE_CONCURRENCY"`
	MaxRetryAttempts        int    `json:"max_retry_attempts" envconfig:"RECON_QUEUE_MAX_RETRY_ATTEMPTS"`
	MonitoringPort          string `json:"monitoring_port" envconfig:"RECON_QUEUE_MONITORING_PORT"`
}

// MatchingConfig tunes rule execution.
type MatchingConfig struct {
	// DefaultMinSources of 0 means every declared source must match.
	DefaultMinSources  int `json:"default_min_sources" envconfig:"RECON_MATCHING_DEFAULT_MIN_SOURCES"`
	LoadParallelism    int `json:"load_parallelism" envconfig:"RECON_MATCHING_LOAD_PARALLELISM"`
	MaxTuplesPerKey    int `json:"max_tuples_per_key" envconfig:"RECON_MATCHING_MAX_TUPLES_PER_KEY"`
	LockTimeoutSeconds int `json:"lock_timeout_seconds" envconfig:"RECON_MATCHING_LOCK_TIMEOUT_SECONDS"`
	DryRunSampleSize   int `json:"dry_run_sample_size" envconfig:"RECON_MATCHING_DRY_RUN_SAMPLE_SIZE"`
	WriteRetries       int `json:"write_retries" envconfig:"RECON_MATCHING_WRITE_RETRIES"`
	UnmatchedBatchSize int `json:"unmatched_batch_size" envconfig:"RECON_MATCHING_UNMATCHED_BATCH_SIZE"`
}

// IngestionConfig holds the defaults an ingestion request may override.
type IngestionConfig struct {
	NumberOfJobs    int    `json:"number_of_jobs" envconfig:"RECON_INGESTION_NUMBER_OF_JOBS"`
	MaxLookupBatch  int    `json:"max_lookup_batch" envconfig:"RECON_INGESTION_MAX_LOOKUP_BATCH"`
	IncludeCurrency bool   `json:"include_currency" envconfig:"RECON_INGESTION_INCLUDE_CURRENCY"`
	InsertBatchSize int    `json:"insert_batch_size" envconfig:"RECON_INGESTION_INSERT_BATCH_SIZE"`
	DuplicatePolicy string `json:"duplicate_policy" envconfig:"RECON_INGESTION_DUPLICATE_POLICY"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"RECON_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"RECON_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"RECON_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"RECON_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"RECON_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"RECON_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Queue           QueueConfig      `json:"queue"`
	Matching        MatchingConfig   `json:"matching"`
	Ingestion       IngestionConfig  `json:"ingestion"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
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
	err = envconfig.Process("recon", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return nil
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called recon.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Recon Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.Queue.setDefaults()
	cnf.Matching.setDefaults()
	if err := cnf.Ingestion.setDefaults(); err != nil {
		return err
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (q *QueueConfig) setDefaults() {
	if q.ExecutionQueue == "" {
		q.ExecutionQueue = "recon_execution"
	}
	if q.IngestionQueue == "" {
		q.IngestionQueue = "recon_ingestion"
	}
	if q.NumberOfIngestionQueues <= 0 {
		q.NumberOfIngestionQueues = 10
	}
	if q.Concurrency <= 0 {
		q.Concurrency = 4
	}
	if q.MaxRetryAttempts <= 0 {
		q.MaxRetryAttempts = 3
	}
	if q.MonitoringPort == "" {
		q.MonitoringPort = "5005"
	}
}

func (m *MatchingConfig) setDefaults() {
	if m.DefaultMinSources < 0 {
		m.DefaultMinSources = 0
	}
	if m.LoadParallelism <= 0 {
		m.LoadParallelism = 4
	}
	if m.MaxTuplesPerKey <= 0 {
		m.MaxTuplesPerKey = 100000
	}
	if m.LockTimeoutSeconds <= 0 {
		m.LockTimeoutSeconds = 600
	}
	if m.DryRunSampleSize <= 0 {
		m.DryRunSampleSize = 10
	}
	if m.WriteRetries <= 0 {
		m.WriteRetries = 3
	}
	if m.UnmatchedBatchSize <= 0 {
		m.UnmatchedBatchSize = 1000
	}
}

func (i *IngestionConfig) setDefaults() error {
	if i.NumberOfJobs <= 0 {
		i.NumberOfJobs = 4
	}
	if i.MaxLookupBatch <= 0 {
		i.MaxLookupBatch = 1000
	}
	if i.InsertBatchSize <= 0 {
		i.InsertBatchSize = 1000
	}
	i.DuplicatePolicy = strings.ToLower(strings.TrimSpace(i.DuplicatePolicy))
	switch i.DuplicatePolicy {
	case "":
		i.DuplicatePolicy = "suppress"
	case "suppress", "report":
	default:
		return errors.New("ingestion duplicate_policy must be suppress or report")
	}
	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
