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
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := Configuration{Redis: RedisConfig{Dns: "localhost:6379"}}
	assert.EqualError(t, cnf.validateAndAddDefaults(), "data source DNS is required")

	cnf = Configuration{DataSource: DataSourceConfig{Dns: "postgres://localhost:5432"}}
	assert.EqualError(t, cnf.validateAndAddDefaults(), "redis DNS is required")

	cnf = Configuration{
		DataSource: DataSourceConfig{Dns: " postgres://localhost:5432 "},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}
	require.NoError(t, cnf.validateAndAddDefaults())

	assert.Equal(t, "postgres://localhost:5432", cnf.DataSource.Dns)
	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, "recon_execution", cnf.Queue.ExecutionQueue)
	assert.Equal(t, 10, cnf.Queue.NumberOfIngestionQueues)
	assert.Equal(t, 0, cnf.Matching.DefaultMinSources)
	assert.Equal(t, 100000, cnf.Matching.MaxTuplesPerKey)
	assert.Equal(t, 10, cnf.Matching.DryRunSampleSize)
	assert.Equal(t, "suppress", cnf.Ingestion.DuplicatePolicy)
	assert.Nil(t, cnf.RateLimit.RequestsPerSecond)
	require.NotNil(t, cnf.RateLimit.CleanupIntervalSec)
}

func TestRateLimitDefaults(t *testing.T) {
	rps := 10.0
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "dns"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		RateLimit:  RateLimitConfig{RequestsPerSecond: &rps},
	}
	require.NoError(t, cnf.validateAndAddDefaults())
	require.NotNil(t, cnf.RateLimit.Burst)
	assert.Equal(t, 20, *cnf.RateLimit.Burst)
}

func TestInvalidDuplicatePolicy(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "dns"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		Ingestion:  IngestionConfig{DuplicatePolicy: "drop"},
	}
	assert.Error(t, cnf.validateAndAddDefaults())
}

func TestLoadConfigFromFileWithEnvOverride(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "recon.json")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	sample := Configuration{
		ProjectName: "Temp Project",
		DataSource:  DataSourceConfig{Dns: "temp-dns"},
		Redis:       RedisConfig{Dns: "localhost:6379"},
		Matching:    MatchingConfig{DefaultMinSources: 2},
	}
	data, err := json.Marshal(sample)
	require.NoError(t, err)
	_, err = tmpFile.Write(data)
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())

	t.Setenv("RECON_MATCHING_MAX_TUPLES_PER_KEY", "500")
	t.Setenv("RECON_INGESTION_DUPLICATE_POLICY", "REPORT")

	require.NoError(t, loadConfigFromFile(tmpFile.Name()))
	cnf, err := Fetch()
	require.NoError(t, err)

	assert.Equal(t, "Temp Project", cnf.ProjectName)
	assert.Equal(t, 2, cnf.Matching.DefaultMinSources)
	assert.Equal(t, 500, cnf.Matching.MaxTuplesPerKey)
	assert.Equal(t, "report", cnf.Ingestion.DuplicatePolicy)
}

func TestFetchWithoutConfig(t *testing.T) {
	ConfigStore = atomic.Value{}
	_, err := Fetch()
	assert.Error(t, err)
}
