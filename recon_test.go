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

package recon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/blnkfinance/recon/config"
	"github.com/blnkfinance/recon/database/mocks"
	"github.com/blnkfinance/recon/model"
)

var threeSources = []string{"ATM", "SWITCH", "CBS"}

func init() {
	writeRetryInterval = time.Millisecond
}

func mockConfig() {
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: "localhost:6379"},
		Queue: config.QueueConfig{
			ExecutionQueue:          "recon_execution",
			IngestionQueue:          "recon_ingestion",
			NumberOfIngestionQueues: 4,
			MaxRetryAttempts:        3,
		},
		Matching: config.MatchingConfig{
			LoadParallelism:    2,
			MaxTuplesPerKey:    100000,
			LockTimeoutSeconds: 60,
			DryRunSampleSize:   10,
			WriteRetries:       2,
			UnmatchedBatchSize: 1000,
		},
		Ingestion: config.IngestionConfig{
			NumberOfJobs:    2,
			MaxLookupBatch:  1000,
			InsertBatchSize: 1000,
			DuplicatePolicy: "suppress",
		},
	})
}

func newTestRecon(t *testing.T) (*Recon, *mocks.MockDataSource) {
	t.Helper()
	mockConfig()
	ds := new(mocks.MockDataSource)
	return &Recon{datasource: ds}, ds
}

func newTxn(id int64, source, ref, amount string) *model.Transaction {
	return &model.Transaction{
		ID:              id,
		TransactionID:   model.GenerateUUIDWithSuffix("txn"),
		ChannelID:       "ATM",
		SourceID:        source,
		Source:          source,
		ReferenceNumber: ref,
		Amount:          decimal.RequireFromString(amount),
		Date:            time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		Currency:        "NGN",
	}
}

func newRule(expr string, sources ...string) *model.MatchingRule {
	return &model.MatchingRule{
		RuleID:    "rule_1",
		ChannelID: "ATM",
		Name:      "atm three way",
		Status:    model.RuleStatusActive,
		Conditions: model.RuleConditions{
			SchemaVersion:   model.CurrentRuleSchemaVersion,
			Sources:         sources,
			LogicExpression: expr,
		},
	}
}

// expectUnmatched stubs the per-source loads of one channel.
func expectUnmatched(ds *mocks.MockDataSource, channelID string, bySource map[string][]*model.Transaction) {
	for source, txns := range bySource {
		ds.On("GetUnmatchedTransactions", mock.Anything, channelID, source).Return(txns, nil)
	}
}
