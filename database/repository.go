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

package database

import (
	"context"

	"github.com/blnkfinance/recon/internal/dedup"
	"github.com/blnkfinance/recon/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	transaction  // Interface for transaction-related operations
	matching     // Interface for writing match outcomes
	matchingRule // Interface for matching rule operations
	run          // Interface for run audit records
}

// transaction defines methods for reading and ingesting transactions.
type transaction interface {
	// GetUnmatchedTransactions returns the rows of one source with match_status NULL or 0.
	GetUnmatchedTransactions(ctx context.Context, channelID, source string) ([]*model.Transaction, error)
	GetTransactionsByGroupNumber(ctx context.Context, reconGroupNumber string) ([]*model.Transaction, error)
	// FindExistingDuplicateKeys returns the subset of keys already stored.
	FindExistingDuplicateKeys(ctx context.Context, keys []dedup.Key, includeCurrency bool) ([]dedup.Key, error)
	InsertTransactions(ctx context.Context, txns []*model.Transaction) (int, error)
}

// matching defines the batched writes of a run.
type matching interface {
	// ApplyMatchGroup claims and updates every transaction of one group in a single database transaction.
	ApplyMatchGroup(ctx context.Context, update model.GroupUpdate) error
	// ResetUnmatched clears prior match metadata of visited rows and stamps the run's group number.
	ResetUnmatched(ctx context.Context, ids []int64, reconGroupNumber string) (int64, error)
}

// matchingRule defines methods for handling matching rules.
type matchingRule interface {
	CreateMatchingRule(ctx context.Context, rule *model.MatchingRule) (*model.MatchingRule, error)
	GetMatchingRule(ctx context.Context, ruleID string) (*model.MatchingRule, error)
	GetMatchingRules(ctx context.Context, channelID string, limit, offset int) ([]*model.MatchingRule, error)
	UpdateMatchingRule(ctx context.Context, rule *model.MatchingRule) (*model.MatchingRule, error)
	DeactivateMatchingRule(ctx context.Context, ruleID string) error
}

// run defines methods for run audit records.
type run interface {
	RecordRun(ctx context.Context, run *model.ReconciliationRun) error
	UpdateRun(ctx context.Context, run *model.ReconciliationRun) error
	GetRun(ctx context.Context, reconGroupNumber string) (*model.ReconciliationRun, error)
}
