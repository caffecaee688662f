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
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/blnkfinance/recon/internal/dedup"
	"github.com/blnkfinance/recon/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Transaction methods

func (m *MockDataSource) GetUnmatchedTransactions(ctx context.Context, channelID, source string) ([]*model.Transaction, error) {
	args := m.Called(ctx, channelID, source)
	txns, _ := args.Get(0).([]*model.Transaction)
	return txns, args.Error(1)
}

func (m *MockDataSource) GetTransactionsByGroupNumber(ctx context.Context, reconGroupNumber string) ([]*model.Transaction, error) {
	args := m.Called(ctx, reconGroupNumber)
	txns, _ := args.Get(0).([]*model.Transaction)
	return txns, args.Error(1)
}

func (m *MockDataSource) FindExistingDuplicateKeys(ctx context.Context, keys []dedup.Key, includeCurrency bool) ([]dedup.Key, error) {
	args := m.Called(ctx, keys, includeCurrency)
	found, _ := args.Get(0).([]dedup.Key)
	return found, args.Error(1)
}

func (m *MockDataSource) InsertTransactions(ctx context.Context, txns []*model.Transaction) (int, error) {
	args := m.Called(ctx, txns)
	return args.Int(0), args.Error(1)
}

// Matching methods

func (m *MockDataSource) ApplyMatchGroup(ctx context.Context, update model.GroupUpdate) error {
	args := m.Called(ctx, update)
	return args.Error(0)
}

func (m *MockDataSource) ResetUnmatched(ctx context.Context, ids []int64, reconGroupNumber string) (int64, error) {
	args := m.Called(ctx, ids, reconGroupNumber)
	return args.Get(0).(int64), args.Error(1)
}

// Matching rule methods

func (m *MockDataSource) CreateMatchingRule(ctx context.Context, rule *model.MatchingRule) (*model.MatchingRule, error) {
	args := m.Called(ctx, rule)
	r, _ := args.Get(0).(*model.MatchingRule)
	return r, args.Error(1)
}

func (m *MockDataSource) GetMatchingRule(ctx context.Context, ruleID string) (*model.MatchingRule, error) {
	args := m.Called(ctx, ruleID)
	r, _ := args.Get(0).(*model.MatchingRule)
	return r, args.Error(1)
}

func (m *MockDataSource) GetMatchingRules(ctx context.Context, channelID string, limit, offset int) ([]*model.MatchingRule, error) {
	args := m.Called(ctx, channelID, limit, offset)
	rules, _ := args.Get(0).([]*model.MatchingRule)
	return rules, args.Error(1)
}

func (m *MockDataSource) UpdateMatchingRule(ctx context.Context, rule *model.MatchingRule) (*model.MatchingRule, error) {
	args := m.Called(ctx, rule)
	r, _ := args.Get(0).(*model.MatchingRule)
	return r, args.Error(1)
}

func (m *MockDataSource) DeactivateMatchingRule(ctx context.Context, ruleID string) error {
	args := m.Called(ctx, ruleID)
	return args.Error(0)
}

// Run audit methods

func (m *MockDataSource) RecordRun(ctx context.Context, run *model.ReconciliationRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockDataSource) UpdateRun(ctx context.Context, run *model.ReconciliationRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockDataSource) GetRun(ctx context.Context, reconGroupNumber string) (*model.ReconciliationRun, error) {
	args := m.Called(ctx, reconGroupNumber)
	run, _ := args.Get(0).(*model.ReconciliationRun)
	return run, args.Error(1)
}
