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
	"context"
	"fmt"

	"github.com/blnkfinance/recon/internal/apierror"
	"github.com/blnkfinance/recon/internal/matcher"
	"github.com/blnkfinance/recon/model"
)

// defaultRuleListLimit applies when a list request does not set a limit.
const defaultRuleListLimit = 20

// CreateMatchingRule validates and stores a new matching rule.
// Parameters:
// - ctx: The context for managing the request.
// - rule: The matching rule to be created.
// Returns the created rule, or an error if validation or storage fails.
func (r *Recon) CreateMatchingRule(ctx context.Context, rule model.MatchingRule) (*model.MatchingRule, error) {
	rule.RuleID = model.GenerateUUIDWithSuffix("rule")
	if rule.Status == "" {
		rule.Status = model.RuleStatusActive
	}
	rule.Conditions.SchemaVersion = model.CurrentRuleSchemaVersion

	if err := validateRule(&rule); err != nil {
		return nil, err
	}
	return r.datasource.CreateMatchingRule(ctx, &rule)
}

// GetMatchingRule retrieves a matching rule by its ID.
func (r *Recon) GetMatchingRule(ctx context.Context, id string) (*model.MatchingRule, error) {
	return r.datasource.GetMatchingRule(ctx, id)
}

// GetMatchingRules lists rules, newest first, optionally filtered by channel.
func (r *Recon) GetMatchingRules(ctx context.Context, channelID string, limit, offset int) ([]*model.MatchingRule, error) {
	if limit <= 0 {
		limit = defaultRuleListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return r.datasource.GetMatchingRules(ctx, channelID, limit, offset)
}

// UpdateMatchingRule replaces an existing rule.
// The stored rule keeps its creation time, and the new definition must compile before it is saved.
// Parameters:
// - ctx: The context for managing the request.
// - rule: The updated rule data.
// Returns the updated rule, or an error if validation or update fails.
func (r *Recon) UpdateMatchingRule(ctx context.Context, rule model.MatchingRule) (*model.MatchingRule, error) {
	existing, err := r.datasource.GetMatchingRule(ctx, rule.RuleID)
	if err != nil {
		return nil, err
	}

	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	if rule.Status == "" {
		rule.Status = existing.Status
	}
	rule.Conditions.SchemaVersion = model.CurrentRuleSchemaVersion

	if err := validateRule(&rule); err != nil {
		return nil, err
	}
	return r.datasource.UpdateMatchingRule(ctx, &rule)
}

// DeactivateMatchingRule disables a rule. Deactivated rules are kept for audit but never executed.
func (r *Recon) DeactivateMatchingRule(ctx context.Context, id string) error {
	return r.datasource.DeactivateMatchingRule(ctx, id)
}

// GetRun returns the audit record of a live execution.
func (r *Recon) GetRun(ctx context.Context, reconGroupNumber string) (*model.ReconciliationRun, error) {
	return r.datasource.GetRun(ctx, reconGroupNumber)
}

// GetRunTransactions returns the transactions a live execution stamped, matched or not.
// An unknown run is reported as not found rather than as an empty list.
func (r *Recon) GetRunTransactions(ctx context.Context, reconGroupNumber string) ([]*model.Transaction, error) {
	if _, err := r.datasource.GetRun(ctx, reconGroupNumber); err != nil {
		return nil, err
	}
	txns, err := r.datasource.GetTransactionsByGroupNumber(ctx, reconGroupNumber)
	if err != nil {
		return nil, err
	}
	if txns == nil {
		txns = []*model.Transaction{}
	}
	return txns, nil
}

// validateRule checks the rule's structure and compiles it, so an expression that fails the
// safety checks is rejected before it is stored.
func validateRule(rule *model.MatchingRule) error {
	if err := rule.Validate(); err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "invalid matching rule", err)
	}
	if _, err := matcher.CompileRule(rule); err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("invalid matching rule: %v", err), err)
	}
	return nil
}
