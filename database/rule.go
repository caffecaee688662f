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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/recon/internal/apierror"
	"github.com/blnkfinance/recon/model"
)

const ruleCacheTTL = 5 * time.Minute

const ruleColumns = `id, rule_id, channel_id, name, COALESCE(description, ''), conditions, tolerance, status, created_at, updated_at`

func ruleCacheKey(ruleID string) string {
	return fmt.Sprintf("matching_rule:%s", ruleID)
}

// CreateMatchingRule stores a new rule. Rule id, status, schema version and timestamps are
// filled in when missing.
func (d Datasource) CreateMatchingRule(ctx context.Context, rule *model.MatchingRule) (*model.MatchingRule, error) {
	ctx, span := otel.Tracer("Matching rules").Start(ctx, "Creating matching rule")
	defer span.End()

	if rule.RuleID == "" {
		rule.RuleID = model.GenerateUUIDWithSuffix("rule")
	}
	if rule.Status == "" {
		rule.Status = model.RuleStatusActive
	}
	if rule.Conditions.SchemaVersion == 0 {
		rule.Conditions.SchemaVersion = model.CurrentRuleSchemaVersion
	}
	now := time.Now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now

	conditions, tolerance, err := marshalRule(rule)
	if err != nil {
		return nil, err
	}

	err = d.Conn.QueryRowContext(ctx, `
		INSERT INTO recon.matching_rules (rule_id, channel_id, name, description, conditions, tolerance, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, rule.RuleID, rule.ChannelID, rule.Name, rule.Description, conditions, tolerance, rule.Status, rule.CreatedAt, rule.UpdatedAt).Scan(&rule.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create matching rule")
	}
	return rule, nil
}

// GetMatchingRule returns a rule by id, reading through the rule cache when one is configured.
func (d Datasource) GetMatchingRule(ctx context.Context, ruleID string) (*model.MatchingRule, error) {
	ctx, span := otel.Tracer("Matching rules").Start(ctx, "Fetching matching rule")
	defer span.End()

	if d.Cache != nil {
		cached := &model.MatchingRule{}
		if err := d.Cache.Get(ctx, ruleCacheKey(ruleID), cached); err != nil {
			logrus.WithError(err).Warn("rule cache read failed")
		} else if cached.RuleID != "" {
			return cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM recon.matching_rules
		WHERE rule_id = $1
	`, ruleID)
	rule, err := scanRule(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Matching rule with ID '%s' not found", ruleID), err)
		}
		return nil, errors.Wrap(err, "failed to fetch matching rule")
	}

	if d.Cache != nil {
		if err := d.Cache.Set(ctx, ruleCacheKey(ruleID), rule, ruleCacheTTL); err != nil {
			logrus.WithError(err).Warn("rule cache write failed")
		}
	}
	return rule, nil
}

// GetMatchingRules lists rules, newest first. An empty channelID lists every channel.
func (d Datasource) GetMatchingRules(ctx context.Context, channelID string, limit, offset int) ([]*model.MatchingRule, error) {
	ctx, span := otel.Tracer("Matching rules").Start(ctx, "Listing matching rules")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM recon.matching_rules
		WHERE ($1 = '' OR channel_id = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, channelID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list matching rules")
	}
	defer rows.Close()

	var rules []*model.MatchingRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan matching rule")
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate matching rules")
	}
	return rules, nil
}

// UpdateMatchingRule replaces the editable fields of a rule and drops it from the cache.
func (d Datasource) UpdateMatchingRule(ctx context.Context, rule *model.MatchingRule) (*model.MatchingRule, error) {
	ctx, span := otel.Tracer("Matching rules").Start(ctx, "Updating matching rule")
	defer span.End()

	if rule.Conditions.SchemaVersion == 0 {
		rule.Conditions.SchemaVersion = model.CurrentRuleSchemaVersion
	}
	rule.UpdatedAt = time.Now().UTC()
	conditions, tolerance, err := marshalRule(rule)
	if err != nil {
		return nil, err
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE recon.matching_rules
		SET channel_id = $2, name = $3, description = $4, conditions = $5, tolerance = $6, status = $7, updated_at = $8
		WHERE rule_id = $1
	`, rule.RuleID, rule.ChannelID, rule.Name, rule.Description, conditions, tolerance, rule.Status, rule.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update matching rule")
	}
	if err := requireAffected(result, rule.RuleID); err != nil {
		return nil, err
	}

	d.evictRule(ctx, rule.RuleID)
	return rule, nil
}

// DeactivateMatchingRule marks a rule inactive so it can no longer be executed.
func (d Datasource) DeactivateMatchingRule(ctx context.Context, ruleID string) error {
	ctx, span := otel.Tracer("Matching rules").Start(ctx, "Deactivating matching rule")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE recon.matching_rules SET status = $2, updated_at = $3 WHERE rule_id = $1
	`, ruleID, model.RuleStatusInactive, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "failed to deactivate matching rule")
	}
	if err := requireAffected(result, ruleID); err != nil {
		return err
	}

	d.evictRule(ctx, ruleID)
	return nil
}

func (d Datasource) evictRule(ctx context.Context, ruleID string) {
	if d.Cache == nil {
		return
	}
	if err := d.Cache.Delete(ctx, ruleCacheKey(ruleID)); err != nil {
		logrus.WithError(err).Warn("rule cache eviction failed")
	}
}

func requireAffected(result sql.Result, ruleID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Matching rule with ID '%s' not found", ruleID), nil)
	}
	return nil
}

func marshalRule(rule *model.MatchingRule) ([]byte, []byte, error) {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to marshal rule conditions")
	}
	tolerance, err := json.Marshal(rule.Tolerance)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to marshal rule tolerance")
	}
	return conditions, tolerance, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row scanner) (*model.MatchingRule, error) {
	rule := &model.MatchingRule{}
	var conditions, tolerance []byte
	err := row.Scan(&rule.ID, &rule.RuleID, &rule.ChannelID, &rule.Name, &rule.Description,
		&conditions, &tolerance, &rule.Status, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal rule conditions")
	}
	if len(tolerance) > 0 {
		if err := json.Unmarshal(tolerance, &rule.Tolerance); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal rule tolerance")
		}
	}
	return rule, nil
}
