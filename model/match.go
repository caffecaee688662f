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

package model

import "time"

type MatchType string

const (
	MatchTypeFull    MatchType = "full"
	MatchTypePartial MatchType = "partial"
)

const (
	RunStatusStarted   = "started"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// ExecutorExpression names the single evaluator pipeline every rule is routed to.
const ExecutorExpression = "expression_evaluator"

// MatchGroup is a set of transactions, at most one per source, accepted as the same event.
type MatchGroup struct {
	Transactions   []*Transaction `json:"transactions"`
	MatchKey       string         `json:"match_key"`
	SourcesMatched []string       `json:"sources_matched"`
}

// IsFull reports whether every declared source participated in the group.
func (g *MatchGroup) IsFull(totalSources int) bool {
	return len(g.SourcesMatched) == totalSources
}

// TransactionIDs returns the ids of the group's transactions in source order.
func (g *MatchGroup) TransactionIDs() []int64 {
	ids := make([]int64, 0, len(g.Transactions))
	for _, txn := range g.Transactions {
		ids = append(ids, txn.ID)
	}
	return ids
}

// GroupUpdate is the batched write applied to every transaction of one accepted group.
type GroupUpdate struct {
	TransactionIDs       []int64
	Status               MatchStatus
	RuleID               string
	ReconReferenceNumber string
	ReconGroupNumber     string
	ReconciledMode       string
	MatchConditions      string
}

// Complexity is the informational classification of a rule.
type Complexity struct {
	Level          string   `json:"level"`
	HasOr          bool     `json:"has_or"`
	NestedGroups   bool     `json:"nested_groups"`
	SourceSpecific bool     `json:"source_specific"`
	Reasons        []string `json:"reasons,omitempty"`
}

// GroupSample is one accepted group as shown in a dry-run report.
type GroupSample struct {
	MatchKey       string    `json:"match_key"`
	SourcesMatched []string  `json:"sources_matched"`
	TransactionIDs []int64   `json:"transaction_ids"`
	MatchType      MatchType `json:"match_type"`
}

// ExecutionResult is returned by a rule execution, live or dry run.
type ExecutionResult struct {
	RuleID            string         `json:"rule_id"`
	ChannelID         string         `json:"channel_id"`
	ReconGroupNumber  string         `json:"recon_group_number,omitempty"`
	MatchedCount      int            `json:"matched_count"`
	UnmatchedCount    int            `json:"unmatched_count"`
	FullGroupCount    int            `json:"full_group_count"`
	PartialGroupCount int            `json:"partial_group_count"`
	TransactionIDs    []int64        `json:"transaction_ids"`
	ExecutionTimeMs   int64          `json:"execution_time_ms"`
	MatchType         MatchType      `json:"match_type"`
	Complexity        Complexity     `json:"complexity"`
	Executor          string         `json:"executor"`
	DryRun            bool           `json:"dry_run"`
	SampleGroups      []GroupSample  `json:"sample_groups,omitempty"`
	SourceCounts      map[string]int `json:"source_counts,omitempty"`
	EvaluationErrors  int            `json:"evaluation_errors"`
	FailedGroups      int            `json:"failed_groups"`
}

// ReconciliationRun is the audit record of one live execution, keyed by its recon group number.
type ReconciliationRun struct {
	ID               int64      `json:"-"`
	ReconGroupNumber string     `json:"recon_group_number"`
	RuleID           string     `json:"rule_id"`
	ChannelID        string     `json:"channel_id"`
	Status           string     `json:"status"`
	MatchedCount     int        `json:"matched_count"`
	PartialCount     int        `json:"partial_count"`
	UnmatchedCount   int        `json:"unmatched_count"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}
