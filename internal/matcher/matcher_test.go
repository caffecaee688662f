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

package matcher

import (
	"errors"
	"fmt"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/recon/internal/expression"
	"github.com/blnkfinance/recon/internal/index"
	"github.com/blnkfinance/recon/model"
)

var threeSources = []string{"ATM", "SWITCH", "CBS"}

func newTxn(id int64, source, ref, amount string) *model.Transaction {
	return &model.Transaction{
		ID:              id,
		Source:          source,
		ReferenceNumber: ref,
		Amount:          decimal.RequireFromString(amount),
		AccountNumber:   "0001",
	}
}

func newRule(expr string, sources ...string) *model.MatchingRule {
	return &model.MatchingRule{
		RuleID:    "rule_test",
		ChannelID: "ATM",
		Status:    model.RuleStatusActive,
		Conditions: model.RuleConditions{
			Sources:         sources,
			LogicExpression: expr,
		},
	}
}

func search(t *testing.T, rule *model.MatchingRule, bySource map[string][]*model.Transaction, opts Options) (*Result, *CompiledRule) {
	t.Helper()
	compiled, err := CompileRule(rule)
	require.NoError(t, err)
	idx := index.Build(compiled.Sources, bySource, compiled.GroupingFields)
	return Search(idx, compiled, opts), compiled
}

func TestThreeWayFullMatch(t *testing.T) {
	rule := newRule("ATM.reference_number == SWITCH.reference_number == CBS.reference_number", threeSources...)
	result, _ := search(t, rule, map[string][]*model.Transaction{
		"ATM":    {newTxn(1, "ATM", "R1", "100")},
		"SWITCH": {newTxn(2, "SWITCH", "R1", "100")},
		"CBS":    {newTxn(3, "CBS", "R1", "100")},
	}, Options{})

	require.Len(t, result.Groups, 1)
	group := result.Groups[0]
	assert.Equal(t, []int64{1, 2, 3}, group.TransactionIDs())
	assert.Equal(t, threeSources, group.SourcesMatched)
	assert.True(t, group.IsFull(3))
	assert.Equal(t, "R1", group.MatchKey)
}

func TestPartialMatchIsNotPromoted(t *testing.T) {
	rule := newRule("ATM.reference_number == SWITCH.reference_number == CBS.reference_number", threeSources...)
	result, _ := search(t, rule, map[string][]*model.Transaction{
		"ATM":    {newTxn(1, "ATM", "R1", "100")},
		"SWITCH": {newTxn(2, "SWITCH", "R1", "100")},
	}, Options{MinSources: 2})

	require.Len(t, result.Groups, 1)
	group := result.Groups[0]
	assert.Equal(t, []int64{1, 2}, group.TransactionIDs())
	assert.Equal(t, []string{"ATM", "SWITCH"}, group.SourcesMatched)
	assert.False(t, group.IsFull(3))
	assert.Equal(t, 0, result.FullGroups(3))
}

func TestPartialRequiresMinSources(t *testing.T) {
	rule := newRule("ATM.reference_number == SWITCH.reference_number == CBS.reference_number", threeSources...)
	result, _ := search(t, rule, map[string][]*model.Transaction{
		"ATM":    {newTxn(1, "ATM", "R1", "100")},
		"SWITCH": {newTxn(2, "SWITCH", "R1", "100")},
	}, Options{})
	assert.Empty(t, result.Groups)
}

func TestAndRuleEveryEqualityMustHold(t *testing.T) {
	rule := newRule("ATM.reference_number == SWITCH.reference_number == CBS.reference_number AND ATM.account_number == CBS.account_number", threeSources...)
	cbs := newTxn(3, "CBS", "R1", "100")
	cbs.AccountNumber = "0002"
	result, compiled := search(t, rule, map[string][]*model.Transaction{
		"ATM":    {newTxn(1, "ATM", "R1", "100")},
		"SWITCH": {newTxn(2, "SWITCH", "R1", "100")},
		"CBS":    {cbs},
	}, Options{})

	assert.Equal(t, []string{"reference_number", "account_number"}, compiled.GroupingFields)
	assert.Empty(t, result.Groups)
}

func TestOrRuleGroupsOnPrimaryField(t *testing.T) {
	rule := newRule("ATM.reference_number == SWITCH.reference_number AND ATM.amount == SWITCH.amount OR ATM.reference_number == SWITCH.reference_number AND ATM.account_number == SWITCH.account_number", "ATM", "SWITCH")
	atm := newTxn(1, "ATM", "R1", "100")
	sw := newTxn(2, "SWITCH", "R1", "90")
	result, compiled := search(t, rule, map[string][]*model.Transaction{
		"ATM":    {atm},
		"SWITCH": {sw},
	}, Options{})

	assert.Equal(t, []string{"reference_number"}, compiled.GroupingFields)
	require.Len(t, result.Groups, 1)
	assert.Equal(t, []int64{1, 2}, result.Groups[0].TransactionIDs())
}

func TestEmptyConditionGroupsFallBackToReferenceChain(t *testing.T) {
	rule := newRule("", "ATM", "SWITCH")
	rule.Conditions.ConditionGroups = []model.ConditionGroup{{Logic: model.LogicAnd}}

	result, compiled := search(t, rule, map[string][]*model.Transaction{
		"ATM":    {newTxn(1, "ATM", "R1", "100")},
		"SWITCH": {newTxn(2, "SWITCH", "R1", "100")},
	}, Options{})

	assert.Nil(t, compiled.Groups)
	assert.Equal(t, []string{"reference_number"}, compiled.GroupingFields)
	require.Len(t, result.Groups, 1)
}

func TestFirstMatchAndConsumedTracking(t *testing.T) {
	rule := newRule("ATM.reference_number == SWITCH.reference_number", "ATM", "SWITCH")
	result, _ := search(t, rule, map[string][]*model.Transaction{
		"ATM":    {newTxn(1, "ATM", "R1", "100"), newTxn(2, "ATM", "R1", "100")},
		"SWITCH": {newTxn(3, "SWITCH", "R1", "100")},
	}, Options{})

	require.Len(t, result.Groups, 1)
	assert.Equal(t, []int64{1, 3}, result.Groups[0].TransactionIDs())
	assert.Len(t, result.Consumed, 2)
	_, used := result.Consumed[2]
	assert.False(t, used)
}

func TestRepeatedGroupsUnderOneKey(t *testing.T) {
	rule := newRule("ATM.reference_number == SWITCH.reference_number", "ATM", "SWITCH")
	result, _ := search(t, rule, map[string][]*model.Transaction{
		"ATM":    {newTxn(1, "ATM", "R1", "100"), newTxn(2, "ATM", "R1", "100")},
		"SWITCH": {newTxn(3, "SWITCH", "R1", "100"), newTxn(4, "SWITCH", "R1", "100")},
	}, Options{})

	require.Len(t, result.Groups, 2)
	seen := map[int64]int{}
	for _, g := range result.Groups {
		for _, id := range g.TransactionIDs() {
			seen[id]++
		}
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "transaction %d placed in more than one group", id)
	}
}

func TestToleranceAppliedToEquality(t *testing.T) {
	rule := newRule("ATM.reference_number == SWITCH.reference_number AND ATM.amount == SWITCH.amount", "ATM", "SWITCH")
	rule.Tolerance = model.ToleranceConfig{"amount": {Value: decimal.NewFromInt(1), Type: model.ToleranceFixed}}

	result, compiled := search(t, rule, map[string][]*model.Transaction{
		"ATM":    {newTxn(1, "ATM", "R1", "100")},
		"SWITCH": {newTxn(2, "SWITCH", "R1", "100.75")},
	}, Options{})

	assert.Equal(t, []string{"reference_number"}, compiled.GroupingFields)
	assert.Len(t, result.Groups, 1)
}

func TestToleranceOnUncomparedField(t *testing.T) {
	rule := newRule("ATM.reference_number == SWITCH.reference_number", "ATM", "SWITCH")
	rule.Tolerance = model.ToleranceConfig{"amount": {Value: decimal.NewFromInt(1), Type: model.TolerancePercentage}}

	result, compiled := search(t, rule, map[string][]*model.Transaction{
		"ATM":    {newTxn(1, "ATM", "R1", "100")},
		"SWITCH": {newTxn(2, "SWITCH", "R1", "105")},
	}, Options{})

	assert.Len(t, compiled.Tolerances, 1)
	assert.Empty(t, result.Groups)
}

func TestLegacyConditionGroups(t *testing.T) {
	rule := newRule("", "ATM", "SWITCH")
	rule.Conditions.ConditionGroups = []model.ConditionGroup{
		{Logic: "AND", Conditions: []model.Condition{
			{Field: "reference_number", Operator: "equals"},
			{Field: "amount", Operator: "within_tolerance", Value: "1"},
		}},
	}
	result, compiled := search(t, rule, map[string][]*model.Transaction{
		"ATM":    {newTxn(1, "ATM", "R1", "100")},
		"SWITCH": {newTxn(2, "SWITCH", "R1", "100.5")},
	}, Options{})

	assert.Nil(t, compiled.Expression)
	assert.Equal(t, []string{"reference_number"}, compiled.GroupingFields)
	assert.Len(t, result.Groups, 1)
}

func TestDefaultRuleUsesReferenceChain(t *testing.T) {
	compiled, err := CompileRule(newRule("", "ATM", "SWITCH"))
	require.NoError(t, err)
	assert.Equal(t, "ATM.reference_number == SWITCH.reference_number", compiled.Expression.String())
}

func TestCompileRuleErrors(t *testing.T) {
	_, err := CompileRule(newRule("ATM.reference_number == CBS.reference_number", "ATM", "SWITCH"))
	assert.Error(t, err)

	_, err = CompileRule(newRule("ATM.reference_number == SWITCH.reference_number", "ATM"))
	assert.Error(t, err)

	_, err = CompileRule(newRule("ATM.reference_number == __import__('os')", "ATM", "SWITCH"))
	var secErr *expression.SecurityValidationError
	assert.True(t, errors.As(err, &secErr))

	rule := newRule("ATM.amount == SWITCH.amount", "ATM", "SWITCH")
	rule.Tolerance = model.ToleranceConfig{"amount": {Value: decimal.NewFromInt(1)}}
	_, err = CompileRule(rule)
	assert.Error(t, err)
}

func TestEvaluationErrorsAreNonMatches(t *testing.T) {
	rule := newRule("ATM.reference_number == SWITCH.reference_number AND ATM.terminal == SWITCH.terminal", "ATM", "SWITCH")
	atm := newTxn(1, "ATM", "R1", "100")
	atm.MetaData = map[string]interface{}{"terminal": "T1"}
	sw := newTxn(2, "SWITCH", "R1", "100")
	atm2 := newTxn(3, "ATM", "R2", "100")
	atm2.MetaData = map[string]interface{}{"terminal": "T2"}
	sw2 := newTxn(4, "SWITCH", "R2", "100")
	sw2.MetaData = map[string]interface{}{"terminal": "T2"}

	compiled, err := CompileRule(rule)
	require.NoError(t, err)
	compiled.GroupingFields = []string{"reference_number"}
	idx := index.Build(compiled.Sources, map[string][]*model.Transaction{
		"ATM":    {atm, atm2},
		"SWITCH": {sw, sw2},
	}, compiled.GroupingFields)
	result := Search(idx, compiled, Options{})

	assert.Equal(t, 1, result.EvaluationErrors)
	require.Len(t, result.ErrorSamples, 1)
	assert.Equal(t, []int64{1, 2}, result.ErrorSamples[0].TransactionIDs)
	require.Len(t, result.Groups, 1)
	assert.Equal(t, []int64{3, 4}, result.Groups[0].TransactionIDs())
}

func TestTupleBudget(t *testing.T) {
	rule := newRule("ATM.reference_number == SWITCH.reference_number AND ATM.amount == SWITCH.amount", "ATM", "SWITCH")
	var atm, sw []*model.Transaction
	for i := 0; i < 10; i++ {
		atm = append(atm, newTxn(int64(i), "ATM", "R1", "1"))
		sw = append(sw, newTxn(int64(100+i), "SWITCH", "R1", "2"))
	}
	// group on reference only so every pair lands in one bucket
	compiled, err := CompileRule(rule)
	require.NoError(t, err)
	compiled.GroupingFields = []string{"reference_number"}
	idx := index.Build(compiled.Sources, map[string][]*model.Transaction{"ATM": atm, "SWITCH": sw}, compiled.GroupingFields)

	result := Search(idx, compiled, Options{MaxTuplesPerKey: 25})
	assert.Empty(t, result.Groups)
	assert.Equal(t, 25, result.TuplesEvaluated)
	assert.Equal(t, []string{"R1"}, result.TruncatedKeys)
}

func TestCombinations(t *testing.T) {
	assert.Equal(t, [][]string{{"A", "B"}, {"A", "C"}, {"B", "C"}}, combinations([]string{"A", "B", "C"}, 2))
	assert.Equal(t, [][]string{{"A", "B", "C"}}, combinations([]string{"A", "B", "C"}, 3))
	assert.Nil(t, combinations([]string{"A"}, 2))
}

func TestSearchRandomizedNoDoubleCounting(t *testing.T) {
	faker := gofakeit.New(7)
	bySource := map[string][]*model.Transaction{}
	id := int64(0)
	for _, source := range threeSources {
		for i := 0; i < 200; i++ {
			id++
			bySource[source] = append(bySource[source], newTxn(id, source, fmt.Sprintf("R%d", faker.Number(1, 60)), "10"))
		}
	}
	rule := newRule("ATM.reference_number == SWITCH.reference_number == CBS.reference_number", threeSources...)
	result, _ := search(t, rule, bySource, Options{MinSources: 2})

	seen := map[int64]struct{}{}
	for _, g := range result.Groups {
		assert.GreaterOrEqual(t, len(g.SourcesMatched), 2)
		for _, txn := range g.Transactions {
			_, dup := seen[txn.ID]
			require.False(t, dup)
			seen[txn.ID] = struct{}{}
		}
	}
	assert.Equal(t, len(seen), len(result.Consumed))
}
