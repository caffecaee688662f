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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/recon/config"
	"github.com/blnkfinance/recon/database"
	"github.com/blnkfinance/recon/internal/matcher"
	"github.com/blnkfinance/recon/model"
)

func idsEqual(want ...int64) interface{} {
	return mock.MatchedBy(func(u model.GroupUpdate) bool {
		return assert.ObjectsAreEqual(want, u.TransactionIDs)
	})
}

func pair(key string, a, b *model.Transaction) *model.MatchGroup {
	return &model.MatchGroup{
		Transactions:   []*model.Transaction{a, b},
		MatchKey:       key,
		SourcesMatched: []string{a.Source, b.Source},
	}
}

func TestWriteResultsIsolatesGroupFailures(t *testing.T) {
	r, ds := newTestRecon(t)
	compiled, err := matcher.CompileRule(newRule("", "ATM", "SWITCH"))
	require.NoError(t, err)

	txns := []*model.Transaction{
		newTxn(1, "ATM", "R1", "10"), newTxn(2, "SWITCH", "R1", "10"),
		newTxn(3, "ATM", "R2", "10"), newTxn(4, "SWITCH", "R2", "10"),
		newTxn(5, "ATM", "R3", "10"), newTxn(6, "SWITCH", "R3", "10"),
		newTxn(7, "ATM", "R4", "10"),
	}
	groups := []*model.MatchGroup{
		pair("R1", txns[0], txns[1]),
		pair("R2", txns[2], txns[3]),
		pair("R3", txns[4], txns[5]),
	}

	ds.On("ApplyMatchGroup", mock.Anything, idsEqual(1, 2)).Return(nil).Once()
	ds.On("ApplyMatchGroup", mock.Anything, idsEqual(3, 4)).Return(database.ErrClaimConflict).Once()
	ds.On("ApplyMatchGroup", mock.Anything, idsEqual(5, 6)).Return(errors.New("deadlock detected"))
	ds.On("ResetUnmatched", mock.Anything, []int64{3, 4}, "RECON_test").Return(int64(0), nil).Once()
	ds.On("ResetUnmatched", mock.Anything, []int64{5, 6}, "RECON_test").Return(int64(2), nil).Once()
	ds.On("ResetUnmatched", mock.Anything, []int64{7}, "RECON_test").Return(int64(1), nil).Once()

	cfg := config.MatchingConfig{WriteRetries: 2, UnmatchedBatchSize: 2}
	out := r.writeResults(context.Background(), compiled, groups, txns, "RECON_test", cfg)

	assert.Equal(t, []int64{1, 2}, out.matchedIDs)
	assert.Equal(t, 1, out.fullGroups)
	assert.Equal(t, 1, out.conflicts)
	assert.Equal(t, 1, out.failed)
	assert.Equal(t, 3, out.unmatched)
	require.Len(t, out.errs, 1)

	var perr *PersistenceError
	require.True(t, errors.As(out.errs[0], &perr))
	assert.Equal(t, []int64{5, 6}, perr.TransactionIDs)
	assert.ErrorContains(t, perr, "deadlock detected")

	ds.AssertNumberOfCalls(t, "ApplyMatchGroup", 1+1+3)
	ds.AssertExpectations(t)
}

func TestWriteResultsRetriesTransientFailure(t *testing.T) {
	r, ds := newTestRecon(t)
	compiled, err := matcher.CompileRule(newRule("", "ATM", "SWITCH"))
	require.NoError(t, err)
	a, b := newTxn(1, "ATM", "R1", "10"), newTxn(2, "SWITCH", "R1", "10")

	ds.On("ApplyMatchGroup", mock.Anything, idsEqual(1, 2)).Return(errors.New("connection reset")).Once()
	ds.On("ApplyMatchGroup", mock.Anything, idsEqual(1, 2)).Return(nil).Once()

	out := r.writeResults(context.Background(), compiled, []*model.MatchGroup{pair("R1", a, b)}, []*model.Transaction{a, b}, "RECON_test", config.MatchingConfig{WriteRetries: 3, UnmatchedBatchSize: 10})

	assert.Equal(t, []int64{1, 2}, out.matchedIDs)
	assert.Zero(t, out.failed)
	assert.Empty(t, out.errs)
	ds.AssertNotCalled(t, "ResetUnmatched", mock.Anything, mock.Anything, mock.Anything)
}

func TestWriteResultsReportsUnmatchedBatchFailure(t *testing.T) {
	r, ds := newTestRecon(t)
	compiled, err := matcher.CompileRule(newRule("", "ATM", "SWITCH"))
	require.NoError(t, err)
	visited := []*model.Transaction{newTxn(1, "ATM", "R1", "10"), newTxn(2, "SWITCH", "R9", "10")}

	ds.On("ResetUnmatched", mock.Anything, []int64{1, 2}, "RECON_test").Return(int64(0), errors.New("timeout"))

	out := r.writeResults(context.Background(), compiled, nil, visited, "RECON_test", config.MatchingConfig{WriteRetries: 1, UnmatchedBatchSize: 10})
	assert.Zero(t, out.unmatched)
	require.Len(t, out.errs, 1)
	var perr *PersistenceError
	assert.True(t, errors.As(out.errs[0], &perr))
	ds.AssertNumberOfCalls(t, "ResetUnmatched", 2)
}

func TestGroupUpdate(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	full := &model.MatchGroup{
		Transactions:   []*model.Transaction{newTxn(1, "ATM", "R1", "1"), newTxn(2, "SWITCH", "R1", "1"), newTxn(3, "CBS", "R1", "1")},
		SourcesMatched: threeSources,
	}
	update := groupUpdate("rule_1", full, 3, "RECON_x", "cond", now)
	assert.Equal(t, model.MatchStatusMatched, update.Status)
	assert.True(t, strings.HasPrefix(update.ReconReferenceNumber, "REF-20240301120000-"))
	assert.Equal(t, model.ReconciledModeAutomatic, update.ReconciledMode)
	assert.Equal(t, "RECON_x", update.ReconGroupNumber)
	assert.Equal(t, "cond", update.MatchConditions)

	partial := pair("R1", newTxn(1, "ATM", "R1", "1"), newTxn(2, "SWITCH", "R1", "1"))
	update = groupUpdate("rule_1", partial, 3, "RECON_x", "cond", now)
	assert.Equal(t, model.MatchStatusPartial, update.Status)
	assert.Empty(t, update.ReconReferenceNumber)
	assert.Empty(t, update.ReconciledMode)

	other := groupUpdate("rule_1", full, 3, "RECON_x", "cond", now)
	assert.NotEqual(t, groupUpdate("rule_1", full, 3, "RECON_x", "cond", now).ReconReferenceNumber, other.ReconReferenceNumber)
}
