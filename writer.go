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
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/blnkfinance/recon/config"
	"github.com/blnkfinance/recon/database"
	"github.com/blnkfinance/recon/internal/matcher"
	"github.com/blnkfinance/recon/model"
)

// writeRetryInterval is the first wait between attempts of a failed group write.
var writeRetryInterval = 100 * time.Millisecond

type writeOutcome struct {
	matchedIDs    []int64
	fullGroups    int
	partialGroups int
	conflicts     int
	failed        int
	unmatched     int
	errs          []error
}

// writeResults persists the accepted groups of a run, one database transaction per group, and
// then resets every visited transaction that did not end up in a written group.
// A group that fails after retries is rolled back and reported; earlier groups stay committed.
func (r *Recon) writeResults(ctx context.Context, compiled *matcher.CompiledRule, groups []*model.MatchGroup, visited []*model.Transaction, groupNumber string, cfg config.MatchingConfig) *writeOutcome {
	ctx, span := tracer.Start(ctx, "recon.execute.write")
	defer span.End()

	logger := logrus.WithFields(logrus.Fields{
		"rule_id":            compiled.Rule.RuleID,
		"recon_group_number": groupNumber,
	})
	total := len(compiled.Sources)
	conditions := compiled.Description()
	out := &writeOutcome{}
	written := make(map[int64]struct{})

	for _, group := range groups {
		update := groupUpdate(compiled.Rule.RuleID, group, total, groupNumber, conditions, time.Now())
		err := r.applyGroup(ctx, update, cfg.WriteRetries)
		switch {
		case err == nil:
			for _, id := range update.TransactionIDs {
				written[id] = struct{}{}
			}
			out.matchedIDs = append(out.matchedIDs, update.TransactionIDs...)
			if update.Status == model.MatchStatusMatched {
				out.fullGroups++
			} else {
				out.partialGroups++
			}
		case errors.Is(err, database.ErrClaimConflict):
			out.conflicts++
			logger.WithField("transaction_ids", update.TransactionIDs).Warn("group skipped, transactions claimed by another run")
		default:
			perr := &PersistenceError{ReconGroupNumber: groupNumber, TransactionIDs: update.TransactionIDs, Err: err}
			out.failed++
			out.errs = append(out.errs, perr)
			logger.WithError(perr).Error("failed to write match group")
		}
	}

	out.unmatched = r.resetUnmatched(ctx, visited, written, groupNumber, cfg, out)

	span.SetAttributes(
		attribute.Int("groups.full", out.fullGroups),
		attribute.Int("groups.partial", out.partialGroups),
		attribute.Int("groups.conflicts", out.conflicts),
		attribute.Int("groups.failed", out.failed),
		attribute.Int("transactions.unmatched", out.unmatched),
	)
	return out
}

// groupUpdate builds the write for one group. Full groups get a new recon reference and are
// marked reconciled; partial groups only record the rule and the run.
func groupUpdate(ruleID string, group *model.MatchGroup, totalSources int, groupNumber, conditions string, now time.Time) model.GroupUpdate {
	update := model.GroupUpdate{
		TransactionIDs:   group.TransactionIDs(),
		Status:           model.MatchStatusPartial,
		RuleID:           ruleID,
		ReconGroupNumber: groupNumber,
		MatchConditions:  conditions,
	}
	if group.IsFull(totalSources) {
		update.Status = model.MatchStatusMatched
		update.ReconReferenceNumber = model.GenerateReconReference(now)
		update.ReconciledMode = model.ReconciledModeAutomatic
	}
	return update
}

func retryPolicy(ctx context.Context, retries int) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = writeRetryInterval
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// applyGroup writes one group, retrying transient failures. A lost claim is never retried.
func (r *Recon) applyGroup(ctx context.Context, update model.GroupUpdate, retries int) error {
	return backoff.Retry(func() error {
		err := r.datasource.ApplyMatchGroup(ctx, update)
		if errors.Is(err, database.ErrClaimConflict) {
			return backoff.Permanent(err)
		}
		return err
	}, retryPolicy(ctx, retries))
}

// resetUnmatched stamps the run on every visited transaction that was not written as part of a
// group and clears any match metadata it carried. Batches commit independently.
func (r *Recon) resetUnmatched(ctx context.Context, visited []*model.Transaction, written map[int64]struct{}, groupNumber string, cfg config.MatchingConfig, out *writeOutcome) int {
	ids := make([]int64, 0, len(visited))
	for _, txn := range visited {
		if _, ok := written[txn.ID]; !ok {
			ids = append(ids, txn.ID)
		}
	}

	batchSize := cfg.UnmatchedBatchSize
	if batchSize <= 0 {
		batchSize = len(ids)
	}
	var stamped int64
	for start := 0; start < len(ids); start += batchSize {
		batch := ids[start:min(start+batchSize, len(ids))]
		var n int64
		err := backoff.Retry(func() error {
			var err error
			n, err = r.datasource.ResetUnmatched(ctx, batch, groupNumber)
			return err
		}, retryPolicy(ctx, cfg.WriteRetries))
		if err != nil {
			perr := &PersistenceError{ReconGroupNumber: groupNumber, TransactionIDs: batch, Err: err}
			out.errs = append(out.errs, perr)
			logrus.WithError(perr).Error("failed to reset unmatched transactions")
			continue
		}
		stamped += n
	}
	return int(stamped)
}
