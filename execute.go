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
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"

	"github.com/blnkfinance/recon/config"
	"github.com/blnkfinance/recon/internal/apierror"
	"github.com/blnkfinance/recon/internal/expression"
	"github.com/blnkfinance/recon/internal/index"
	redlock "github.com/blnkfinance/recon/internal/lock"
	"github.com/blnkfinance/recon/internal/matcher"
	"github.com/blnkfinance/recon/internal/notification"
	"github.com/blnkfinance/recon/model"
)

// ExecuteOptions selects what a rule execution runs against.
type ExecuteOptions struct {
	RuleID string `json:"rule_id"`
	// ChannelID defaults to the rule's own channel.
	ChannelID string `json:"channel_id,omitempty"`
	DryRun    bool   `json:"dry_run"`
	// MinSources is the fewest sources a group may have. Zero uses the configured default,
	// and a default of zero means every declared source.
	MinSources int `json:"min_sources,omitempty"`
}

// ExecuteRule runs one matching rule over the unmatched transactions of a channel.
//
// The rule is fetched and compiled, classified for reporting, and evaluated against an index of
// the channel's unmatched transactions. A live run holds the execution lock for the rule and
// channel, writes every accepted group, resets the transactions it visited but did not match and
// records a run audit row. A dry run writes nothing and returns a sample of the groups it found.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - opts ExecuteOptions: The rule, channel and mode of the execution.
//
// Returns:
// - *model.ExecutionResult: Counts and ids of what was matched.
// - error: A *ConfigurationError, an expression error or a storage error. Failures of single
// groups are reported in the result, not returned.
func (r *Recon) ExecuteRule(ctx context.Context, opts ExecuteOptions) (*model.ExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "recon.execute")
	defer span.End()
	started := time.Now()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	compiled, err := r.loadRule(ctx, opts.RuleID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	rule := compiled.Rule

	channelID := opts.ChannelID
	if channelID == "" {
		channelID = rule.ChannelID
	}

	total := len(compiled.Sources)
	minSources, err := resolveMinSources(opts.MinSources, cfg.Matching.DefaultMinSources, total)
	if err != nil {
		return nil, &ConfigurationError{RuleID: rule.RuleID, Reason: "invalid min_sources", Err: err}
	}

	complexity := ClassifyComplexity(compiled)
	logger := logrus.WithFields(logrus.Fields{
		"rule_id":    rule.RuleID,
		"channel_id": channelID,
		"dry_run":    opts.DryRun,
	})
	logger.WithFields(logrus.Fields{
		"complexity":  complexity.Level,
		"reasons":     complexity.Reasons,
		"min_sources": minSources,
	}).Info("executing rule")
	span.SetAttributes(
		attribute.String("rule.id", rule.RuleID),
		attribute.String("channel.id", channelID),
		attribute.String("rule.complexity", complexity.Level),
		attribute.Bool("dry_run", opts.DryRun),
	)

	result := &model.ExecutionResult{
		RuleID:         rule.RuleID,
		ChannelID:      channelID,
		MatchType:      matchType(minSources, total),
		Complexity:     complexity,
		Executor:       model.ExecutorExpression,
		DryRun:         opts.DryRun,
		TransactionIDs: []int64{},
	}

	if opts.DryRun {
		err = r.dryRun(ctx, compiled, channelID, minSources, cfg.Matching, result)
	} else {
		err = r.liveRun(ctx, compiled, channelID, minSources, cfg.Matching, result)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	result.ExecutionTimeMs = time.Since(started).Milliseconds()

	logger.WithFields(logrus.Fields{
		"recon_group_number": result.ReconGroupNumber,
		"matched":            result.MatchedCount,
		"unmatched":          result.UnmatchedCount,
		"full_groups":        result.FullGroupCount,
		"partial_groups":     result.PartialGroupCount,
		"failed_groups":      result.FailedGroups,
		"evaluation_errors":  result.EvaluationErrors,
		"duration_ms":        result.ExecutionTimeMs,
	}).Info("rule execution finished")
	emitRunRecord(ctx, result)
	return result, nil
}

// loadRule fetches the rule and compiles it. Expression errors are returned as they are so
// callers can tell unsafe rules apart from other configuration problems.
func (r *Recon) loadRule(ctx context.Context, ruleID string) (*matcher.CompiledRule, error) {
	ctx, span := tracer.Start(ctx, "recon.execute.fetch")
	defer span.End()

	rule, err := r.datasource.GetMatchingRule(ctx, ruleID)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			return nil, &ConfigurationError{RuleID: ruleID, Reason: "not found or inactive", Err: err}
		}
		return nil, err
	}
	if !rule.IsActive() {
		return nil, &ConfigurationError{RuleID: ruleID, Reason: "not found or inactive"}
	}
	if n := len(rule.Conditions.Sources); n < 2 {
		return nil, &ConfigurationError{RuleID: ruleID, Reason: fmt.Sprintf("declares %d sources, at least 2 are required", n)}
	}

	compiled, err := matcher.CompileRule(rule)
	if err != nil {
		var securityErr *expression.SecurityValidationError
		var syntaxErr *expression.SyntaxError
		if errors.As(err, &securityErr) || errors.As(err, &syntaxErr) {
			return nil, err
		}
		return nil, &ConfigurationError{RuleID: ruleID, Reason: "invalid rule", Err: err}
	}
	return compiled, nil
}

// resolveMinSources picks the minimum group size. An explicit request outside [2, total] is
// rejected, while the configured default is clamped to the rule.
func resolveMinSources(requested, configured, total int) (int, error) {
	if requested != 0 {
		if requested < 2 || requested > total {
			return 0, fmt.Errorf("min_sources %d must be between 2 and %d", requested, total)
		}
		return requested, nil
	}
	if configured <= 0 || configured > total {
		return total, nil
	}
	if configured < 2 {
		return 2, nil
	}
	return configured, nil
}

func matchType(minSources, total int) model.MatchType {
	if minSources < total {
		return model.MatchTypePartial
	}
	return model.MatchTypeFull
}

// evaluate loads the channel's unmatched transactions and searches them for groups.
// It also returns every loaded transaction, matched or not.
func (r *Recon) evaluate(ctx context.Context, compiled *matcher.CompiledRule, channelID string, minSources int, cfg config.MatchingConfig) (*index.Index, *matcher.Result, []*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "recon.execute.evaluate")
	defer span.End()

	bySource, err := index.Load(ctx, r.datasource, channelID, compiled.Sources, cfg.LoadParallelism)
	if err != nil {
		span.RecordError(err)
		return nil, nil, nil, err
	}
	var visited []*model.Transaction
	for _, source := range compiled.Sources {
		visited = append(visited, bySource[source]...)
	}

	idx := index.Build(compiled.Sources, bySource, compiled.GroupingFields)
	res := matcher.Search(idx, compiled, matcher.Options{MinSources: minSources, MaxTuplesPerKey: cfg.MaxTuplesPerKey})

	logger := logrus.WithFields(logrus.Fields{"rule_id": compiled.Rule.RuleID, "channel_id": channelID})
	for source, n := range idx.Skipped {
		if n > 0 {
			logger.WithFields(logrus.Fields{"source": source, "skipped": n}).Info("transactions without a grouping value were not indexed")
		}
	}
	for _, key := range res.TruncatedKeys {
		logger.WithField("key", key).Warn("tuple limit reached, key was not fully searched")
	}
	for _, sample := range res.ErrorSamples {
		logger.WithError(sample).Debug("candidate evaluation failed")
	}

	span.SetAttributes(
		attribute.Int("transactions.loaded", len(visited)),
		attribute.Int("index.keys", len(idx.Keys())),
		attribute.Int("index.transactions", idx.Size()),
		attribute.Int("groups.found", len(res.Groups)),
		attribute.Int("tuples.evaluated", res.TuplesEvaluated),
		attribute.Int("evaluation.errors", res.EvaluationErrors),
	)
	return idx, res, visited, nil
}

func (r *Recon) dryRun(ctx context.Context, compiled *matcher.CompiledRule, channelID string, minSources int, cfg config.MatchingConfig, result *model.ExecutionResult) error {
	idx, res, visited, err := r.evaluate(ctx, compiled, channelID, minSources, cfg)
	if err != nil {
		return err
	}
	result.SourceCounts = idx.Counts
	result.EvaluationErrors = res.EvaluationErrors

	total := len(compiled.Sources)
	for _, group := range res.Groups {
		ids := group.TransactionIDs()
		groupType := model.MatchTypePartial
		if group.IsFull(total) {
			groupType = model.MatchTypeFull
			result.FullGroupCount++
		} else {
			result.PartialGroupCount++
		}
		result.MatchedCount += len(ids)
		result.TransactionIDs = append(result.TransactionIDs, ids...)
		if len(result.SampleGroups) < cfg.DryRunSampleSize {
			result.SampleGroups = append(result.SampleGroups, model.GroupSample{
				MatchKey:       group.MatchKey,
				SourcesMatched: group.SourcesMatched,
				TransactionIDs: ids,
				MatchType:      groupType,
			})
		}
	}
	result.UnmatchedCount = len(visited) - result.MatchedCount
	return nil
}

func (r *Recon) liveRun(ctx context.Context, compiled *matcher.CompiledRule, channelID string, minSources int, cfg config.MatchingConfig, result *model.ExecutionResult) error {
	rule := compiled.Rule
	groupNumber := model.GenerateReconGroupNumber(time.Now())
	result.ReconGroupNumber = groupNumber
	logger := logrus.WithFields(logrus.Fields{
		"rule_id":            rule.RuleID,
		"channel_id":         channelID,
		"recon_group_number": groupNumber,
	})

	if r.redis != nil {
		ttl := time.Duration(cfg.LockTimeoutSeconds) * time.Second
		locker := redlock.NewLocker(r.redis, redlock.ExecutionKey(rule.RuleID, channelID), groupNumber)
		if err := locker.Lock(ctx, ttl); err != nil {
			return fmt.Errorf("acquiring execution lock: %w", err)
		}

		// losing the lock cancels the run
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		stop := locker.KeepAlive(ctx, ttl, ttl/3, func(err error) {
			logger.WithError(err).Error("execution lock lost, cancelling run")
			cancel()
		})
		defer func() {
			stop()
			cancel()
			if err := locker.Unlock(context.Background()); err != nil {
				logger.WithError(err).Warn("failed to release execution lock")
			}
		}()
	}

	run := &model.ReconciliationRun{
		ReconGroupNumber: groupNumber,
		RuleID:           rule.RuleID,
		ChannelID:        channelID,
		Status:           model.RunStatusStarted,
		StartedAt:        time.Now(),
	}
	if err := r.datasource.RecordRun(ctx, run); err != nil {
		return err
	}

	idx, res, visited, err := r.evaluate(ctx, compiled, channelID, minSources, cfg)
	if err != nil {
		r.failRun(ctx, run, err)
		return err
	}
	result.SourceCounts = idx.Counts
	result.EvaluationErrors = res.EvaluationErrors

	out := r.writeResults(ctx, compiled, res.Groups, visited, groupNumber, cfg)
	result.MatchedCount = len(out.matchedIDs)
	result.TransactionIDs = append(result.TransactionIDs, out.matchedIDs...)
	result.FullGroupCount = out.fullGroups
	result.PartialGroupCount = out.partialGroups
	result.UnmatchedCount = out.unmatched
	result.FailedGroups = out.failed

	run.Status = model.RunStatusCompleted
	run.MatchedCount = result.MatchedCount
	run.PartialCount = out.partialGroups
	run.UnmatchedCount = out.unmatched
	run.CompletedAt = ptr.Time(time.Now())
	if len(out.errs) > 0 {
		run.ErrorMessage = errors.Join(out.errs...).Error()
	}
	if err := r.datasource.UpdateRun(ctx, run); err != nil {
		logger.WithError(err).Error("failed to update run record")
		notification.NotifyError(err)
	}
	return nil
}

// failRun marks the run failed. The original error is what the caller sees.
func (r *Recon) failRun(ctx context.Context, run *model.ReconciliationRun, runErr error) {
	run.Status = model.RunStatusFailed
	run.ErrorMessage = runErr.Error()
	run.CompletedAt = ptr.Time(time.Now())
	if err := r.datasource.UpdateRun(ctx, run); err != nil {
		logrus.WithError(err).WithField("recon_group_number", run.ReconGroupNumber).Error("failed to update run record")
	}
	notification.NotifyRunFailed(run.RuleID, run.ChannelID, run.ReconGroupNumber, runErr)
}

func emitRunRecord(ctx context.Context, result *model.ExecutionResult) {
	var record otellog.Record
	record.SetTimestamp(time.Now())
	record.SetSeverity(otellog.SeverityInfo)
	record.SetBody(otellog.StringValue("rule execution finished"))
	record.AddAttributes(
		otellog.String("rule_id", result.RuleID),
		otellog.String("channel_id", result.ChannelID),
		otellog.String("recon_group_number", result.ReconGroupNumber),
		otellog.Bool("dry_run", result.DryRun),
		otellog.Int("matched_count", result.MatchedCount),
		otellog.Int("unmatched_count", result.UnmatchedCount),
		otellog.Int("failed_groups", result.FailedGroups),
		otellog.Int64("execution_time_ms", result.ExecutionTimeMs),
	)
	global.GetLoggerProvider().Logger("recon.engine").Emit(ctx, record)
}
