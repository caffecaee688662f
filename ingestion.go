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

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/blnkfinance/recon/config"
	"github.com/blnkfinance/recon/internal/apierror"
	"github.com/blnkfinance/recon/internal/dedup"
	"github.com/blnkfinance/recon/model"
)

// DetectDuplicatesAndInsert maps uploaded rows to transactions, filters out rows whose
// (channel_id, source_id, amount, date[, currency]) key already exists in storage or earlier in
// the same request, and inserts the rest.
//
// Rows that fail to map are reported in the result and skipped. Under the report policy
// duplicates are inserted and only counted.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - req model.IngestRequest: The rows and ingestion options.
//
// Returns:
// - *model.IngestResult: Inserted and duplicate counts, duplicate row numbers and row errors.
// - error: An APIError for an invalid request, or a storage error. On a storage error the result
// holds what was inserted before it.
func (r *Recon) DetectDuplicatesAndInsert(ctx context.Context, req model.IngestRequest) (*model.IngestResult, error) {
	ctx, span := tracer.Start(ctx, "recon.ingest")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "invalid ingestion request", err)
	}
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	opts := ingestOptions(req, cfg.Ingestion)

	result := &model.IngestResult{Errors: []model.RowError{}}
	txns := make([]*model.Transaction, 0, len(req.Rows))
	rows := make([]int, 0, len(req.Rows))
	for i := range req.Rows {
		txn, err := req.MapRow(i)
		if err != nil {
			result.Errors = append(result.Errors, model.RowError{Row: i, Message: err.Error()})
			continue
		}
		txns = append(txns, txn)
		rows = append(rows, i)
	}

	detector := dedup.NewDetector(r.datasource, opts)
	batchSize := cfg.Ingestion.InsertBatchSize
	if batchSize <= 0 {
		batchSize = len(txns)
	}
	for start := 0; start < len(txns); start += batchSize {
		end := min(start+batchSize, len(txns))
		part, err := detector.Partition(ctx, txns[start:end])
		if err != nil {
			span.RecordError(err)
			return result, err
		}
		for _, pos := range part.Duplicates {
			result.DuplicateRows = append(result.DuplicateRows, rows[start+pos])
		}
		result.Duplicates += len(part.Duplicates)

		inserted, err := r.datasource.InsertTransactions(ctx, part.Insert)
		if err != nil {
			span.RecordError(err)
			return result, err
		}
		result.Inserted += inserted
	}

	logrus.WithFields(logrus.Fields{
		"channel_id": req.ChannelID,
		"source_id":  req.SourceID,
		"rows":       len(req.Rows),
		"inserted":   result.Inserted,
		"duplicates": result.Duplicates,
		"errors":     len(result.Errors),
		"policy":     opts.Policy,
	}).Info("ingestion finished")
	span.SetAttributes(
		attribute.Int("rows", len(req.Rows)),
		attribute.Int("inserted", result.Inserted),
		attribute.Int("duplicates", result.Duplicates),
	)
	return result, nil
}

// ingestOptions applies the request's overrides on top of the configured defaults.
func ingestOptions(req model.IngestRequest, cfg config.IngestionConfig) dedup.Options {
	opts := dedup.Options{
		IncludeCurrency: cfg.IncludeCurrency,
		Policy:          model.DuplicatePolicy(cfg.DuplicatePolicy),
		NumberOfJobs:    cfg.NumberOfJobs,
		MaxLookupBatch:  cfg.MaxLookupBatch,
	}
	if req.IncludeCurrency != nil {
		opts.IncludeCurrency = *req.IncludeCurrency
	}
	if req.DuplicatePolicy != "" {
		opts.Policy = req.DuplicatePolicy
	}
	if req.BatchPolicy.NumberOfJobs > 0 {
		opts.NumberOfJobs = req.BatchPolicy.NumberOfJobs
	}
	if req.BatchPolicy.MaxLookupBatch > 0 {
		opts.MaxLookupBatch = req.BatchPolicy.MaxLookupBatch
	}
	return opts
}
