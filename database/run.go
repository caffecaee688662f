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
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/recon/internal/apierror"
	"github.com/blnkfinance/recon/model"
)

// RecordRun inserts the audit record of a run when it starts.
func (d Datasource) RecordRun(ctx context.Context, run *model.ReconciliationRun) error {
	ctx, span := otel.Tracer("Reconciliation runs").Start(ctx, "Recording run")
	defer span.End()

	err := d.Conn.QueryRowContext(ctx, `
		INSERT INTO recon.reconciliation_runs (recon_group_number, rule_id, channel_id, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, run.ReconGroupNumber, run.RuleID, run.ChannelID, run.Status, run.StartedAt).Scan(&run.ID)
	if err != nil {
		return errors.Wrap(err, "failed to record run")
	}
	return nil
}

// UpdateRun stores the final status and counts of a run.
func (d Datasource) UpdateRun(ctx context.Context, run *model.ReconciliationRun) error {
	ctx, span := otel.Tracer("Reconciliation runs").Start(ctx, "Updating run")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		UPDATE recon.reconciliation_runs
		SET status = $2, matched_count = $3, partial_count = $4, unmatched_count = $5,
			error_message = NULLIF($6, ''), completed_at = $7
		WHERE recon_group_number = $1
	`, run.ReconGroupNumber, run.Status, run.MatchedCount, run.PartialCount, run.UnmatchedCount,
		run.ErrorMessage, run.CompletedAt)
	if err != nil {
		return errors.Wrap(err, "failed to update run")
	}
	return nil
}

// GetRun returns the audit record of a run by its recon group number.
func (d Datasource) GetRun(ctx context.Context, reconGroupNumber string) (*model.ReconciliationRun, error) {
	ctx, span := otel.Tracer("Reconciliation runs").Start(ctx, "Fetching run")
	defer span.End()

	run := &model.ReconciliationRun{}
	var errorMessage sql.NullString
	var completedAt sql.NullTime
	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, recon_group_number, rule_id, channel_id, status, matched_count, partial_count,
			unmatched_count, error_message, started_at, completed_at
		FROM recon.reconciliation_runs
		WHERE recon_group_number = $1
	`, reconGroupNumber).Scan(&run.ID, &run.ReconGroupNumber, &run.RuleID, &run.ChannelID, &run.Status,
		&run.MatchedCount, &run.PartialCount, &run.UnmatchedCount, &errorMessage, &run.StartedAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Run '%s' not found", reconGroupNumber), err)
		}
		return nil, errors.Wrap(err, "failed to fetch run")
	}

	run.ErrorMessage = errorMessage.String
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return run, nil
}
