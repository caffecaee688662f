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

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/blnkfinance/recon/model"
)

// ApplyMatchGroup writes one accepted group. The rows are first claimed with
// FOR UPDATE SKIP LOCKED restricted to rows that are still unmatched; if any row is missing
// from the claim the group is left untouched and ErrClaimConflict is returned.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - update model.GroupUpdate: The ids of the group and the values to stamp on them.
//
// Returns:
// - error: ErrClaimConflict when the claim is incomplete, or the wrapped database error.
func (d Datasource) ApplyMatchGroup(ctx context.Context, update model.GroupUpdate) error {
	ctx, span := otel.Tracer("Recon writer").Start(ctx, "Applying match group")
	defer span.End()
	span.SetAttributes(
		attribute.Int("group.size", len(update.TransactionIDs)),
		attribute.Int("group.status", int(update.Status)),
	)

	if len(update.TransactionIDs) == 0 {
		return nil
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM recon.transactions
		WHERE id = ANY($1) AND (match_status IS NULL OR match_status = 0)
		FOR UPDATE SKIP LOCKED
	`, pq.Array(update.TransactionIDs))
	if err != nil {
		return errors.Wrap(err, "failed to claim transactions")
	}
	claimed := 0
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return errors.Wrap(err, "failed to scan claimed transaction")
		}
		claimed++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "failed to claim transactions")
	}
	if claimed != len(update.TransactionIDs) {
		return ErrClaimConflict
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE recon.transactions
		SET match_status = $2,
			match_rule_id = $3,
			recon_reference_number = NULLIF($4, ''),
			recon_group_number = $5,
			reconciled_mode = NULLIF($6, ''),
			reconciled_status = $7,
			match_conditions = NULLIF($8, ''),
			version = version + 1
		WHERE id = ANY($1)
	`, pq.Array(update.TransactionIDs), int(update.Status), update.RuleID, update.ReconReferenceNumber,
		update.ReconGroupNumber, update.ReconciledMode, update.Status == model.MatchStatusMatched, update.MatchConditions)
	if err != nil {
		return errors.Wrap(err, "failed to update match group")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit match group")
	}
	return nil
}

// ResetUnmatched resets rows visited by a run without being matched: match metadata is
// cleared and the run's recon group number is stamped. Rows matched in the meantime are
// left alone.
func (d Datasource) ResetUnmatched(ctx context.Context, ids []int64, reconGroupNumber string) (int64, error) {
	ctx, span := otel.Tracer("Recon writer").Start(ctx, "Resetting unmatched transactions")
	defer span.End()

	if len(ids) == 0 {
		return 0, nil
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE recon.transactions
		SET match_status = 0,
			match_rule_id = NULL,
			recon_reference_number = NULL,
			reconciled_mode = NULL,
			reconciled_status = FALSE,
			match_conditions = NULL,
			recon_group_number = $2,
			version = version + 1
		WHERE id = ANY($1) AND (match_status IS NULL OR match_status = 0)
	`, pq.Array(ids), reconGroupNumber)
	if err != nil {
		return 0, errors.Wrap(err, "failed to reset unmatched transactions")
	}
	return result.RowsAffected()
}
