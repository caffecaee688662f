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
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/recon/internal/dedup"
	"github.com/blnkfinance/recon/model"
)

// insertBatchSize keeps a multi-row insert well under postgres' parameter limit.
const insertBatchSize = 500

const transactionColumns = `id, transaction_id, channel_id, source_id, source, COALESCE(reference_number, ''),
	amount, date, COALESCE(account_number, ''), COALESCE(currency, ''), COALESCE(match_status, 0),
	COALESCE(match_rule_id, ''), COALESCE(recon_reference_number, ''), COALESCE(recon_group_number, ''),
	COALESCE(reconciled_mode, ''), reconciled_status, COALESCE(comment, ''), COALESCE(match_conditions, ''),
	version, meta_data, created_at`

var insertColumns = []string{
	"transaction_id", "channel_id", "source_id", "source", "reference_number", "amount", "date",
	"account_number", "currency", "match_status", "meta_data", "created_at",
}

// GetUnmatchedTransactions returns the rows of one source of a channel that are not matched
// yet, in insertion order.
func (d Datasource) GetUnmatchedTransactions(ctx context.Context, channelID, source string) ([]*model.Transaction, error) {
	ctx, span := otel.Tracer("Recon transactions").Start(ctx, "Fetching unmatched transactions")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM recon.transactions
		WHERE channel_id = $1 AND source = $2 AND (match_status IS NULL OR match_status = 0)
		ORDER BY id
	`, channelID, source)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch unmatched transactions")
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// GetTransactionsByGroupNumber returns every row stamped by one run.
func (d Datasource) GetTransactionsByGroupNumber(ctx context.Context, reconGroupNumber string) ([]*model.Transaction, error) {
	ctx, span := otel.Tracer("Recon transactions").Start(ctx, "Fetching transactions by recon group number")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM recon.transactions
		WHERE recon_group_number = $1
		ORDER BY id
	`, reconGroupNumber)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch transactions by recon group number")
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]*model.Transaction, error) {
	var transactions []*model.Transaction
	for rows.Next() {
		txn := &model.Transaction{}
		var metaDataJSON []byte
		err := rows.Scan(
			&txn.ID, &txn.TransactionID, &txn.ChannelID, &txn.SourceID, &txn.Source, &txn.ReferenceNumber,
			&txn.Amount, &txn.Date, &txn.AccountNumber, &txn.Currency, &txn.MatchStatus,
			&txn.MatchRuleID, &txn.ReconReferenceNumber, &txn.ReconGroupNumber,
			&txn.ReconciledMode, &txn.ReconciledStatus, &txn.Comment, &txn.MatchConditions,
			&txn.Version, &metaDataJSON, &txn.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan transaction")
		}
		if len(metaDataJSON) > 0 {
			if err := json.Unmarshal(metaDataJSON, &txn.MetaData); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal metadata")
			}
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate transactions")
	}
	return transactions, nil
}

// FindExistingDuplicateKeys looks the keys up with a single tuple IN query and returns the
// ones already stored. Callers bound the number of keys per call.
func (d Datasource) FindExistingDuplicateKeys(ctx context.Context, keys []dedup.Key, includeCurrency bool) ([]dedup.Key, error) {
	ctx, span := otel.Tracer("Recon ingestion").Start(ctx, "Looking up duplicate keys")
	defer span.End()

	if len(keys) == 0 {
		return nil, nil
	}

	query, args := duplicateLookupQuery(keys, includeCurrency)
	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up duplicate keys")
	}
	defer rows.Close()

	var found []dedup.Key
	for rows.Next() {
		var k dedup.Key
		var amount decimal.Decimal
		dest := []interface{}{&k.ChannelID, &k.SourceID, &amount, &k.Date}
		if includeCurrency {
			dest = append(dest, &k.Currency)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(err, "failed to scan duplicate key")
		}
		k.Amount = amount.String()
		k.Date = k.Date.UTC()
		found = append(found, k)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate duplicate keys")
	}
	return found, nil
}

func duplicateLookupQuery(keys []dedup.Key, includeCurrency bool) (string, []interface{}) {
	columns := "channel_id, source_id, amount, date"
	width := 4
	if includeCurrency {
		columns += ", UPPER(COALESCE(currency, ''))"
		width = 5
	}

	tuples := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys)*width)
	for i, k := range keys {
		n := i * width
		if includeCurrency {
			tuples = append(tuples, fmt.Sprintf("($%d, $%d, $%d::numeric, $%d::timestamp, $%d)", n+1, n+2, n+3, n+4, n+5))
			args = append(args, k.ChannelID, k.SourceID, k.Amount, k.Date, k.Currency)
			continue
		}
		tuples = append(tuples, fmt.Sprintf("($%d, $%d, $%d::numeric, $%d::timestamp)", n+1, n+2, n+3, n+4))
		args = append(args, k.ChannelID, k.SourceID, k.Amount, k.Date)
	}

	query := fmt.Sprintf(`SELECT DISTINCT %s FROM recon.transactions WHERE (%s) IN (%s)`,
		columns, columns, strings.Join(tuples, ", "))
	return query, args
}

// InsertTransactions writes the rows with multi-row inserts inside one database transaction
// and returns how many were inserted. Rows whose transaction_id already exists are skipped.
func (d Datasource) InsertTransactions(ctx context.Context, txns []*model.Transaction) (int, error) {
	ctx, span := otel.Tracer("Recon ingestion").Start(ctx, "Inserting transactions")
	defer span.End()

	if len(txns) == 0 {
		return 0, nil
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	inserted := 0
	for start := 0; start < len(txns); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(txns) {
			end = len(txns)
		}
		query, args, err := insertQuery(txns[start:end])
		if err != nil {
			return 0, err
		}
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, errors.Wrap(err, "failed to insert transactions")
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, errors.Wrap(err, "failed to read inserted rows")
		}
		inserted += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit inserted transactions")
	}
	return inserted, nil
}

func insertQuery(txns []*model.Transaction) (string, []interface{}, error) {
	width := len(insertColumns)
	values := make([]string, 0, len(txns))
	args := make([]interface{}, 0, len(txns)*width)
	for i, txn := range txns {
		metaDataJSON, err := json.Marshal(txn.MetaData)
		if err != nil {
			return "", nil, errors.Wrap(err, "failed to marshal metadata")
		}
		createdAt := txn.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		placeholders := make([]string, width)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", i*width+j+1)
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")
		args = append(args,
			txn.TransactionID, txn.ChannelID, txn.SourceID, txn.Source, nullString(txn.ReferenceNumber),
			txn.Amount, txn.Date, nullString(txn.AccountNumber), nullString(txn.Currency),
			int(txn.MatchStatus), metaDataJSON, createdAt,
		)
	}

	query := fmt.Sprintf(`INSERT INTO recon.transactions (%s) VALUES %s ON CONFLICT (transaction_id) DO NOTHING`,
		strings.Join(insertColumns, ", "), strings.Join(values, ", "))
	return query, args, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
