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
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/recon/internal/dedup"
	"github.com/blnkfinance/recon/model"
)

var transactionRowColumns = []string{
	"id", "transaction_id", "channel_id", "source_id", "source", "reference_number",
	"amount", "date", "account_number", "currency", "match_status",
	"match_rule_id", "recon_reference_number", "recon_group_number",
	"reconciled_mode", "reconciled_status", "comment", "match_conditions",
	"version", "meta_data", "created_at",
}

func newMockDatasource(t *testing.T) (Datasource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return Datasource{Conn: db}, mock
}

func TestGetUnmatchedTransactions(t *testing.T) {
	ds, mock := newMockDatasource(t)
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(transactionRowColumns).
		AddRow(1, "txn_1", "ATM", "src_atm", "ATM", "R1", "100.00", date, "", "NGN", 0,
			"", "", "", "", false, "", "", 0, []byte(`{"terminal":"T1"}`), date).
		AddRow(2, "txn_2", "ATM", "src_atm", "ATM", "R2", "50", date, "", "NGN", 0,
			"", "", "RECON_old", "", false, "", "", 3, nil, date)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE channel_id = $1 AND source = $2 AND (match_status IS NULL OR match_status = 0)")).
		WithArgs("ATM", "ATM").
		WillReturnRows(rows)

	txns, err := ds.GetUnmatchedTransactions(context.Background(), "ATM", "ATM")
	require.NoError(t, err)
	require.Len(t, txns, 2)

	assert.Equal(t, "R1", txns[0].ReferenceNumber)
	assert.True(t, decimal.NewFromInt(100).Equal(txns[0].Amount))
	assert.Equal(t, "T1", txns[0].MetaData["terminal"])
	assert.Nil(t, txns[1].MetaData)
	assert.Equal(t, int64(3), txns[1].Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUnmatchedTransactionsError(t *testing.T) {
	ds, mock := newMockDatasource(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))

	_, err := ds.GetUnmatchedTransactions(context.Background(), "ATM", "ATM")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch unmatched transactions")
}

func TestGetTransactionsByGroupNumber(t *testing.T) {
	ds, mock := newMockDatasource(t)
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE recon_group_number = $1")).
		WithArgs("RECON_1").
		WillReturnRows(sqlmock.NewRows(transactionRowColumns).
			AddRow(7, "txn_7", "ATM", "src", "CBS", "R7", "1", date, "", "", 1,
				"rule_1", "REF-1", "RECON_1", "automatic", true, "", "", 1, nil, date))

	txns, err := ds.GetTransactionsByGroupNumber(context.Background(), "RECON_1")
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, model.MatchStatusMatched, txns[0].MatchStatus)
	assert.Equal(t, "REF-1", txns[0].ReconReferenceNumber)
	assert.True(t, txns[0].ReconciledStatus)
}

func TestDuplicateLookupQuery(t *testing.T) {
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	keys := []dedup.Key{
		{ChannelID: "ATM", SourceID: "s1", Amount: "10", Date: date, Currency: "NGN"},
		{ChannelID: "ATM", SourceID: "s1", Amount: "20", Date: date, Currency: "USD"},
	}

	query, args := duplicateLookupQuery(keys, false)
	assert.Equal(t, "SELECT DISTINCT channel_id, source_id, amount, date FROM recon.transactions "+
		"WHERE (channel_id, source_id, amount, date) IN (($1, $2, $3::numeric, $4::timestamp), ($5, $6, $7::numeric, $8::timestamp))", query)
	assert.Len(t, args, 8)

	query, args = duplicateLookupQuery(keys, true)
	assert.Contains(t, query, "UPPER(COALESCE(currency, ''))")
	assert.Contains(t, query, "$10)")
	assert.Len(t, args, 10)
	assert.Equal(t, "USD", args[9])
}

func TestFindExistingDuplicateKeys(t *testing.T) {
	ds, mock := newMockDatasource(t)
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	keys := []dedup.Key{
		{ChannelID: "ATM", SourceID: "s1", Amount: "100", Date: date},
		{ChannelID: "ATM", SourceID: "s1", Amount: "7.5", Date: date},
	}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE (channel_id, source_id, amount, date) IN")).
		WithArgs("ATM", "s1", "100", date, "ATM", "s1", "7.5", date).
		WillReturnRows(sqlmock.NewRows([]string{"channel_id", "source_id", "amount", "date"}).
			AddRow("ATM", "s1", "100.00000000", date))

	found, err := ds.FindExistingDuplicateKeys(context.Background(), keys, false)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, keys[0].String(), found[0].String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindExistingDuplicateKeysEmpty(t *testing.T) {
	ds, mock := newMockDatasource(t)
	found, err := ds.FindExistingDuplicateKeys(context.Background(), nil, false)
	assert.NoError(t, err)
	assert.Empty(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTransactionsBatches(t *testing.T) {
	ds, mock := newMockDatasource(t)

	txns := make([]*model.Transaction, insertBatchSize+1)
	for i := range txns {
		txns[i] = &model.Transaction{
			TransactionID: model.GenerateUUIDWithSuffix("txn"),
			ChannelID:     "ATM",
			SourceID:      "s1",
			Source:        "ATM",
			Amount:        decimal.NewFromInt(int64(i + 1)),
			Date:          time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		}
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO recon.transactions (transaction_id, channel_id")).
		WillReturnResult(sqlmock.NewResult(0, int64(insertBatchSize)))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (transaction_id) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inserted, err := ds.InsertTransactions(context.Background(), txns)
	require.NoError(t, err)
	assert.Equal(t, insertBatchSize+1, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTransactionsRollsBackOnError(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO recon.transactions").WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err := ds.InsertTransactions(context.Background(), []*model.Transaction{{TransactionID: "txn_1"}})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
