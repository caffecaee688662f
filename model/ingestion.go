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

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// DuplicatePolicy decides what happens to rows whose duplicate key already exists.
type DuplicatePolicy string

const (
	// DuplicatePolicySuppress drops duplicates before insert.
	DuplicatePolicySuppress DuplicatePolicy = "suppress"
	// DuplicatePolicyReport counts duplicates but still inserts them.
	DuplicatePolicyReport DuplicatePolicy = "report"
)

// Logical transaction fields a column map may point at.
const (
	ColumnTransactionID   = "transaction_id"
	ColumnReferenceNumber = "reference_number"
	ColumnAmount          = "amount"
	ColumnDate            = "date"
	ColumnAccountNumber   = "account_number"
	ColumnCurrency        = "currency"
	ColumnComment         = "comment"
)

var logicalColumns = []string{
	ColumnTransactionID, ColumnReferenceNumber, ColumnAmount, ColumnDate,
	ColumnAccountNumber, ColumnCurrency, ColumnComment,
}

// BatchSizePolicy sizes the duplicate lookup chunks.
type BatchSizePolicy struct {
	NumberOfJobs   int `json:"number_of_jobs"`
	MaxLookupBatch int `json:"max_lookup_batch"`
}

// IngestRequest is a batch of parsed rows uploaded for one source of a channel.
type IngestRequest struct {
	ChannelID       string                   `json:"channel_id"`
	SourceID        string                   `json:"source_id"`
	Source          string                   `json:"source"`
	Rows            []map[string]interface{} `json:"rows"`
	ColumnMap       map[string]string        `json:"grouping_column_map"`
	BatchPolicy     BatchSizePolicy          `json:"batch_size_policy"`
	DuplicatePolicy DuplicatePolicy          `json:"duplicate_policy,omitempty"`
	IncludeCurrency *bool                    `json:"include_currency,omitempty"`
}

// RowError describes a row that could not be ingested.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// IngestResult summarises one ingestion call.
type IngestResult struct {
	Inserted      int        `json:"inserted"`
	Duplicates    int        `json:"duplicates"`
	DuplicateRows []int      `json:"duplicate_rows,omitempty"`
	Errors        []RowError `json:"errors"`
}

func (r *IngestRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ChannelID, validation.Required),
		validation.Field(&r.SourceID, validation.Required),
		validation.Field(&r.Source, validation.Required),
		validation.Field(&r.DuplicatePolicy, validation.In(DuplicatePolicySuppress, DuplicatePolicyReport)),
	)
}

// column returns the raw column name mapped to a logical field.
func (r *IngestRequest) column(field string) string {
	if c, ok := r.ColumnMap[field]; ok && c != "" {
		return c
	}
	return field
}

// MapRow converts the raw row at index i into a Transaction using the column map.
// Columns that are not mapped to a logical field are kept in MetaData.
func (r *IngestRequest) MapRow(i int) (*Transaction, error) {
	row := r.Rows[i]
	txn := &Transaction{
		ChannelID:   r.ChannelID,
		SourceID:    r.SourceID,
		Source:      r.Source,
		MatchStatus: MatchStatusUnmatched,
		MetaData:    map[string]interface{}{},
	}

	amount, ok := row[r.column(ColumnAmount)]
	if !ok || IsNull(amount) {
		return nil, fmt.Errorf("missing amount")
	}
	d, err := ToDecimal(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	txn.Amount = d

	date, ok := row[r.column(ColumnDate)]
	if !ok || IsNull(date) {
		return nil, fmt.Errorf("missing date")
	}
	t, err := ToTime(date)
	if err != nil {
		return nil, fmt.Errorf("invalid date: %w", err)
	}
	txn.Date = t.UTC()

	txn.TransactionID = r.stringValue(row, ColumnTransactionID)
	if txn.TransactionID == "" {
		txn.TransactionID = GenerateUUIDWithSuffix("txn")
	}
	txn.ReferenceNumber = r.stringValue(row, ColumnReferenceNumber)
	txn.AccountNumber = r.stringValue(row, ColumnAccountNumber)
	txn.Currency = strings.ToUpper(r.stringValue(row, ColumnCurrency))
	txn.Comment = r.stringValue(row, ColumnComment)

	mapped := make(map[string]struct{}, len(logicalColumns))
	for _, field := range logicalColumns {
		mapped[r.column(field)] = struct{}{}
	}
	for k, v := range row {
		if _, ok := mapped[k]; !ok {
			txn.MetaData[k] = v
		}
	}
	return txn, nil
}

func (r *IngestRequest) stringValue(row map[string]interface{}, field string) string {
	v, ok := row[r.column(field)]
	if !ok || IsNull(v) {
		return ""
	}
	s, _ := CanonicalString(v)
	return s
}
