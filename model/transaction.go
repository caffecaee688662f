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
	"time"

	"github.com/shopspring/decimal"
)

// MatchStatus is the reconciliation state of a single transaction.
type MatchStatus int

const (
	MatchStatusUnmatched MatchStatus = 0
	MatchStatusMatched   MatchStatus = 1
	MatchStatusPartial   MatchStatus = 2
)

const (
	ReconciledModeAutomatic = "automatic"
	ReconciledModeManual    = "manual"
)

// Transaction is one record reported by a source for a channel.
type Transaction struct {
	ID                   int64                  `json:"id"`
	TransactionID        string                 `json:"transaction_id"`
	ChannelID            string                 `json:"channel_id"`
	SourceID             string                 `json:"source_id"`
	Source               string                 `json:"source"`
	ReferenceNumber      string                 `json:"reference_number"`
	Amount               decimal.Decimal        `json:"amount"`
	Date                 time.Time              `json:"date"`
	AccountNumber        string                 `json:"account_number"`
	Currency             string                 `json:"currency"`
	MatchStatus          MatchStatus            `json:"match_status"`
	MatchRuleID          string                 `json:"match_rule_id,omitempty"`
	ReconReferenceNumber string                 `json:"recon_reference_number,omitempty"`
	ReconGroupNumber     string                 `json:"recon_group_number,omitempty"`
	ReconciledMode       string                 `json:"reconciled_mode,omitempty"`
	ReconciledStatus     bool                   `json:"reconciled_status"`
	Comment              string                 `json:"comment,omitempty"`
	MatchConditions      string                 `json:"match_conditions,omitempty"`
	Version              int64                  `json:"version"`
	MetaData             map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
}

// Field returns the value of a named field so rule expressions and conditions can address
// transactions generically. Unknown names fall back to MetaData. The boolean reports whether
// the field is known at all; a known but unset field yields a nil value.
func (transaction *Transaction) Field(name string) (interface{}, bool) {
	switch name {
	case "id":
		return transaction.ID, true
	case "transaction_id":
		return emptyToNil(transaction.TransactionID), true
	case "channel_id":
		return emptyToNil(transaction.ChannelID), true
	case "source_id":
		return emptyToNil(transaction.SourceID), true
	case "source":
		return emptyToNil(transaction.Source), true
	case "reference_number":
		return emptyToNil(transaction.ReferenceNumber), true
	case "amount":
		return transaction.Amount, true
	case "date":
		if transaction.Date.IsZero() {
			return nil, true
		}
		return transaction.Date, true
	case "account_number":
		return emptyToNil(transaction.AccountNumber), true
	case "currency":
		return emptyToNil(transaction.Currency), true
	case "comment":
		return emptyToNil(transaction.Comment), true
	case "match_status":
		return int64(transaction.MatchStatus), true
	}

	if transaction.MetaData == nil {
		return nil, false
	}
	v, ok := transaction.MetaData[name]
	return v, ok
}

func emptyToNil(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
