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

package dedup

import (
	"strings"
	"time"

	"github.com/blnkfinance/recon/model"
)

const keySeparator = "\x1f"

// Key is the duplicate key of a transaction: (channel_id, source_id, amount, date[, currency]).
type Key struct {
	ChannelID string
	SourceID  string
	Amount    string
	Date      time.Time
	Currency  string
}

// KeyFor builds the duplicate key of a transaction. Currency is only part of the key when
// includeCurrency is set.
func KeyFor(txn *model.Transaction, includeCurrency bool) Key {
	k := Key{
		ChannelID: txn.ChannelID,
		SourceID:  txn.SourceID,
		Amount:    txn.Amount.String(),
		Date:      txn.Date.UTC(),
	}
	if includeCurrency {
		k.Currency = strings.ToUpper(txn.Currency)
	}
	return k
}

// String renders the key in a form that is identical for equal keys.
func (k Key) String() string {
	return strings.Join([]string{
		k.ChannelID,
		k.SourceID,
		k.Amount,
		k.Date.UTC().Format(time.RFC3339Nano),
		k.Currency,
	}, keySeparator)
}
