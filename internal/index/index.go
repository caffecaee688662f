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

package index

import (
	"sort"
	"strings"

	"github.com/blnkfinance/recon/model"
)

// keySeparator joins the parts of a composite key. It is a control character so it cannot
// collide with ordinary field content.
const keySeparator = "\x1f"

// Index buckets unmatched transactions by grouping key and source.
type Index struct {
	Sources []string
	Fields  []string
	Buckets map[string]map[string][]*model.Transaction
	// Counts is the number of transactions loaded per source.
	Counts map[string]int
	// Skipped is the number of transactions per source that had none of the grouping fields.
	Skipped map[string]int
	keys    []string
}

// Build indexes the loaded transactions by the composite of the grouping fields.
//
// Parameters:
// - sources []string: The rule's sources in declaration order.
// - bySource map[string][]*model.Transaction: Unmatched transactions per source.
// - fields []string: The grouping fields.
//
// Returns:
// - *Index: The populated index. Keys are iterated in sorted order so searches are deterministic.
func Build(sources []string, bySource map[string][]*model.Transaction, fields []string) *Index {
	idx := &Index{
		Sources: sources,
		Fields:  fields,
		Buckets: make(map[string]map[string][]*model.Transaction),
		Counts:  make(map[string]int, len(sources)),
		Skipped: make(map[string]int),
	}

	for _, source := range sources {
		txns := bySource[source]
		idx.Counts[source] = len(txns)
		for _, txn := range txns {
			key, ok := Key(txn, fields)
			if !ok {
				idx.Skipped[source]++
				continue
			}
			bucket, exists := idx.Buckets[key]
			if !exists {
				bucket = make(map[string][]*model.Transaction)
				idx.Buckets[key] = bucket
				idx.keys = append(idx.keys, key)
			}
			bucket[source] = append(bucket[source], txn)
		}
	}

	sort.Strings(idx.keys)
	return idx
}

// Key builds the composite grouping key of a transaction. It returns false when none of the
// fields are present, so an empty key is never produced.
func Key(txn *model.Transaction, fields []string) (string, bool) {
	parts := make([]string, len(fields))
	present := false
	for i, field := range fields {
		v, _ := txn.Field(field)
		s, ok := model.CanonicalString(v)
		if ok {
			present = true
			parts[i] = s
		}
	}
	if !present {
		return "", false
	}
	return strings.Join(parts, keySeparator), true
}

// Keys returns the grouping keys in sorted order.
func (idx *Index) Keys() []string {
	return idx.keys
}

// DisplayKey renders a key for logs and reports.
func DisplayKey(key string) string {
	return strings.ReplaceAll(key, keySeparator, "|")
}

// Size is the number of indexed transactions.
func (idx *Index) Size() int {
	n := 0
	for _, c := range idx.Counts {
		n += c
	}
	for _, s := range idx.Skipped {
		n -= s
	}
	return n
}
