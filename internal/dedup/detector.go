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
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/recon/model"
)

// DefaultMaxLookupBatch caps the number of key tuples in a single existence query.
const DefaultMaxLookupBatch = 1000

// Lookup returns the subset of keys that already exist in storage.
type Lookup interface {
	FindExistingDuplicateKeys(ctx context.Context, keys []Key, includeCurrency bool) ([]Key, error)
}

// Options configures a Detector.
type Options struct {
	IncludeCurrency bool
	Policy          model.DuplicatePolicy
	NumberOfJobs    int
	MaxLookupBatch  int
}

// Detector partitions incoming transactions into new rows and duplicates. One detector is
// used for a whole ingestion run: keys found in storage and keys accepted earlier in the run
// stay in its set, so a later batch is checked against both.
type Detector struct {
	lookup  Lookup
	opts    Options
	seen    map[string]struct{}
	queried map[string]struct{}
}

// Partition is the outcome of checking one batch.
type Partition struct {
	// Insert holds the transactions the policy allows to be written.
	Insert []*model.Transaction
	// Duplicates holds the batch positions of rows whose key was already known.
	Duplicates []int
	// Lookups is the number of existence queries issued for this batch.
	Lookups int
}

func NewDetector(lookup Lookup, opts Options) *Detector {
	if opts.Policy == "" {
		opts.Policy = model.DuplicatePolicySuppress
	}
	if opts.NumberOfJobs < 1 {
		opts.NumberOfJobs = 1
	}
	if opts.MaxLookupBatch < 1 {
		opts.MaxLookupBatch = DefaultMaxLookupBatch
	}
	return &Detector{
		lookup:  lookup,
		opts:    opts,
		seen:    make(map[string]struct{}),
		queried: make(map[string]struct{}),
	}
}

// ShouldInsert is the single place that decides whether a row is written.
func ShouldInsert(policy model.DuplicatePolicy, duplicate bool) bool {
	if !duplicate {
		return true
	}
	return policy == model.DuplicatePolicyReport
}

// BatchSize is the number of keys per existence query: total divided by the number of jobs,
// rounded up, and capped at max.
func BatchSize(total, jobs, max int) int {
	if jobs < 1 {
		jobs = 1
	}
	size := (total + jobs - 1) / jobs
	if size < 1 {
		size = 1
	}
	if max > 0 && size > max {
		size = max
	}
	return size
}

// Chunk splits keys into consecutive slices of at most size keys.
func Chunk(keys []Key, size int) [][]Key {
	if size < 1 {
		size = 1
	}
	var chunks [][]Key
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[start:end])
	}
	return chunks
}

// Partition checks a batch against storage and the in-memory set.
//
// Parameters:
// - ctx context.Context: The context for the lookups.
// - txns []*model.Transaction: The batch, in upload order.
//
// Returns:
// - Partition: The rows to insert and the positions of duplicates.
// - error: An error if a lookup fails. No rows should be inserted in that case.
func (d *Detector) Partition(ctx context.Context, txns []*model.Transaction) (Partition, error) {
	keys := make([]Key, len(txns))
	var pending []Key
	for i, txn := range txns {
		keys[i] = KeyFor(txn, d.opts.IncludeCurrency)
		s := keys[i].String()
		if _, known := d.seen[s]; known {
			continue
		}
		if _, done := d.queried[s]; done {
			continue
		}
		d.queried[s] = struct{}{}
		pending = append(pending, keys[i])
	}

	var part Partition
	size := BatchSize(len(txns), d.opts.NumberOfJobs, d.opts.MaxLookupBatch)
	for _, chunk := range Chunk(pending, size) {
		found, err := d.lookup.FindExistingDuplicateKeys(ctx, chunk, d.opts.IncludeCurrency)
		if err != nil {
			return Partition{}, fmt.Errorf("duplicate lookup failed: %w", err)
		}
		part.Lookups++
		for _, k := range found {
			d.seen[k.String()] = struct{}{}
		}
	}

	for i, txn := range txns {
		s := keys[i].String()
		_, duplicate := d.seen[s]
		if duplicate {
			part.Duplicates = append(part.Duplicates, i)
		} else {
			d.seen[s] = struct{}{}
		}
		if ShouldInsert(d.opts.Policy, duplicate) {
			part.Insert = append(part.Insert, txn)
		}
	}

	logrus.WithFields(logrus.Fields{
		"rows":       len(txns),
		"duplicates": len(part.Duplicates),
		"lookups":    part.Lookups,
		"batch_size": size,
	}).Debug("duplicate detection complete")
	return part, nil
}
