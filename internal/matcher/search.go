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

package matcher

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/recon/internal/expression"
	"github.com/blnkfinance/recon/internal/index"
	"github.com/blnkfinance/recon/model"
)

// DefaultMaxTuplesPerKey bounds the candidate tuples evaluated under one grouping key.
const DefaultMaxTuplesPerKey = 100000

// maxErrorSamples caps the evaluation errors kept on a Result.
const maxErrorSamples = 50

// EvaluationError records a candidate tuple whose evaluation failed. The tuple is treated as
// a non-match and the search continues.
type EvaluationError struct {
	Key            string
	TransactionIDs []int64
	Err            error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluating tuple %v under key %s: %v", e.TransactionIDs, e.Key, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// Options tunes a search.
type Options struct {
	// MinSources is the fewest sources a group may have. Zero means all declared sources.
	MinSources int
	// MaxTuplesPerKey stops evaluating a key after this many tuples. Zero uses the default.
	MaxTuplesPerKey int
}

// Result is the outcome of a search.
type Result struct {
	Groups           []*model.MatchGroup
	Consumed         map[int64]struct{}
	EvaluationErrors int
	ErrorSamples     []*EvaluationError
	TruncatedKeys    []string
	TuplesEvaluated  int
}

// FullGroups counts the groups in which every declared source participated.
func (r *Result) FullGroups(totalSources int) int {
	n := 0
	for _, g := range r.Groups {
		if g.IsFull(totalSources) {
			n++
		}
	}
	return n
}

type searcher struct {
	idx       *index.Index
	rule      *CompiledRule
	min       int
	maxTuples int
	result    *Result
}

// Search finds match groups in the index.
//
// Keys are visited in sorted order. Under each key, when every declared source has a candidate,
// the Cartesian product of candidates is evaluated against the full rule and the first
// satisfying tuple is accepted. When only some sources are present, but at least MinSources,
// subsets are tried from the largest size down using chained reference_number equality; the
// first satisfying tuple is accepted and smaller sizes are not tried. Accepted transactions are
// consumed, and the key is searched again until no further group is found.
//
// Parameters:
// - idx *index.Index: The indexed unmatched transactions.
// - rule *CompiledRule: The compiled rule.
// - opts Options: Search options.
//
// Returns:
// - *Result: The accepted groups and search diagnostics.
func Search(idx *index.Index, rule *CompiledRule, opts Options) *Result {
	total := len(rule.Sources)
	minSources := opts.MinSources
	if minSources <= 0 || minSources > total {
		minSources = total
	}
	if minSources < 2 {
		minSources = 2
	}
	maxTuples := opts.MaxTuplesPerKey
	if maxTuples <= 0 {
		maxTuples = DefaultMaxTuplesPerKey
	}

	s := &searcher{
		idx:       idx,
		rule:      rule,
		min:       minSources,
		maxTuples: maxTuples,
		result:    &Result{Consumed: make(map[int64]struct{})},
	}
	for _, key := range idx.Keys() {
		s.searchKey(key)
	}
	return s.result
}

func (s *searcher) searchKey(key string) {
	budget := s.maxTuples
	for {
		candidates, available := s.candidates(key)
		if len(available) < s.min {
			return
		}

		var group *model.MatchGroup
		var exhausted bool
		if len(available) == len(s.rule.Sources) {
			group, exhausted = s.searchFull(key, available, candidates, &budget)
		} else {
			group, exhausted = s.searchPartial(key, available, candidates, &budget)
		}
		if exhausted {
			s.result.TruncatedKeys = append(s.result.TruncatedKeys, index.DisplayKey(key))
			logrus.WithField("key", index.DisplayKey(key)).Warnf("stopped evaluating key after %d tuples", s.maxTuples)
			return
		}
		if group == nil {
			return
		}
		s.accept(group)
	}
}

// candidates returns the unconsumed transactions per source under key, and the sources that
// still have any, in declaration order.
func (s *searcher) candidates(key string) (map[string][]*model.Transaction, []string) {
	bucket := s.idx.Buckets[key]
	out := make(map[string][]*model.Transaction, len(bucket))
	var available []string
	for _, source := range s.rule.Sources {
		for _, txn := range bucket[source] {
			if _, used := s.result.Consumed[txn.ID]; !used {
				out[source] = append(out[source], txn)
			}
		}
		if len(out[source]) > 0 {
			available = append(available, source)
		}
	}
	return out, available
}

func (s *searcher) searchFull(key string, sources []string, candidates map[string][]*model.Transaction, budget *int) (*model.MatchGroup, bool) {
	tuple, exhausted := s.firstTuple(key, sources, candidates, budget, s.rule.Match)
	if tuple == nil {
		return nil, exhausted
	}
	return s.group(key, sources, tuple), false
}

func (s *searcher) searchPartial(key string, available []string, candidates map[string][]*model.Transaction, budget *int) (*model.MatchGroup, bool) {
	for size := len(available); size >= s.min; size-- {
		for _, subset := range combinations(available, size) {
			predicate, err := s.rule.PartialPredicate(subset)
			if err != nil {
				s.recordError(key, nil, err)
				continue
			}
			tuple, exhausted := s.firstTuple(key, subset, candidates, budget, predicate.Evaluate)
			if exhausted {
				return nil, true
			}
			if tuple != nil {
				return s.group(key, subset, tuple), false
			}
		}
	}
	return nil, false
}

// firstTuple walks the Cartesian product of the candidates of sources in order and returns the
// first tuple satisfying match. The boolean is true when the tuple budget ran out.
func (s *searcher) firstTuple(key string, sources []string, candidates map[string][]*model.Transaction, budget *int, match func(expression.Context) (bool, error)) ([]*model.Transaction, bool) {
	lists := make([][]*model.Transaction, len(sources))
	for i, source := range sources {
		lists[i] = candidates[source]
		if len(lists[i]) == 0 {
			return nil, false
		}
	}

	positions := make([]int, len(sources))
	for {
		if *budget <= 0 {
			return nil, true
		}
		*budget--
		s.result.TuplesEvaluated++

		tuple := make([]*model.Transaction, len(sources))
		ctx := make(expression.Context, len(sources))
		for i, source := range sources {
			tuple[i] = lists[i][positions[i]]
			ctx[source] = tuple[i]
		}

		ok, err := match(ctx)
		if err != nil {
			s.recordError(key, tuple, err)
		} else if ok {
			return tuple, false
		}

		// advance the odometer, last source fastest
		i := len(positions) - 1
		for ; i >= 0; i-- {
			positions[i]++
			if positions[i] < len(lists[i]) {
				break
			}
			positions[i] = 0
		}
		if i < 0 {
			return nil, false
		}
	}
}

func (s *searcher) group(key string, sources []string, tuple []*model.Transaction) *model.MatchGroup {
	matched := make([]string, len(sources))
	copy(matched, sources)
	return &model.MatchGroup{
		Transactions:   tuple,
		MatchKey:       index.DisplayKey(key),
		SourcesMatched: matched,
	}
}

func (s *searcher) accept(group *model.MatchGroup) {
	for _, txn := range group.Transactions {
		s.result.Consumed[txn.ID] = struct{}{}
	}
	s.result.Groups = append(s.result.Groups, group)
}

func (s *searcher) recordError(key string, tuple []*model.Transaction, err error) {
	s.result.EvaluationErrors++
	evalErr := &EvaluationError{Key: index.DisplayKey(key), Err: err}
	for _, txn := range tuple {
		evalErr.TransactionIDs = append(evalErr.TransactionIDs, txn.ID)
	}
	logrus.WithField("key", evalErr.Key).Debug(evalErr.Error())
	if len(s.result.ErrorSamples) < maxErrorSamples {
		s.result.ErrorSamples = append(s.result.ErrorSamples, evalErr)
	}
}

// combinations returns every subset of items with exactly k elements, preserving item order,
// in lexicographic order of positions.
func combinations(items []string, k int) [][]string {
	if k <= 0 || k > len(items) {
		return nil
	}
	var out [][]string
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		subset := make([]string, k)
		for i, j := range idx {
			subset[i] = items[j]
		}
		out = append(out, subset)

		i := k - 1
		for i >= 0 && idx[i] == len(items)-k+i {
			i--
		}
		if i < 0 {
			return out
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}
