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
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/blnkfinance/recon/model"
)

// Loader fetches the unmatched transactions of one source.
type Loader interface {
	GetUnmatchedTransactions(ctx context.Context, channelID, source string) ([]*model.Transaction, error)
}

// Load fetches unmatched transactions for every source, running at most parallelism
// fetches at once. Results are keyed by source so the outcome does not depend on the order
// in which fetches finish.
func Load(ctx context.Context, loader Loader, channelID string, sources []string, parallelism int) (map[string][]*model.Transaction, error) {
	if parallelism < 1 {
		parallelism = 1
	}
	results := make([][]*model.Transaction, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, source := range sources {
		i, source := i, source
		g.Go(func() error {
			txns, err := loader.GetUnmatchedTransactions(gctx, channelID, source)
			if err != nil {
				return fmt.Errorf("loading transactions for source %s: %w", source, err)
			}
			results[i] = txns
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bySource := make(map[string][]*model.Transaction, len(sources))
	for i, source := range sources {
		bySource[source] = results[i]
	}
	return bySource, nil
}
