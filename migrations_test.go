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

package recon

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := SQLFiles.ReadDir("sql")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"1_transactions.sql", "2_matching_rules.sql", "3_reconciliation_runs.sql"}, names)
}

func TestReconReferenceIndexAllowsSharedReferences(t *testing.T) {
	body, err := SQLFiles.ReadFile("sql/1_transactions.sql")
	require.NoError(t, err)

	// every member of a matched group carries the same recon_reference_number
	unique := regexp.MustCompile(`(?i)CREATE\s+UNIQUE\s+INDEX[^;]*recon_reference_number`)
	assert.False(t, unique.Match(body))
	assert.Regexp(t, `(?i)CREATE\s+INDEX\s+IF\s+NOT\s+EXISTS\s+idx_transactions_recon_reference_number\s+ON\s+recon\.transactions\s+\(recon_reference_number\)`, string(body))
}
