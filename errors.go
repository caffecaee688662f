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
	"fmt"
)

// ConfigurationError is returned when a rule cannot be executed as configured. Execution is
// aborted before any transaction is read or written.
type ConfigurationError struct {
	RuleID string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rule %s: %s: %v", e.RuleID, e.Reason, e.Err)
	}
	return fmt.Sprintf("rule %s: %s", e.RuleID, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// PersistenceError is returned when the write of one match group failed after retries.
// The group's transaction was rolled back; groups committed earlier in the run stay committed.
type PersistenceError struct {
	ReconGroupNumber string
	TransactionIDs   []int64
	Err              error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("writing group %v for run %s: %v", e.TransactionIDs, e.ReconGroupNumber, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
