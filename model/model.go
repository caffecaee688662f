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
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	reconReferencePrefix = "REF"
	reconGroupPrefix     = "RECON"
	referenceTimeLayout  = "20060102150405"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a suffix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New() // Generate a new UUID.
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr) // Append the module as a suffix to the UUID.
	return idWithSuffix
}

// GenerateReconReference builds the identifier assigned to every transaction of a fully matched group.
// The format is REF-<timestamp>-<microseconds>-<random6hex>, so two groups written in the same
// microsecond still differ in the random suffix.
//
// Parameters:
// - now time.Time: The instant the group is written.
//
// Returns:
// - string: The recon reference number.
func GenerateReconReference(now time.Time) string {
	return fmt.Sprintf("%s-%s-%06d-%s", reconReferencePrefix, now.UTC().Format(referenceTimeLayout), now.Nanosecond()/1000, randomHex(3))
}

// GenerateReconGroupNumber builds the audit identifier stamped on every transaction visited by one run.
// The format is RECON_<timestamp>_<random6hex>.
func GenerateReconGroupNumber(now time.Time) string {
	return fmt.Sprintf("%s_%s_%s", reconGroupPrefix, now.UTC().Format(referenceTimeLayout), randomHex(3))
}

// randomHex returns n random bytes hex encoded. It falls back to a uuid slice if the
// system random source is unavailable.
func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		u := uuid.New()
		return hex.EncodeToString(u[:n])
	}
	return hex.EncodeToString(b)
}
