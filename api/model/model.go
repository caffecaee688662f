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
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/blnkfinance/recon"
	"github.com/blnkfinance/recon/model"
)

// MaxIngestRows bounds the rows accepted in one ingestion request.
const MaxIngestRows = 50000

// ExecuteRule is the body of a rule execution request.
type ExecuteRule struct {
	ChannelID  string `json:"channel_id"`
	DryRun     bool   `json:"dry_run"`
	MinSources int    `json:"min_sources"`
	Async      bool   `json:"async"`
}

// Ingest is the body of an ingestion request.
type Ingest struct {
	model.IngestRequest
	Async bool `json:"async"`
}

// ListRules holds the query parameters of a rule listing.
type ListRules struct {
	ChannelID string `form:"channel_id"`
	Limit     int    `form:"limit"`
	Offset    int    `form:"offset"`
}

func (e *ExecuteRule) ValidateExecuteRule() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.MinSources, validation.When(e.MinSources != 0, validation.Min(2))),
		validation.Field(&e.Async, validation.When(e.DryRun, validation.In(false).Error("dry runs cannot be queued"))),
	)
}

func (e *ExecuteRule) ToExecuteOptions(ruleID string) recon.ExecuteOptions {
	return recon.ExecuteOptions{
		RuleID:     ruleID,
		ChannelID:  e.ChannelID,
		DryRun:     e.DryRun,
		MinSources: e.MinSources,
	}
}

func (i *Ingest) ValidateIngest() error {
	if err := validation.Validate(i.Rows, validation.Required, validation.Length(1, MaxIngestRows)); err != nil {
		return validation.Errors{"rows": err}
	}
	return i.IngestRequest.Validate()
}

func (l *ListRules) ValidateListRules() error {
	if l.Limit < 0 || l.Offset < 0 {
		return errors.New("limit and offset must not be negative")
	}
	return validation.ValidateStruct(l,
		validation.Field(&l.Limit, validation.Max(100)),
	)
}
