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
	"github.com/blnkfinance/recon/internal/matcher"
	"github.com/blnkfinance/recon/model"
)

const (
	ComplexitySimple   = "simple"
	ComplexityModerate = "moderate"
	ComplexityComplex  = "complex"
)

// ClassifyComplexity describes how involved a compiled rule is. The result is only logged and
// reported; every rule runs through the same evaluator.
func ClassifyComplexity(rule *matcher.CompiledRule) model.Complexity {
	c := model.Complexity{
		HasOr:          rule.HasOr(),
		NestedGroups:   rule.Groups != nil && rule.Groups.Depth() > 1,
		SourceSpecific: rule.Groups != nil && rule.Groups.SourceSpecific(),
	}

	score := 0
	if c.HasOr {
		score++
		c.Reasons = append(c.Reasons, "uses OR")
	}
	if c.NestedGroups {
		score++
		c.Reasons = append(c.Reasons, "nested condition groups")
	}
	if c.SourceSpecific {
		score++
		c.Reasons = append(c.Reasons, "source specific conditions")
	}
	if len(rule.Tolerances) > 0 {
		c.Reasons = append(c.Reasons, "tolerances outside the expression")
	}

	switch {
	case score == 0:
		c.Level = ComplexitySimple
	case score == 1:
		c.Level = ComplexityModerate
	default:
		c.Level = ComplexityComplex
	}
	return c
}
