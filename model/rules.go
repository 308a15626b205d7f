/*
Copyright 2024 Bingwa Authors.

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
	"fmt"
	"regexp"
	"sort"
)

// Rule is one compiled route pattern. Field is empty for expected-response rules.
type Rule struct {
	Step    int
	Pattern *regexp.Regexp
	Field   string
}

// CompiledRules holds a route's expectation and extraction patterns compiled once.
type CompiledRules struct {
	Expected   []Rule
	Extraction []Rule
}

// CompileRules compiles every pattern on the route. Any invalid expression fails the whole route.
func CompileRules(route *UssdRoute) (*CompiledRules, error) {
	rules := &CompiledRules{
		Expected:   make([]Rule, 0, len(route.ExpectedResponses)),
		Extraction: make([]Rule, 0, len(route.ExtractionPatterns)),
	}

	for _, e := range route.ExpectedResponses {
		re, err := regexp.Compile(e.Pattern)
		if err != nil {
			return nil, fmt.Errorf("expected response for step %d: %w", e.Step, err)
		}
		rules.Expected = append(rules.Expected, Rule{Step: e.Step, Pattern: re})
	}

	for _, p := range route.ExtractionPatterns {
		if p.Field == "" {
			return nil, fmt.Errorf("extraction pattern for step %d has no field", p.Step)
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("extraction pattern %q: %w", p.Field, err)
		}
		rules.Extraction = append(rules.Extraction, Rule{Step: p.Step, Pattern: re, Field: p.Field})
	}

	sort.SliceStable(rules.Expected, func(i, j int) bool { return rules.Expected[i].Step < rules.Expected[j].Step })
	return rules, nil
}

// ExpectedFor returns the expectation declared for step, if any.
func (c *CompiledRules) ExpectedFor(step int) (Rule, bool) {
	for _, r := range c.Expected {
		if r.Step == step {
			return r, true
		}
	}
	return Rule{}, false
}

// ExtractAll applies every extraction rule regardless of step.
func (c *CompiledRules) ExtractAll(response string) map[string]string {
	return extract(c.Extraction, response, func(Rule) bool { return true })
}

// ExtractStep applies only the extraction rules scoped to step.
func (c *CompiledRules) ExtractStep(step int, response string) map[string]string {
	return extract(c.Extraction, response, func(r Rule) bool { return r.Step == step })
}

// extract stores the first captured group of each matching rule. Non-matches are skipped.
func extract(rules []Rule, response string, include func(Rule) bool) map[string]string {
	out := make(map[string]string)
	for _, r := range rules {
		if !include(r) {
			continue
		}
		m := r.Pattern.FindStringSubmatch(response)
		if len(m) < 2 || m[1] == "" {
			continue
		}
		out[r.Field] = m[1]
	}
	return out
}
