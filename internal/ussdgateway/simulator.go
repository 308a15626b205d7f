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

package ussdgateway

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

// AnyInput matches every non-empty input.
const AnyInput = "*"

// DefaultResponse is returned when no rule matches.
const DefaultResponse = "USSD simulation response"

// Rule is one canned exchange. Input "" matches the opening dial, AnyInput
// matches any reply. Response may use {ref} and {amount}.
type Rule struct {
	Contains string
	Input    string
	Response string
}

func (r Rule) matches(dialString, input string) bool {
	if !strings.Contains(dialString, r.Contains) {
		return false
	}
	switch r.Input {
	case AnyInput:
		return input != ""
	default:
		return r.Input == input
	}
}

// DefaultRules models the Safaricom data menu (*544#), the airtime
// confirmation flow (*334#) and one-shot express airtime (*140*).
func DefaultRules() []Rule {
	return []Rule{
		{Contains: "*544#", Input: "", Response: "1. Buy Data\n2. Check Balance\n3. My Account"},
		{Contains: "*544#", Input: "1", Response: "Select bundle:\n1. 1GB - 200\n2. 3GB - 500\n3. 5GB - 1000"},
		{Contains: "*544#", Input: AnyInput, Response: "You have purchased bundle. Reference: {ref}"},
		{Contains: "*334", Input: "", Response: "Confirm purchase of KES {amount}?"},
		{Contains: "*334", Input: "1", Response: "Transaction successful. Reference: {ref}"},
		{Contains: "*334", Input: "2", Response: "Transaction cancelled"},
		{Contains: "*140*", Input: "", Response: "Airtime purchase of KES {amount} successful. Reference: {ref}"},
	}
}

// Simulator answers from an ordered rule table. Responses are deterministic
// for a given dial string and input.
type Simulator struct {
	rules []Rule
}

func NewSimulator(rules []Rule) *Simulator {
	return &Simulator{rules: rules}
}

func (s *Simulator) Send(ctx context.Context, dialString, input string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for _, r := range s.rules {
		if r.matches(dialString, input) {
			return render(r.Response, dialString, input), nil
		}
	}
	return DefaultResponse, nil
}

var amountPattern = regexp.MustCompile(`\*(\d+)`)

func render(tmpl, dialString, input string) string {
	out := strings.ReplaceAll(tmpl, "{ref}", Reference(dialString, input))
	return strings.ReplaceAll(out, "{amount}", amountOf(dialString))
}

// amountOf returns the number after the service code, e.g. 50 in *140*50*0712#,
// falling back to the service code itself.
func amountOf(dialString string) string {
	m := amountPattern.FindAllStringSubmatch(dialString, 2)
	switch len(m) {
	case 0:
		return "amount"
	case 1:
		return m[0][1]
	default:
		return m[1][1]
	}
}

// Reference derives a six digit REF code from the exchange.
func Reference(dialString, input string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(dialString + "|" + input))
	return fmt.Sprintf("REF%06d", h.Sum32()%1000000)
}
