/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package feed

import "sync/atomic"

// SymbolRule is the per-symbol admission rule. PriceDeviation is carried for
// callers outside the core predicate and is not evaluated here.
type SymbolRule struct {
	Symbol         string  `json:"symbol"`
	MinLiquidity   float64 `json:"minLiquidity"`
	PriceDeviation float64 `json:"priceDeviation"`
}

// ruleSet is one immutable snapshot of the rule table. Replacing the whole
// snapshot atomically guarantees every in-flight evaluation sees a
// self-consistent view without taking a lock on the hot path.
type ruleSet struct {
	rules map[string]SymbolRule
}

// Filter is the stateless admission predicate: an event passes iff its
// symbol has a rule and its notional value meets the rule's minimum
// liquidity. Reads are a single atomic pointer load.
type Filter struct {
	snap atomic.Pointer[ruleSet]
}

// NewFilter creates a Filter seeded with the given rules.
func NewFilter(rules []SymbolRule) *Filter {
	f := &Filter{}
	f.Replace(rules)
	return f
}

// Replace atomically swaps in a new rule snapshot. Evaluations running
// concurrently finish against the snapshot they loaded.
func (f *Filter) Replace(rules []SymbolRule) {
	m := make(map[string]SymbolRule, len(rules))
	for _, r := range rules {
		m[r.Symbol] = r
	}
	f.snap.Store(&ruleSet{rules: m})
}

// Admit reports whether an event for symbol with the given notional value
// (price times size) passes the per-symbol minimum-liquidity rule.
// HOT PATH: one atomic load and one map lookup per evaluation.
func (f *Filter) Admit(symbol string, notional float64) bool {
	rule, ok := f.snap.Load().rules[symbol]
	if !ok {
		return false
	}
	return notional >= rule.MinLiquidity
}

// Rule returns the current rule for symbol, if any.
func (f *Filter) Rule(symbol string) (SymbolRule, bool) {
	rule, ok := f.snap.Load().rules[symbol]
	return rule, ok
}

// Rules returns a copy of the current rule snapshot.
func (f *Filter) Rules() []SymbolRule {
	snap := f.snap.Load()
	result := make([]SymbolRule, 0, len(snap.rules))
	for _, r := range snap.rules {
		result = append(result, r)
	}
	return result
}
