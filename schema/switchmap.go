/*
 * Copyright 2025 Loomflow Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package schema

import (
	"fmt"
	"sort"

	"github.com/bytedance/sonic"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// SwitchRule is one routing rule of a switch node: Match is either a literal
// signal value ("3"), a range expression (">5", "<=10", "2-4") or the
// keyword "default"; Result is the text emitted when the rule applies.
type SwitchRule struct {
	Match  string
	Result string
}

// SwitchMap is the routing table of a switch node. Rule order matters for
// range expressions (the first matching range wins), so the table preserves
// insertion order and round-trips through JSON without reordering.
type SwitchMap struct {
	om *orderedmap.OrderedMap[string, string]
}

// NewSwitchMap returns an empty routing table.
func NewSwitchMap() *SwitchMap {
	return &SwitchMap{om: orderedmap.New[string, string]()}
}

// Set appends or replaces a rule and returns m for chaining.
func (m *SwitchMap) Set(match, result string) *SwitchMap {
	m.om.Set(match, result)
	return m
}

// Get returns the result for an exact match key.
func (m *SwitchMap) Get(match string) (string, bool) {
	return m.om.Get(match)
}

// Len returns the number of rules.
func (m *SwitchMap) Len() int {
	if m == nil || m.om == nil {
		return 0
	}
	return m.om.Len()
}

// Rules returns the rules in insertion order.
func (m *SwitchMap) Rules() []SwitchRule {
	if m.Len() == 0 {
		return nil
	}
	rules := make([]SwitchRule, 0, m.om.Len())
	for pair := m.om.Oldest(); pair != nil; pair = pair.Next() {
		rules = append(rules, SwitchRule{Match: pair.Key, Result: pair.Value})
	}
	return rules
}

// MarshalJSON preserves rule order.
func (m *SwitchMap) MarshalJSON() ([]byte, error) {
	if m == nil || m.om == nil {
		return []byte("{}"), nil
	}
	return m.om.MarshalJSON()
}

// UnmarshalJSON preserves the order rules appear in the document.
func (m *SwitchMap) UnmarshalJSON(data []byte) error {
	m.om = orderedmap.New[string, string]()
	return m.om.UnmarshalJSON(data)
}

// ParseSwitchMap coerces the switch_map value found in a node's Data into a
// SwitchMap. Builders that construct graphs in code should store a
// *SwitchMap directly; JSON strings keep their document order; plain Go maps
// have no order, so their rules are sorted by match key to stay
// deterministic across runs.
func ParseSwitchMap(v any) (*SwitchMap, error) {
	switch t := v.(type) {
	case nil:
		return NewSwitchMap(), nil
	case *SwitchMap:
		return t, nil
	case SwitchMap:
		return &t, nil
	case string:
		m := NewSwitchMap()
		if err := m.UnmarshalJSON([]byte(t)); err != nil {
			return nil, fmt.Errorf("switch_map JSON: %w", err)
		}
		return m, nil
	case []byte:
		m := NewSwitchMap()
		if err := m.UnmarshalJSON(t); err != nil {
			return nil, fmt.Errorf("switch_map JSON: %w", err)
		}
		return m, nil
	case map[string]string:
		return fromUnorderedMap(t)
	case map[string]any:
		plain := make(map[string]string, len(t))
		for k, raw := range t {
			s, ok := raw.(string)
			if !ok {
				b, err := sonic.Marshal(raw)
				if err != nil {
					return nil, fmt.Errorf("switch_map value for %q: %w", k, err)
				}
				s = string(b)
			}
			plain[k] = s
		}
		return fromUnorderedMap(plain)
	default:
		return nil, fmt.Errorf("switch_map has unsupported type %T", v)
	}
}

func fromUnorderedMap(src map[string]string) (*SwitchMap, error) {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m := NewSwitchMap()
	for _, k := range keys {
		m.Set(k, src[k])
	}
	return m, nil
}
