// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package definition

import (
	"fmt"
	"strings"
)

// Validator is a client-side validation expression attached to a port. The
// function is a JS-style arrow expression whose first parameter is the port's
// own value; any further parameters must be declared as dependencies and
// name sibling port keys.
type Validator struct {
	Function     string   `json:"function"`
	Dependencies []string `json:"dependencies,omitempty"`
	Label        string   `json:"label,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
}

// params extracts the parameter names from the arrow expression, e.g.
// "(self, other) => self > other" yields ["self", "other"].
func (v Validator) params() ([]string, error) {
	fn := strings.TrimSpace(v.Function)
	open := strings.Index(fn, "(")
	closeIdx := strings.Index(fn, ")")
	if open != 0 || closeIdx < 0 || !strings.Contains(fn[closeIdx:], "=>") {
		return nil, fmt.Errorf("validator %q is not an arrow expression", v.Function)
	}
	inner := strings.TrimSpace(fn[open+1 : closeIdx])
	if inner == "" {
		return nil, fmt.Errorf("validator %q takes no parameters, expected at least the port value", v.Function)
	}
	parts := strings.Split(inner, ",")
	params := make([]string, 0, len(parts))
	for _, p := range parts {
		params = append(params, strings.TrimSpace(p))
	}
	return params, nil
}

// checkValidators enforces the validator contract for one port against its
// siblings: declared dependencies must match the parameter list minus the
// leading self parameter, and each dependency must exist as a sibling key.
// Violations are fatal at build time.
func checkValidators(port Port, siblings []Port) error {
	for _, v := range port.Validators {
		params, err := v.params()
		if err != nil {
			return &Error{Message: fmt.Sprintf("port %q: %v", port.Key, err)}
		}
		wanted := params[1:]
		if len(wanted) != len(v.Dependencies) {
			return &Error{Message: fmt.Sprintf(
				"port %q: validator %q declares %d dependencies but takes %d extra parameters",
				port.Key, v.Function, len(v.Dependencies), len(wanted))}
		}
		for i, dep := range wanted {
			if v.Dependencies[i] != dep {
				return &Error{Message: fmt.Sprintf(
					"port %q: validator parameter %q does not match declared dependency %q",
					port.Key, dep, v.Dependencies[i])}
			}
			if !hasKey(siblings, dep) {
				return &Error{Message: fmt.Sprintf(
					"port %q: validator dependency %q is not a sibling port", port.Key, dep)}
			}
		}
	}
	return nil
}

func hasKey(ports []Port, key string) bool {
	for _, p := range ports {
		if p.Key == key {
			return true
		}
	}
	return false
}
