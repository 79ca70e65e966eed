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

package state

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arkitektio/rekuest-go/pkg/definition"
)

// EscapeToken escapes one JSON Pointer reference token per RFC 6901.
func EscapeToken(token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	return strings.ReplaceAll(token, "/", "~1")
}

// UnescapeToken reverses EscapeToken.
func UnescapeToken(token string) string {
	token = strings.ReplaceAll(token, "~1", "/")
	return strings.ReplaceAll(token, "~0", "~")
}

// SplitPath splits an RFC 6901 pointer into unescaped tokens. The empty
// pointer yields no tokens.
func SplitPath(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("state: path %q does not start with /", path)
	}
	raw := strings.Split(path[1:], "/")
	tokens := make([]string, len(raw))
	for i, tok := range raw {
		tokens[i] = UnescapeToken(tok)
	}
	return tokens, nil
}

// JoinPath builds an RFC 6901 pointer from unescaped tokens.
func JoinPath(tokens ...string) string {
	var b strings.Builder
	for _, tok := range tokens {
		b.WriteByte('/')
		b.WriteString(EscapeToken(tok))
	}
	return b.String()
}

// PortForPath resolves the port governing the value at path. The first token
// selects a top-level port by key; list indices and the append token resolve
// to the list's child, dict keys to the dict's child, model fields to the
// matching child port.
func PortForPath(ports []definition.Port, path string) (definition.Port, error) {
	tokens, err := SplitPath(path)
	if err != nil {
		return definition.Port{}, err
	}
	if len(tokens) == 0 {
		return definition.Port{}, fmt.Errorf("state: empty path has no port")
	}

	var current definition.Port
	found := false
	for _, p := range ports {
		if p.Key == tokens[0] {
			current = p
			found = true
			break
		}
	}
	if !found {
		return definition.Port{}, fmt.Errorf("state: no port for key %q", tokens[0])
	}

	for _, tok := range tokens[1:] {
		switch current.Kind {
		case definition.KindList:
			if tok != "-" {
				if _, err := strconv.Atoi(tok); err != nil {
					return definition.Port{}, fmt.Errorf(
						"state: %q is not a list index under %q", tok, current.Key)
				}
			}
			current = current.Children[0]
		case definition.KindDict:
			current = current.Children[0]
		case definition.KindModel:
			next, ok := childByKey(current.Children, tok)
			if !ok {
				return definition.Port{}, fmt.Errorf(
					"state: model %q has no field %q", current.Key, tok)
			}
			current = next
		default:
			return definition.Port{}, fmt.Errorf(
				"state: cannot descend into %s port %q with %q", current.Kind, current.Key, tok)
		}
	}
	return current, nil
}

func childByKey(ports []definition.Port, key string) (definition.Port, bool) {
	for _, p := range ports {
		if p.Key == key {
			return p, true
		}
	}
	return definition.Port{}, false
}
