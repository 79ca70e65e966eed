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

package serialization

import (
	"strconv"
	"strings"
)

// ExpandingError reports a wire value that could not be turned into a live
// value. Path locates the offending element inside the port tree.
type ExpandingError struct {
	Path    []string
	Depth   int
	Message string
	Cause   error
}

func (e *ExpandingError) Error() string {
	return "expanding " + pathString(e.Path, e.Depth) + ": " + e.Message + causeSuffix(e.Cause)
}

func (e *ExpandingError) Unwrap() error { return e.Cause }

// ShrinkingError reports a live value that could not be reduced to its wire
// form.
type ShrinkingError struct {
	Path    []string
	Depth   int
	Message string
	Cause   error
}

func (e *ShrinkingError) Error() string {
	return "shrinking " + pathString(e.Path, e.Depth) + ": " + e.Message + causeSuffix(e.Cause)
}

func (e *ShrinkingError) Unwrap() error { return e.Cause }

func pathString(path []string, depth int) string {
	if len(path) == 0 {
		return "(root)"
	}
	return strings.Join(path, ".") + " (depth " + strconv.Itoa(depth) + ")"
}

func causeSuffix(err error) string {
	if err == nil {
		return ""
	}
	return ": " + err.Error()
}
