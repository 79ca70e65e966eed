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

// Error reports that a schema could not be built: a bad annotation, an
// unknown structure, or a validator contract violation. It is raised at
// registration time and is fatal to the offending implementation only.
type Error struct {
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return "definition: " + e.Message + ": " + e.Cause.Error()
	}
	return "definition: " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }
