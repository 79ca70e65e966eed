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

package actors

import "fmt"

// AssignmentError marks a failure the implementation wants reported as a
// recoverable ERROR rather than a CRITICAL. Wrap or return one to signal
// "this assignment failed, the actor is fine".
type AssignmentError struct {
	Message string
	Cause   error
}

// Errorf builds an AssignmentError from a format string.
func Errorf(format string, args ...any) *AssignmentError {
	return &AssignmentError{Message: fmt.Sprintf(format, args...)}
}

func (e *AssignmentError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *AssignmentError) Unwrap() error { return e.Cause }
