// Copyright (c) 2026 John Earle
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

package dispatch

import (
	"errors"
	"fmt"
)

// Kind classifies a run-fatal error.
type Kind string

const (
	KindAuth   Kind = "auth"   // credential gate refused
	KindConfig Kind = "config" // service account missing or unresolvable
	KindStore  Kind = "store"  // workbook could not be read or written
	KindLock   Kind = "lock"   // another run holds the workbook

	KindCancelled Kind = "cancelled" // stopped before every row was attempted
)

// RunError aborts a whole run. Row-level failures are never RunErrors; they
// become a Failed outcome on the row and the loop moves on.
type RunError struct {
	Kind Kind
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func runErr(kind Kind, format string, args ...any) error {
	return &RunError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of a run error, or "" for anything else.
func KindOf(err error) Kind {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
