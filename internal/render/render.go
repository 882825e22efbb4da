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

// Package render fills the message template for one workbook row.
package render

import "strings"

// Placeholder is the only token substituted in message templates.
const Placeholder = "((FirstName))"

// Fields is the row data available to a template.
type Fields struct {
	FirstName string
}

// Render replaces every Placeholder in tmpl with the row's first name.
// Row data is inserted as-is: the result is sent as HTML without escaping.
func Render(tmpl string, row Fields) string {
	if tmpl == "" {
		return ""
	}
	return strings.ReplaceAll(tmpl, Placeholder, row.FirstName)
}
