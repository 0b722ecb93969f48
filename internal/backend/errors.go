/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package backend

import (
	"encoding/json"
	"fmt"
	"strings"
)

// APIError is a failed call to the generation service. Detail carries the server's
// own explanation when it sent one.
type APIError struct {
	StatusCode int
	Path       string
	Detail     string
	Reason     string
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Reason
	}
	return fmt.Sprintf("generation service %s: %d %s", e.Path, e.StatusCode, msg)
}

func (e *APIError) Unwrap() error { return e.Err }

// ServiceDetail returns the server-provided detail text, if any.
func (e *APIError) ServiceDetail() string { return e.Detail }

// parseDetail extracts "detail" from an error body. FastAPI sends either a string
// or a list of validation errors with a "msg" each.
func parseDetail(body []byte) string {
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(env.Detail, &s); err == nil {
		return s
	}
	var items []struct {
		Loc []any  `json:"loc"`
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(env.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg == "" {
				continue
			}
			if n := len(it.Loc); n > 0 {
				msgs = append(msgs, fmt.Sprintf("%v: %s", it.Loc[n-1], it.Msg))
			} else {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}
