/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package draft

import (
	"errors"
	"strings"
)

var (
	// ErrBusy is returned when an operation is requested while another is pending.
	ErrBusy = errors.New("an operation is already in progress")

	ErrEmptyIdea     = errors.New("empty idea")
	ErrNoSelection   = errors.New("no thumbnail selected")
	ErrNoOriginals   = errors.New("no original images")
	ErrIndexRange    = errors.New("thumbnail index out of range")
	ErrInvalidResult = errors.New("invalid service response")
)

// Messages shown for failed preconditions.
const (
	MsgEnterIdea       = "Please enter a video idea"
	MsgSelectThumbnail = "Please select a thumbnail first"
	MsgNoOriginals     = "Generate thumbnails before updating the text"
)

// Fallback messages used when the service gives no detail.
var fallbackMessages = map[Op]string{
	OpGenerate:         "Error generating thumbnails",
	OpRegenerateImages: "Error regenerating images",
	OpRegenerateAll:    "Error regenerating all",
	OpUpdateText:       "Error updating thumbnails",
}

// ValidationError reports a precondition that failed before anything was sent.
type ValidationError struct {
	Op      Op
	Message string
	Err     error
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Unwrap() error { return e.Err }

// OperationError reports a failed service call. Message is what the user sees.
type OperationError struct {
	Op      Op
	Message string
	Err     error
}

func (e *OperationError) Error() string { return string(e.Op) + ": " + e.Message }
func (e *OperationError) Unwrap() error { return e.Err }

// Detailer is implemented by service errors that carry a user-facing detail text.
type Detailer interface {
	ServiceDetail() string
}

// failureMessage picks the service detail when there is one, else the operation fallback.
func failureMessage(op Op, err error) string {
	var d Detailer
	if errors.As(err, &d) {
		if msg := d.ServiceDetail(); strings.TrimSpace(msg) != "" {
			return msg
		}
	}
	return fallbackMessages[op]
}
