/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package draft

import (
	"testing"
	"time"
)

func TestOrdinalDate(t *testing.T) {
	cases := []struct {
		day  int
		want string
	}{
		{1, "1st July, 2025"},
		{2, "2nd July, 2025"},
		{3, "3rd July, 2025"},
		{4, "4th July, 2025"},
		{6, "6th July, 2025"},
		{11, "11th July, 2025"},
		{12, "12th July, 2025"},
		{13, "13th July, 2025"},
		{21, "21st July, 2025"},
		{22, "22nd July, 2025"},
		{23, "23rd July, 2025"},
		{30, "30th July, 2025"},
		{31, "31st July, 2025"},
	}
	for _, tc := range cases {
		d := time.Date(2025, time.July, tc.day, 12, 0, 0, 0, time.UTC)
		if got := OrdinalDate(d); got != tc.want {
			t.Errorf("OrdinalDate(%d) = %q, want %q", tc.day, got, tc.want)
		}
	}
}
