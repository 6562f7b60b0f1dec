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

package models

import "time"

// Status is the lifecycle state of a ProcessingRecord.
type Status string

const (
	StatusNew         Status = "new"
	StatusClassifying Status = "classifying"
	StatusClassified  Status = "classified"
	StatusGenerating  Status = "generating"
	StatusGenerated   Status = "generated"
	StatusSending     Status = "sending"
	StatusResponded   Status = "responded"
	StatusFailed      Status = "failed"
)

// IsTerminal reports whether the status ends pipeline processing. Terminal
// records only move again through an explicit manual retry.
func (s Status) IsTerminal() bool {
	return s == StatusResponded || s == StatusFailed
}

// IsValid reports whether s is a recognised status.
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusClassifying, StatusClassified, StatusGenerating,
		StatusGenerated, StatusSending, StatusResponded, StatusFailed:
		return true
	}
	return false
}

// transitions defines the forward edges of the state machine. failed is
// reachable from any non-terminal state and is handled separately.
var transitions = map[Status][]Status{
	StatusNew:         {StatusClassifying},
	StatusClassifying: {StatusClassified},
	StatusClassified:  {StatusGenerating},
	StatusGenerating:  {StatusGenerated},
	StatusGenerated:   {StatusSending},
	StatusSending:     {StatusResponded},
	// failed -> new is the manual retry edge.
	StatusFailed: {StatusNew},
}

// CanTransition reports whether a record may move from one status to
// another. Any non-terminal state may move to failed.
func CanTransition(from, to Status) bool {
	if to == StatusFailed {
		return !from.IsTerminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ProcessingRecord is the lifecycle entity, one per InboundMessage. It is
// owned by the pipeline and mutated only through recorded transitions.
type ProcessingRecord struct {
	ID             int64           `json:"id"`
	Message        InboundMessage  `json:"message"`
	Status         Status          `json:"status"`
	Classification *Classification `json:"classification,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Archived       bool            `json:"archived"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
}
