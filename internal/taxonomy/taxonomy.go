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

// Package taxonomy holds the versioned classification category tree. The
// tree is configuration data consumed by the classifier adapter, so category
// changes ship as data rather than code.
package taxonomy

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FallbackCategory and FallbackSubCategory are the categories assigned when
// the oracle fails or returns something outside the tree.
const (
	FallbackCategory    = "Other"
	FallbackSubCategory = "Unknown"
)

// Taxonomy is a versioned main-category -> sub-category tree.
type Taxonomy struct {
	Version    string              `yaml:"version"`
	Categories map[string][]string `yaml:"categories"`
}

// Default returns the built-in taxonomy used when no file is configured.
func Default() *Taxonomy {
	return &Taxonomy{
		Version: "builtin-1",
		Categories: map[string][]string{
			"Account_Issues": {
				"Login_Problems", "Password_Reset", "Email_Change",
				"Account_Recovery", "Account_Deletion",
			},
			"Payment_Billing": {
				"Refund_Request", "Payment_Failed", "Subscription_Issues",
				"Billing_Questions", "Credit_Purchase",
			},
			"Technical_Issues": {
				"App_Not_Working", "Call_Problems", "SMS_Issues",
				"Activation_Error", "Connection_Problems",
			},
			"Number_Management": {
				"Number_Change", "Multiple_Numbers", "Number_Retrieval",
				"Port_Number", "Number_Cancellation",
			},
			"Service_Questions": {
				"Features_Inquiry", "Pricing_Questions", "Coverage_Area",
				"Service_Comparison", "Usage_Instructions",
			},
			"WhatsApp_Related": {
				"Verification_Issues", "OTP_Problems", "WhatsApp_Ban",
				"Registration_Error", "WhatsApp_Setup",
			},
			FallbackCategory: {FallbackSubCategory, "General"},
		},
	}
}

// Load reads a taxonomy YAML file. An empty path returns the default tree.
func Load(path string) (*Taxonomy, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy file %s: %w", path, err)
	}

	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse taxonomy YAML: %w", err)
	}
	if len(t.Categories) == 0 {
		return nil, fmt.Errorf("taxonomy %s defines no categories", path)
	}

	// The fallback pair must always exist so classification can degrade.
	if !t.Contains(FallbackCategory, FallbackSubCategory) {
		t.Categories[FallbackCategory] = append(t.Categories[FallbackCategory], FallbackSubCategory)
	}

	return &t, nil
}

// Contains reports whether the main/sub category pair is part of the tree.
func (t *Taxonomy) Contains(main, sub string) bool {
	subs, ok := t.Categories[main]
	if !ok {
		return false
	}
	for _, s := range subs {
		if s == sub {
			return true
		}
	}
	return false
}

// MainCategories returns the main category names in sorted order.
func (t *Taxonomy) MainCategories() []string {
	names := make([]string, 0, len(t.Categories))
	for name := range t.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PromptBlock renders the tree as an indented list for the classifier
// prompt.
func (t *Taxonomy) PromptBlock() string {
	var sb strings.Builder
	for _, main := range t.MainCategories() {
		sb.WriteString(main)
		sb.WriteString(":\n")
		for _, sub := range t.Categories[main] {
			sb.WriteString("  - ")
			sb.WriteString(sub)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
