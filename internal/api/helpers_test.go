// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

package api

import (
	"net/http/httptest"
	"testing"
)

func TestGenerateETagStable(t *testing.T) {
	data := []byte(`{"status":"success"}`)
	if generateETag(data) != generateETag(data) {
		t.Fatal("same payload produced different ETags")
	}
	if generateETag(data) == generateETag([]byte(`{"status":"error"}`)) {
		t.Fatal("different payloads produced the same ETag")
	}
}

func TestGetIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"limit=25", 25},
		{"limit=", 10},
		{"limit=abc", 10},
		{"", 10},
		{"limit=-5", -5},
	}
	for _, tc := range tests {
		r := httptest.NewRequest("GET", "/?"+tc.query, nil)
		if got := getIntParam(r, "limit", 10); got != tc.want {
			t.Errorf("getIntParam(%q) = %d, want %d", tc.query, got, tc.want)
		}
	}
}

func TestSanitizeLogValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"with\nnewline", "with\\x0anewline"},
		{"tab\there", "tab\\x09here"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := sanitizeLogValue(tc.in); got != tc.want {
			t.Errorf("sanitizeLogValue(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidateRequestReportsFields(t *testing.T) {
	req := listRequest{Limit: 0}
	apiErr := validateRequest(&req)
	if apiErr == nil {
		t.Fatal("expected validation error for Limit=0")
	}
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %q", apiErr.Code)
	}
}
