package email

import (
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderVerificationTemplate(t *testing.T) {
	data := VerificationData{
		AppName:         "TrapperTracker",
		VerificationURL: "https://example.com/verify?token=abc123",
	}

	html, err := renderTemplate(verificationEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "TrapperTracker") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "https://example.com/verify?token=abc123") {
		t.Error("template should contain verification URL")
	}
	if !strings.Contains(html, "24 hours") {
		t.Error("template should mention expiration time")
	}
}

func TestRenderReportStatusTemplate(t *testing.T) {
	data := ReportStatusData{
		AppName:     "TrapperTracker",
		Status:      "rejected",
		Description: "Trap spotted near the north trailhead",
		Reason:      "Duplicate of an earlier report",
	}

	html, err := renderTemplate(reportStatusEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "rejected") {
		t.Error("template should contain status")
	}
	if !strings.Contains(html, "north trailhead") {
		t.Error("template should contain the report description")
	}
	if !strings.Contains(html, "Duplicate of an earlier report") {
		t.Error("template should contain the moderator reason")
	}
}

func TestRenderReportStatusTemplateWithoutReason(t *testing.T) {
	data := ReportStatusData{
		AppName:     "TrapperTracker",
		Status:      "approved",
		Description: "Trap spotted near the north trailhead",
	}

	html, err := renderTemplate(reportStatusEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if strings.Contains(html, "Moderator note") {
		t.Error("template should omit the moderator note when no reason is given")
	}
}
