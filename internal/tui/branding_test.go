package tui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/fwrdsync/internal/config"
)

func TestShowBanner(t *testing.T) {
	var buf bytes.Buffer
	ShowBanner(&buf, "1.0.0-test")
	out := buf.String()

	if !strings.Contains(out, "Feed Sync Engine") {
		t.Errorf("Expected banner to contain 'Feed Sync Engine', got: %s", out)
	}
	// Check for border characters
	if !strings.Contains(out, "╔") || !strings.Contains(out, "╝") {
		t.Errorf("Expected banner to contain border characters, got: %s", out)
	}
	if !strings.Contains(out, "◆") {
		t.Errorf("Expected banner to contain separator symbols, got: %s", out)
	}
	if !strings.Contains(out, "v1.0.0-test") {
		t.Errorf("Expected banner to contain version 'v1.0.0-test', got: %s", out)
	}
}

func TestBanner_DevVersionHasNoTag(t *testing.T) {
	out := Banner("dev")
	if strings.Contains(out, "vdev") {
		t.Errorf("dev build should not carry a version tag, got: %s", out)
	}
	if !strings.Contains(out, "▄████") {
		t.Errorf("Expected banner to contain logo elements, got: %s", out)
	}
}

func TestApplyTheme(t *testing.T) {
	defaults := config.TestConfig().UI.Colors
	t.Cleanup(func() { ApplyTheme(defaults) })

	before := SecondaryColor
	ApplyTheme(config.UIColors{Primary: "#000001"})

	if PrimaryColor != lipgloss.Color("#000001") {
		t.Errorf("PrimaryColor = %s, want #000001", PrimaryColor)
	}
	if SecondaryColor != before {
		t.Errorf("empty entries should keep the current color, got %s", SecondaryColor)
	}
}

func TestLogoConstants(t *testing.T) {
	if len(LogoLines) != 5 {
		t.Errorf("Expected 5 logo lines, got %d", len(LogoLines))
	}
	if len(BannerColors) != 5 {
		t.Errorf("Expected 5 banner colors, got %d", len(BannerColors))
	}
}
