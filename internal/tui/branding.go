package tui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/fwrdsync/internal/config"
)

const AppName = "fwrdsync"

// LogoLines is the canonical banner art.
var LogoLines = []string{
	" ▄████ ▄     ▄▄▄▄▄▄   ▄████▄▄",
	"██▀    ██  ▄ ██   ▀██ ██   ▀██",
	"██▀▀▀▀ ██ ███ ██▀▀▀█ ██    ██",
	"██     ███████ ██   ██ ██   ██",
	"██      ██ ██  ██   ██ ███████",
}

// Banner gradient colors
var BannerColors = []lipgloss.Color{
	lipgloss.Color("#FF6B6B"),
	lipgloss.Color("#FFA86B"),
	lipgloss.Color("#95E1D3"),
	lipgloss.Color("#4ECDC4"),
	lipgloss.Color("#FF6B6B"),
}

// Theme colors. ApplyTheme replaces them from the [ui.colors] config.
var (
	PrimaryColor   = lipgloss.Color("#FF6B6B")
	SecondaryColor = lipgloss.Color("#4ECDC4")
	AccentColor    = lipgloss.Color("#95E1D3")
	TextColor      = lipgloss.Color("#EAEAEA")
	MutedColor     = lipgloss.Color("#94A3B8")
	ErrorColor     = lipgloss.Color("#F87171")
	SuccessColor   = lipgloss.Color("#4ADE80")

	UnreadColor = lipgloss.Color("#FFE66D")
	ReadColor   = lipgloss.Color("#64748B")
)

var (
	LogoStyle          lipgloss.Style
	HeaderStyle        lipgloss.Style
	FolderStyle        lipgloss.Style
	FeedTitleStyle     lipgloss.Style
	UnreadItemStyle    lipgloss.Style
	ReadItemStyle      lipgloss.Style
	StarStyle          lipgloss.Style
	MutedStyle         lipgloss.Style
	TimeStyle          lipgloss.Style
	KeyStyle           lipgloss.Style
	StatusInfoStyle    lipgloss.Style
	StatusSuccessStyle lipgloss.Style
	StatusWarnStyle    lipgloss.Style
	StatusErrorStyle   lipgloss.Style
)

func init() {
	buildStyles()
}

// ApplyTheme sets the palette from config; empty entries keep the default.
func ApplyTheme(c config.UIColors) {
	set := func(dst *lipgloss.Color, v string) {
		if v != "" {
			*dst = lipgloss.Color(v)
		}
	}
	set(&PrimaryColor, c.Primary)
	set(&SecondaryColor, c.Secondary)
	set(&AccentColor, c.Accent)
	set(&TextColor, c.Text)
	set(&MutedColor, c.Muted)
	set(&ErrorColor, c.Error)
	set(&SuccessColor, c.Success)
	buildStyles()
}

func buildStyles() {
	LogoStyle = lipgloss.NewStyle().Foreground(PrimaryColor).Bold(true)
	HeaderStyle = lipgloss.NewStyle().Foreground(SecondaryColor).Bold(true)
	FolderStyle = lipgloss.NewStyle().Foreground(PrimaryColor).Bold(true)
	FeedTitleStyle = lipgloss.NewStyle().Foreground(SecondaryColor)
	UnreadItemStyle = lipgloss.NewStyle().Foreground(UnreadColor).Bold(true)
	ReadItemStyle = lipgloss.NewStyle().Foreground(ReadColor)
	StarStyle = lipgloss.NewStyle().Foreground(UnreadColor)
	MutedStyle = lipgloss.NewStyle().Foreground(MutedColor)
	TimeStyle = lipgloss.NewStyle().Foreground(MutedColor).Faint(true)
	KeyStyle = lipgloss.NewStyle().Foreground(AccentColor).Width(18)

	StatusInfoStyle = lipgloss.NewStyle().Foreground(MutedColor)
	StatusSuccessStyle = lipgloss.NewStyle().Foreground(SuccessColor)
	StatusWarnStyle = lipgloss.NewStyle().Foreground(UnreadColor)
	StatusErrorStyle = lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)
}

// Banner renders the logo framed with a version tagline.
func Banner(version string) string {
	lines := make([]string, len(LogoLines)+1)
	copy(lines, LogoLines)

	versionTag := version
	if versionTag != "" && versionTag != "dev" {
		if versionTag[0] != 'v' && versionTag[0] != 'V' {
			versionTag = "v" + versionTag
		}
		lines = append(lines, fmt.Sprintf("    Feed Sync Engine %s", versionTag))
	} else {
		lines = append(lines, "    Feed Sync Engine")
	}

	coloredLines := make([]string, 0, len(lines))
	for i, line := range lines {
		if line == "" {
			coloredLines = append(coloredLines, line)
			continue
		}
		style := lipgloss.NewStyle().
			Foreground(BannerColors[i%len(BannerColors)]).
			Bold(i < len(LogoLines))
		coloredLines = append(coloredLines, style.Render(line))
	}

	borderStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(SecondaryColor).
		Padding(1, 3).
		MarginTop(1)

	banner := borderStyle.Render(lipgloss.JoinVertical(lipgloss.Center, coloredLines...))
	separator := lipgloss.NewStyle().Foreground(AccentColor).Render("◆ ◇ ◆ ◇ ◆")

	center := lipgloss.NewStyle().Width(70).Align(lipgloss.Center)
	return lipgloss.JoinVertical(lipgloss.Left,
		center.Render(banner),
		center.MarginBottom(1).Render(separator),
	)
}

func ShowBanner(w io.Writer, version string) {
	fmt.Fprintln(w, Banner(version))
}
