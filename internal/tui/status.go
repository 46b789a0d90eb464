package tui

import (
	"fmt"
	"strings"
)

// StatusKind indicates severity for one-line status messages.
type StatusKind int

const (
	StatusInfo StatusKind = iota
	StatusSuccess
	StatusWarn
	StatusError
)

func (k StatusKind) marker() string {
	switch k {
	case StatusSuccess:
		return "✓"
	case StatusWarn:
		return "!"
	case StatusError:
		return "✗"
	default:
		return "›"
	}
}

// RenderStatus prefixes msg with a severity marker in the matching color.
func RenderStatus(kind StatusKind, msg string) string {
	line := kind.marker() + " " + msg
	switch kind {
	case StatusSuccess:
		return StatusSuccessStyle.Render(line)
	case StatusWarn:
		return StatusWarnStyle.Render(line)
	case StatusError:
		return StatusErrorStyle.Render(line)
	default:
		return StatusInfoStyle.Render(line)
	}
}

// Canonical short status messages used across the commands.
const (
	MsgRefreshing      = "Refreshing…"
	MsgAlreadyRunning  = "A refresh is already running"
	MsgNoResults       = "No results"
	MsgNothingPending  = "Nothing pending"
	MsgFeedRenamed     = "Feed renamed"
	MsgFeedRemoved     = "Feed removed"
	MsgFeedMoved       = "Feed moved"
	MsgFolderRenamed   = "Folder renamed"
	MsgFolderRemoved   = "Folder removed"
	MsgRefreshCanceled = "Refresh canceled"
)

func MsgAddedFeed(title string, count int) string {
	return fmt.Sprintf("Added feed '%s' (%d articles)", strings.TrimSpace(title), count)
}

func MsgAddedFolder(name string) string {
	return fmt.Sprintf("Created folder '%s'", strings.TrimSpace(name))
}

func MsgResultsCount(n int) string {
	if n == 1 {
		return "1 result"
	}
	return fmt.Sprintf("%d results", n)
}

func MsgMarked(changed, requested int, what string) string {
	return fmt.Sprintf("Marked %d of %d articles %s", changed, requested, what)
}

func MsgFlushed(before, after int) string {
	return fmt.Sprintf("Sent %d pending changes • %d still pending", before-after, after)
}

func MsgRefreshSummary(feeds, articles, unread, pending, docCount int) string {
	base := fmt.Sprintf("Refreshed: %d feeds • %d articles • %d unread", feeds, articles, unread)
	if pending > 0 {
		base += fmt.Sprintf(" • %d pending", pending)
	}
	if docCount >= 0 {
		base += fmt.Sprintf(" • idx: %d docs", docCount)
	}
	return base
}

func MsgImportSummary(folders, feeds, skipped, failed int) string {
	base := fmt.Sprintf("Imported %d feeds into %d new folders", feeds, folders)
	if skipped > 0 {
		base += fmt.Sprintf(" • %d already subscribed", skipped)
	}
	if failed > 0 {
		base += fmt.Sprintf(" • %d failed", failed)
	}
	return base
}
