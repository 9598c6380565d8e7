package model

import "strings"

// EventKind classifies the originating source family of a disclosure event.
type EventKind string

const (
	EventKindSEC   EventKind = "SEC"
	EventKindPR    EventKind = "PR"
	EventKindOther EventKind = "OTHER"
)

// KindForSource maps a raw source tag to its event kind.
func KindForSource(source string) EventKind {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "sec", "sec-edgar", "edgar":
		return EventKindSEC
	case "pr", "newsroomrss", "press":
		return EventKindPR
	default:
		return EventKindOther
	}
}

// SourceFamily returns the short source tag ("sec", "pr", "") used to select
// hardening policy defaults.
func (k EventKind) SourceFamily() string {
	switch k {
	case EventKindSEC:
		return "sec"
	case EventKindPR:
		return "pr"
	default:
		return ""
	}
}
