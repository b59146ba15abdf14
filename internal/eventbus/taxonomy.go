package eventbus

// Kind represents a canonical notification kind published on the bus.
type Kind string

// Canonical notification kinds: status changes, progress pulses,
// paste/multiline detection from the input layer, and surfaced errors.
const (
	KindStatusChange    Kind = "status-change"
	KindProgress        Kind = "progress"
	KindPasteDetected   Kind = "paste-detected"
	KindMultilineBegin  Kind = "multiline-begin"
	KindMultilineEnd    Kind = "multiline-end"
	KindError           Kind = "error"
)

// AllKinds returns every valid notification kind.
func AllKinds() map[Kind]bool {
	return map[Kind]bool{
		KindStatusChange:   true,
		KindProgress:       true,
		KindPasteDetected:  true,
		KindMultilineBegin: true,
		KindMultilineEnd:   true,
		KindError:          true,
	}
}

// IsValidKind reports whether k is one of the canonical notification kinds.
func IsValidKind(k string) bool {
	return AllKinds()[Kind(k)]
}

// NormalizeKind maps loose string spellings (singular/legacy aliases) to
// their canonical Kind, following the same normalize-on-ingest shape as
// other taxonomy lookups in this codebase.
func NormalizeKind(s string) (Kind, bool) {
	switch s {
	case "status", "status_change", "status-change":
		return KindStatusChange, true
	case "progress":
		return KindProgress, true
	case "paste", "paste_detected", "paste-detected":
		return KindPasteDetected, true
	case "multiline_begin", "multiline-begin":
		return KindMultilineBegin, true
	case "multiline_end", "multiline-end":
		return KindMultilineEnd, true
	case "error":
		return KindError, true
	default:
		return "", false
	}
}
