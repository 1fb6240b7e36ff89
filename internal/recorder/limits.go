package recorder

import (
	"unicode/utf8"

	"perftrail/internal/models"
)

// maxIdentityLen is the width of the indexed text columns holding labels,
// routes, job names and the target id built from them.
const maxIdentityLen = 191

// clip shortens s to at most n runes.
func clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// clipIdentity keeps every identity column of root, and the target id
// joined from them, within maxIdentityLen runes.
func clipIdentity(root *models.TraceRoot) {
	switch root.Kind {
	case models.RootJobRun:
		root.Queue = clip(root.Queue, maxIdentityLen/2)
		queue := root.Queue
		if queue == "" {
			queue = "default"
		}
		root.JobName = clip(root.JobName, maxIdentityLen-utf8.RuneCountInString(queue)-1)
	default:
		root.Route = clip(root.Route, maxIdentityLen)
		root.Action = clip(root.Action, maxIdentityLen-utf8.RuneCountInString(root.Route)-1)
	}
}
