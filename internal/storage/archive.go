// Package storage groups the persistence backends: memory and postgres for
// poller state, gcs/local/memory for raw payload archives.
package storage

import (
	"fmt"
	"path"
	"time"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

// ArchivePath returns the object path for a raw upstream payload:
// raw/{platform}/{yyyy}/{mm}/{dd}/{operation}/{target id}-{unix nanos}.json.
func ArchivePath(target poller.Target, at time.Time) string {
	at = at.UTC()
	name := fmt.Sprintf("%s-%d.json", sanitize(target.ID), at.UnixNano())
	return path.Join("raw", string(target.Platform), at.Format("2006/01/02"), string(target.Operation), name)
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}
