// Package snapshot defines the instance snapshot record shared by the store
// backends, the backup index and the rotation controller.
//
// Only snapshots whose name ends with [ManagedSuffix] are considered managed.
// Everything else found in a provider account is left alone.
package snapshot

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ManagedSuffix marks snapshots created (and therefore owned) by snaprotate.
const ManagedSuffix = "-autosnap"

// Snapshot is a single point-in-time copy of an instance.
type Snapshot struct {
	Name      string    `json:"name"`
	Instance  string    `json:"instance"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsManaged reports whether the snapshot carries the managed marker.
func (s Snapshot) IsManaged() bool {
	return IsManagedName(s.Name)
}

// IsManagedName reports whether name carries the managed marker.
func IsManagedName(name string) bool {
	return strings.HasSuffix(name, ManagedSuffix)
}

// NewName builds the name of the snapshot created for instance at now.
// Example: "web-1-1710460800000-autosnap".
func NewName(instance string, now time.Time) string {
	return fmt.Sprintf("%s-%d%s", instance, now.UnixMilli(), ManagedSuffix)
}

// SortByCreated sorts snapshots oldest first. Equal timestamps are ordered by
// name so the result is stable for a given input regardless of page order.
func SortByCreated(snaps []Snapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
		}
		return snaps[i].Name < snaps[j].Name
	})
}
