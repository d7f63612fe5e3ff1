// Package backup builds the per-instance snapshot history a rotation run works
// from.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/HatiCode/snaprotate/pkg/snapshot"
	"github.com/HatiCode/snaprotate/pkg/store"
)

// ErrIncompleteListing is returned when any page of the snapshot listing
// fails. Acting on a partial listing could delete snapshots that should be
// kept, so callers must abort before mutating the store.
var ErrIncompleteListing = errors.New("incomplete snapshot listing")

// Index maps instance names to their managed snapshots, oldest first.
// It is not modified after Load returns.
type Index struct {
	byInstance map[string][]snapshot.Snapshot
	total      int
}

// Load pages through every snapshot in s and keeps the managed ones owned by
// an instance in targets. A store that repeats a page token fails the
// listing.
func Load(ctx context.Context, s store.Store, targets []string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	inScope := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		inScope[t] = struct{}{}
	}

	idx := &Index{byInstance: make(map[string][]snapshot.Snapshot)}
	var (
		token                 string
		pages, seen           int
		unmanaged, outOfScope int
	)
	tokens := make(map[string]struct{})

	for {
		pages++
		page, err := s.ListSnapshotsPage(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %w", ErrIncompleteListing, pages, err)
		}

		for _, snap := range page.Snapshots {
			seen++
			if !snap.IsManaged() {
				unmanaged++
				continue
			}
			if _, ok := inScope[snap.Instance]; !ok {
				outOfScope++
				continue
			}
			idx.byInstance[snap.Instance] = append(idx.byInstance[snap.Instance], snap)
			idx.total++
		}

		if page.NextPageToken == "" {
			break
		}
		if _, dup := tokens[page.NextPageToken]; dup {
			return nil, fmt.Errorf("%w: page %d: %w %q", ErrIncompleteListing, pages, store.ErrRepeatedPageToken, page.NextPageToken)
		}
		tokens[page.NextPageToken] = struct{}{}
		token = page.NextPageToken
	}

	for _, history := range idx.byInstance {
		snapshot.SortByCreated(history)
	}

	logger.Debug("snapshot index loaded",
		"store", s.Name(),
		"pages", pages,
		"seen", seen,
		"managed", idx.total,
		"unmanaged_skipped", unmanaged,
		"out_of_scope_skipped", outOfScope,
		"instances", len(idx.byInstance),
	)

	return idx, nil
}

// History returns a copy of instance's snapshots, oldest first. Unknown
// instances have an empty history.
func (i *Index) History(instance string) []snapshot.Snapshot {
	h := i.byInstance[instance]
	out := make([]snapshot.Snapshot, len(h))
	copy(out, h)
	return out
}

// Latest returns the newest snapshot of instance.
func (i *Index) Latest(instance string) (snapshot.Snapshot, bool) {
	h := i.byInstance[instance]
	if len(h) == 0 {
		return snapshot.Snapshot{}, false
	}
	return h[len(h)-1], true
}

// Instances returns the names of instances with at least one managed
// snapshot, sorted.
func (i *Index) Instances() []string {
	names := make([]string, 0, len(i.byInstance))
	for name := range i.byInstance {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of managed, in-scope snapshots.
func (i *Index) Len() int { return i.total }
