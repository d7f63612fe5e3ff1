// Package store provides the snapshot store backends snaprotate talks to.
//
// A Store lists instances and snapshots page by page, and creates or deletes
// snapshots by name. Available backends:
//   - LightsailStore: AWS Lightsail instance snapshots via aws-sdk-go-v2
//   - HTTPStore: any REST API returning JSON, decoded with gjson paths
//   - MemoryStore: in-process store for tests and local dry runs
//
// Backends are kept thin. Grouping, retention and rotation live in the
// backup, retention and rotation packages.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/HatiCode/snaprotate/pkg/snapshot"
)

var (
	// ErrUnknownKind is returned by New for an unsupported backend kind.
	ErrUnknownKind = errors.New("unknown store kind")

	// ErrRepeatedPageToken is returned by listing walks when a store hands
	// back a page token it already returned.
	ErrRepeatedPageToken = errors.New("repeated page token")

	// ErrAlreadyExists is returned by CreateSnapshot when the name is taken.
	ErrAlreadyExists = errors.New("snapshot already exists")
)

// InstancePage is one page of instance names.
type InstancePage struct {
	Instances     []string
	NextPageToken string
}

// SnapshotPage is one page of snapshots. An empty NextPageToken means there
// are no further pages.
type SnapshotPage struct {
	Snapshots     []snapshot.Snapshot
	NextPageToken string
}

// Store is the interface that all snapshot backends must implement.
//
// All calls are request/response and must respect context cancellation.
type Store interface {
	// ListInstancesPage returns the page of instances starting at pageToken.
	// An empty pageToken requests the first page.
	ListInstancesPage(ctx context.Context, pageToken string) (InstancePage, error)

	// ListSnapshotsPage returns the page of snapshots starting at pageToken.
	ListSnapshotsPage(ctx context.Context, pageToken string) (SnapshotPage, error)

	// CreateSnapshot requests a new snapshot of instanceName.
	CreateSnapshot(ctx context.Context, instanceName, snapshotName string) error

	// DeleteSnapshot removes the snapshot called snapshotName.
	DeleteSnapshot(ctx context.Context, snapshotName string) error

	// Name returns a short identifier for the backend, e.g. "lightsail".
	Name() string
}

// ListAllInstances walks every instance page and returns the names in the
// order the store returned them. Any page failure aborts the walk, as does a
// page token the store already returned.
func ListAllInstances(ctx context.Context, s Store) ([]string, error) {
	var (
		names []string
		token string
	)
	seen := make(map[string]struct{})
	for page := 1; ; page++ {
		p, err := s.ListInstancesPage(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("list instances page %d: %w", page, err)
		}
		names = append(names, p.Instances...)
		if p.NextPageToken == "" {
			return names, nil
		}
		if _, dup := seen[p.NextPageToken]; dup {
			return nil, fmt.Errorf("list instances page %d: %w %q", page, ErrRepeatedPageToken, p.NextPageToken)
		}
		seen[p.NextPageToken] = struct{}{}
		token = p.NextPageToken
	}
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so WithRetry gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
