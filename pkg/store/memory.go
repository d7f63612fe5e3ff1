package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/HatiCode/snaprotate/pkg/snapshot"
)

// MemoryStore implements an in-memory snapshot store.
// It is safe for concurrent use by multiple goroutines.
//
// Listings are paged with PageSize items per page (all items in one page when
// PageSize <= 0). Created snapshots get CreatedAt from the Clock function so
// tests can pin time.
type MemoryStore struct {
	mu        sync.RWMutex
	instances []string
	snapshots map[string]snapshot.Snapshot
	pageSize  int

	// Clock returns the creation time of new snapshots. Defaults to time.Now.
	Clock func() time.Time

	// Fail, when set, is consulted before every call. A non-nil return is
	// surfaced as the call's error. op is one of "list_instances",
	// "list_snapshots", "create", "delete"; key is the page token or name.
	Fail func(op, key string) error

	created []string
	deleted []string
}

// NewMemoryStore creates an empty store returning pageSize items per page.
func NewMemoryStore(pageSize int) *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]snapshot.Snapshot),
		pageSize:  pageSize,
		Clock:     time.Now,
	}
}

func (m *MemoryStore) Name() string { return "memory" }

// AddInstance registers instance names for ListInstancesPage.
func (m *MemoryStore) AddInstance(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances = append(m.instances, names...)
}

// Seed inserts snapshots as-is, overwriting any with the same name.
func (m *MemoryStore) Seed(snaps ...snapshot.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range snaps {
		m.snapshots[s.Name] = s
	}
}

// ListInstancesPage implements Store.
func (m *MemoryStore) ListInstancesPage(ctx context.Context, pageToken string) (InstancePage, error) {
	if err := m.check(ctx, "list_instances", pageToken); err != nil {
		return InstancePage{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	start, end, next, err := m.window(pageToken, len(m.instances))
	if err != nil {
		return InstancePage{}, err
	}

	out := make([]string, end-start)
	copy(out, m.instances[start:end])
	return InstancePage{Instances: out, NextPageToken: next}, nil
}

// ListSnapshotsPage implements Store. Snapshots are listed in name order so
// paging is stable across calls.
func (m *MemoryStore) ListSnapshotsPage(ctx context.Context, pageToken string) (SnapshotPage, error) {
	if err := m.check(ctx, "list_snapshots", pageToken); err != nil {
		return SnapshotPage{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]snapshot.Snapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	start, end, next, err := m.window(pageToken, len(all))
	if err != nil {
		return SnapshotPage{}, err
	}

	return SnapshotPage{Snapshots: all[start:end], NextPageToken: next}, nil
}

// CreateSnapshot implements Store.
func (m *MemoryStore) CreateSnapshot(ctx context.Context, instanceName, snapshotName string) error {
	if err := m.check(ctx, "create", snapshotName); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.snapshots[snapshotName]; exists {
		return Permanent(fmt.Errorf("%w: %q", ErrAlreadyExists, snapshotName))
	}

	m.snapshots[snapshotName] = snapshot.Snapshot{
		Name:      snapshotName,
		Instance:  instanceName,
		CreatedAt: m.Clock(),
	}
	m.created = append(m.created, snapshotName)
	return nil
}

// DeleteSnapshot implements Store.
func (m *MemoryStore) DeleteSnapshot(ctx context.Context, snapshotName string) error {
	if err := m.check(ctx, "delete", snapshotName); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.snapshots[snapshotName]; !exists {
		return Permanent(fmt.Errorf("snapshot %q not found", snapshotName))
	}

	delete(m.snapshots, snapshotName)
	m.deleted = append(m.deleted, snapshotName)
	return nil
}

// Get returns the snapshot called name.
func (m *MemoryStore) Get(name string) (snapshot.Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[name]
	return s, ok
}

// Len returns the number of snapshots currently stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}

// Created returns the names passed to successful CreateSnapshot calls, in call order.
func (m *MemoryStore) Created() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.created...)
}

// Deleted returns the names passed to successful DeleteSnapshot calls, in call order.
func (m *MemoryStore) Deleted() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.deleted...)
}

func (m *MemoryStore) check(ctx context.Context, op, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if m.Fail != nil {
		return m.Fail(op, key)
	}
	return nil
}

// window resolves a page token (a decimal offset) into slice bounds.
func (m *MemoryStore) window(pageToken string, total int) (start, end int, next string, err error) {
	if pageToken != "" {
		start, err = strconv.Atoi(pageToken)
		if err != nil || start < 0 || start > total {
			return 0, 0, "", Permanent(fmt.Errorf("invalid page token %q", pageToken))
		}
	}

	end = total
	if m.pageSize > 0 && start+m.pageSize < total {
		end = start + m.pageSize
		next = strconv.Itoa(end)
	}
	return start, end, next, nil
}
