package domain

import (
	"context"
	"fmt"
	"time"

	"example.com/activityquery/internal/buckets"
)

// ActivityFilter narrows activity reads. Zero-valued fields do not filter.
type ActivityFilter struct {
	// IDs restricts results to the given identifiers when non-empty.
	IDs     []string
	OwnerID string
	Source  string
	// From is inclusive, Until exclusive.
	From  *time.Time
	Until *time.Time
}

// SourceCount is an activity tally for one source.
type SourceCount struct {
	Source string
	Count  int
}

// ActivityReader is the read API over one physical activity store. Entry
// based aggregates only consider entries whose mode matches the store.
type ActivityReader interface {
	// List returns matches ordered by timestamp descending, then id descending.
	List(ctx context.Context, filter ActivityFilter, offset, limit int) ([]Activity, error)
	Count(ctx context.Context, filter ActivityFilter) (int, error)
	CountBySource(ctx context.Context, ownerID string) ([]SourceCount, error)
	// EntryCountBySource counts distinct entries owned by ownerID that
	// reference at least one of the owner's activities per source.
	EntryCountBySource(ctx context.Context, ownerID string) (map[string]int, error)
	// CountByBucket assigns each of the owner's activities to a bucket in a
	// single grouped pass.
	CountByBucket(ctx context.Context, ownerID string, set buckets.Set) (map[buckets.Name]int, error)
	// EntryCountByBucket counts distinct entries with at least one of the
	// owner's activities inside each bucket.
	EntryCountByBucket(ctx context.Context, ownerID string, set buckets.Set) (map[buckets.Name]int, error)
	// SourceCountsByEntry tallies referenced activities per source for each
	// of the given entries in one query.
	SourceCountsByEntry(ctx context.Context, entryIDs []string) (map[string][]SourceCount, error)
}

// EntryListFilter narrows entry listings.
type EntryListFilter struct {
	// Source keeps entries referencing at least one activity of this source
	// in the entry's own store.
	Source string
}

// EntryStore is the journal entry lookup owned by the entry editing flows.
type EntryStore interface {
	// GetEntry returns nil, nil when the entry does not exist.
	GetEntry(ctx context.Context, entryID string) (*JournalEntry, error)
	// ListEntries returns a page of the owner's entries, newest first, and
	// the total matching the same filter.
	ListEntries(ctx context.Context, ownerID string, filter EntryListFilter, offset, limit int) ([]JournalEntry, int, error)
}

// Stores binds each mode to its own physical collection.
type Stores struct {
	sandbox ActivityReader
	live    ActivityReader
}

// NewStores constructs Stores.
func NewStores(sandbox, live ActivityReader) Stores {
	return Stores{sandbox: sandbox, live: live}
}

func (s Stores) handle(mode Mode) (StoreHandle, error) {
	switch mode {
	case ModeSandbox:
		return StoreHandle{mode: ModeSandbox, reader: s.sandbox}, nil
	case ModeLive:
		return StoreHandle{mode: ModeLive, reader: s.live}, nil
	}
	return StoreHandle{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidArgument, mode)
}

// StoreHandle is a reader bound to exactly one store. Handles are only minted
// by the Resolver, so the mode and the collection can never disagree.
type StoreHandle struct {
	mode   Mode
	reader ActivityReader
}

// Mode reports which store the handle reads.
func (h StoreHandle) Mode() Mode {
	return h.mode
}

// Resolver decides which store backs a request.
type Resolver struct {
	entries EntryStore
	stores  Stores
}

// NewResolver constructs a Resolver.
func NewResolver(entries EntryStore, stores Stores) *Resolver {
	return &Resolver{entries: entries, stores: stores}
}

// Resolution is the outcome of resolving an entry.
type Resolution struct {
	Handle StoreHandle
	Entry  JournalEntry
}

// ResolveEntry loads the entry, checks ownership and returns a handle for the
// entry's stored mode. Ownership is checked before any activity is read.
func (r *Resolver) ResolveEntry(ctx context.Context, entryID, callerID string) (Resolution, error) {
	entry, err := r.entries.GetEntry(ctx, entryID)
	if err != nil {
		return Resolution{}, classifyStoreError(ctx, err)
	}
	if entry == nil {
		return Resolution{}, ErrNotFound
	}
	if entry.UserID != callerID {
		return Resolution{}, ErrForbidden
	}
	handle, err := r.stores.handle(entry.Mode)
	if err != nil {
		// Stored data is corrupt; this is not the caller's fault.
		return Resolution{}, fmt.Errorf("entry %s has invalid mode %q: %v", entry.ID, entry.Mode, err)
	}
	return Resolution{Handle: handle, Entry: *entry}, nil
}

// ResolveAggregate returns a handle for a caller declared mode. It exists for
// endpoints with no entry context and must not serve entry scoped reads.
func (r *Resolver) ResolveAggregate(mode Mode) (StoreHandle, error) {
	return r.stores.handle(mode)
}
