// Package postgres implements the entry and activity read stores on
// PostgreSQL. Every read runs inside a read-only transaction; this service
// never writes to the shared tables.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/activityquery/internal/buckets"
	"example.com/activityquery/internal/domain"
	"example.com/activityquery/internal/observability"
)

// Table names are fixed per mode and never derived from input.
var activityTables = map[domain.Mode]string{
	domain.ModeSandbox: "sandbox_activities",
	domain.ModeLive:    "activities",
}

const activityColumns = `id, user_id, source, source_id, source_url, title, description, occurred_at, cross_tool_refs`

const entryColumns = `id, user_id, title, activity_ids, source_mode, grouping_method, time_range_start, time_range_end, created_at, updated_at`

// NewStores builds the sandbox and live readers over pool.
func NewStores(pool *pgxpool.Pool) domain.Stores {
	return domain.NewStores(NewActivityStore(pool, domain.ModeSandbox), NewActivityStore(pool, domain.ModeLive))
}

func readOnly(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// EntryRepository reads journal entries.
type EntryRepository struct {
	pool *pgxpool.Pool
}

// NewEntryRepository constructs an EntryRepository.
func NewEntryRepository(pool *pgxpool.Pool) *EntryRepository {
	return &EntryRepository{pool: pool}
}

// GetEntry implements domain.EntryStore.
func (r *EntryRepository) GetEntry(ctx context.Context, entryID string) (*domain.JournalEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM journal_entries WHERE id=$1`

	var entry *domain.JournalEntry
	err := readOnly(ctx, r.pool, func(tx pgx.Tx) error {
		scanned, err := scanEntry(tx.QueryRow(ctx, query, entryID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		entry = &scanned
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListEntries implements domain.EntryStore.
func (r *EntryRepository) ListEntries(ctx context.Context, ownerID string, filter domain.EntryListFilter, offset, limit int) ([]domain.JournalEntry, int, error) {
	where := `e.user_id=$1 AND ($2 = ''
        OR (e.source_mode = 'live' AND EXISTS (SELECT 1 FROM activities a WHERE a.id = ANY(e.activity_ids) AND a.source = $2))
        OR (e.source_mode = 'sandbox' AND EXISTS (SELECT 1 FROM sandbox_activities a WHERE a.id = ANY(e.activity_ids) AND a.source = $2)))`

	listQuery := `SELECT ` + prefixed("e", entryColumns) + ` FROM journal_entries e WHERE ` + where +
		` ORDER BY e.created_at DESC, e.id DESC OFFSET $3 LIMIT $4`
	countQuery := `SELECT COUNT(*) FROM journal_entries e WHERE ` + where

	var (
		entries []domain.JournalEntry
		total   int
	)
	err := readOnly(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, countQuery, ownerID, filter.Source).Scan(&total); err != nil {
			return err
		}
		rows, err := tx.Query(ctx, listQuery, ownerID, filter.Source, offset, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		entries = make([]domain.JournalEntry, 0, limit)
		for rows.Next() {
			entry, err := scanEntry(rows)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func scanEntry(row pgx.Row) (domain.JournalEntry, error) {
	var (
		entry    domain.JournalEntry
		mode     string
		grouping string
	)
	err := row.Scan(&entry.ID, &entry.UserID, &entry.Title, &entry.ActivityIDs, &mode, &grouping,
		&entry.TimeRangeStart, &entry.TimeRangeEnd, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return domain.JournalEntry{}, err
	}
	entry.Mode = domain.Mode(mode)
	entry.GroupingMethod = domain.GroupingMethod(grouping)
	return entry, nil
}

// ActivityStore reads one of the two activity tables.
type ActivityStore struct {
	pool  *pgxpool.Pool
	mode  domain.Mode
	table string
}

// NewActivityStore constructs an ActivityStore bound to the table for mode.
func NewActivityStore(pool *pgxpool.Pool, mode domain.Mode) *ActivityStore {
	table, ok := activityTables[mode]
	if !ok {
		panic(fmt.Sprintf("postgres: no activity table for mode %q", mode))
	}
	return &ActivityStore{pool: pool, mode: mode, table: table}
}

// List implements domain.ActivityReader.
func (s *ActivityStore) List(ctx context.Context, filter domain.ActivityFilter, offset, limit int) (out []domain.Activity, err error) {
	defer func() { observability.RecordStoreRead(string(s.mode), "list", err) }()

	where, args := activityWhere(filter)
	args = append(args, offset, limit)
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY occurred_at DESC, id DESC OFFSET $%d LIMIT $%d`,
		activityColumns, s.table, where, len(args)-1, len(args))

	err = readOnly(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = make([]domain.Activity, 0, limit)
		for rows.Next() {
			var a domain.Activity
			if err := rows.Scan(&a.ID, &a.UserID, &a.Source, &a.SourceID, &a.SourceURL, &a.Title, &a.Description, &a.Timestamp, &a.CrossToolRefs); err != nil {
				return err
			}
			a.Timestamp = a.Timestamp.UTC()
			out = append(out, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count implements domain.ActivityReader.
func (s *ActivityStore) Count(ctx context.Context, filter domain.ActivityFilter) (n int, err error) {
	defer func() { observability.RecordStoreRead(string(s.mode), "count", err) }()

	where, args := activityWhere(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.table, where)
	err = readOnly(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query, args...).Scan(&n)
	})
	return n, err
}

// CountBySource implements domain.ActivityReader.
func (s *ActivityStore) CountBySource(ctx context.Context, ownerID string) (out []domain.SourceCount, err error) {
	defer func() { observability.RecordStoreRead(string(s.mode), "count_by_source", err) }()

	query := fmt.Sprintf(`SELECT source, COUNT(*) FROM %s WHERE user_id=$1 GROUP BY source`, s.table)
	err = readOnly(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, ownerID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var c domain.SourceCount
			if err := rows.Scan(&c.Source, &c.Count); err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

// EntryCountBySource implements domain.ActivityReader.
func (s *ActivityStore) EntryCountBySource(ctx context.Context, ownerID string) (out map[string]int, err error) {
	defer func() { observability.RecordStoreRead(string(s.mode), "entry_count_by_source", err) }()

	query := fmt.Sprintf(`SELECT a.source, COUNT(DISTINCT e.id)
        FROM journal_entries e
        JOIN %s a ON a.id = ANY(e.activity_ids)
        WHERE e.user_id=$1 AND e.source_mode=$2 AND a.user_id=$1
        GROUP BY a.source`, s.table)

	out = make(map[string]int)
	err = readOnly(ctx, s.pool, func(tx pgx.Tx) error {
		return scanKeyedCounts(tx.Query(ctx, query, ownerID, string(s.mode)))(func(key string, n int) {
			out[key] = n
		})
	})
	return out, err
}

// CountByBucket implements domain.ActivityReader with a single CASE grouped pass.
func (s *ActivityStore) CountByBucket(ctx context.Context, ownerID string, set buckets.Set) (out map[buckets.Name]int, err error) {
	defer func() { observability.RecordStoreRead(string(s.mode), "count_by_bucket", err) }()

	caseExpr, caseArgs := bucketCase("occurred_at", set, 2)
	query := fmt.Sprintf(`SELECT %s AS bucket, COUNT(*) FROM %s WHERE user_id=$1 GROUP BY bucket`, caseExpr, s.table)
	args := append([]any{ownerID}, caseArgs...)

	out = make(map[buckets.Name]int)
	err = readOnly(ctx, s.pool, func(tx pgx.Tx) error {
		return scanKeyedCounts(tx.Query(ctx, query, args...))(func(key string, n int) {
			out[buckets.Name(key)] = n
		})
	})
	return out, err
}

// EntryCountByBucket implements domain.ActivityReader.
func (s *ActivityStore) EntryCountByBucket(ctx context.Context, ownerID string, set buckets.Set) (out map[buckets.Name]int, err error) {
	defer func() { observability.RecordStoreRead(string(s.mode), "entry_count_by_bucket", err) }()

	caseExpr, caseArgs := bucketCase("a.occurred_at", set, 3)
	query := fmt.Sprintf(`SELECT %s AS bucket, COUNT(DISTINCT e.id)
        FROM journal_entries e
        JOIN %s a ON a.id = ANY(e.activity_ids)
        WHERE e.user_id=$1 AND e.source_mode=$2 AND a.user_id=$1
        GROUP BY bucket`, caseExpr, s.table)
	args := append([]any{ownerID, string(s.mode)}, caseArgs...)

	out = make(map[buckets.Name]int)
	err = readOnly(ctx, s.pool, func(tx pgx.Tx) error {
		return scanKeyedCounts(tx.Query(ctx, query, args...))(func(key string, n int) {
			out[buckets.Name(key)] = n
		})
	})
	return out, err
}

// SourceCountsByEntry implements domain.ActivityReader.
func (s *ActivityStore) SourceCountsByEntry(ctx context.Context, entryIDs []string) (out map[string][]domain.SourceCount, err error) {
	defer func() { observability.RecordStoreRead(string(s.mode), "source_counts_by_entry", err) }()

	out = make(map[string][]domain.SourceCount, len(entryIDs))
	if len(entryIDs) == 0 {
		return out, nil
	}
	query := fmt.Sprintf(`SELECT e.id, a.source, COUNT(*)
        FROM journal_entries e
        JOIN %s a ON a.id = ANY(e.activity_ids) AND a.user_id = e.user_id
        WHERE e.id = ANY($1) AND e.source_mode=$2
        GROUP BY e.id, a.source`, s.table)

	err = readOnly(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, entryIDs, string(s.mode))
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				entryID string
				c       domain.SourceCount
			)
			if err := rows.Scan(&entryID, &c.Source, &c.Count); err != nil {
				return err
			}
			out[entryID] = append(out[entryID], c)
		}
		return rows.Err()
	})
	return out, err
}

// activityWhere renders filter as a WHERE clause with positional arguments.
func activityWhere(filter domain.ActivityFilter) (string, []any) {
	clauses := []string{"TRUE"}
	args := make([]any, 0, 5)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if len(filter.IDs) > 0 {
		add("id = ANY($%d)", filter.IDs)
	}
	if filter.OwnerID != "" {
		add("user_id = $%d", filter.OwnerID)
	}
	if filter.Source != "" {
		add("source = $%d", filter.Source)
	}
	if filter.From != nil {
		add("occurred_at >= $%d", *filter.From)
	}
	if filter.Until != nil {
		add("occurred_at < $%d", *filter.Until)
	}
	return strings.Join(clauses, " AND "), args
}

// bucketCase renders a CASE expression assigning column to a bucket name.
// Placeholders start at firstArg.
func bucketCase(column string, set buckets.Set, firstArg int) (string, []any) {
	var sb strings.Builder
	sb.WriteString("CASE")
	thresholds := set.Thresholds()
	args := make([]any, 0, len(thresholds))
	for i, th := range thresholds {
		fmt.Fprintf(&sb, " WHEN %s >= $%d THEN '%s'", column, firstArg+i, th.Name)
		args = append(args, th.Start)
	}
	fmt.Fprintf(&sb, " ELSE '%s' END", buckets.Older)
	return sb.String(), args
}

// scanKeyedCounts drains (text, count) rows into emit.
func scanKeyedCounts(rows pgx.Rows, err error) func(emit func(string, int)) error {
	return func(emit func(string, int)) error {
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				key string
				n   int
			)
			if err := rows.Scan(&key, &n); err != nil {
				return err
			}
			emit(key, n)
		}
		return rows.Err()
	}
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
