// Package audit implements the append-structured authorization log: a
// bounded in-memory ring for fast recent-entry queries, a periodic flush to
// a line-delimited JSON file, and a SQLite archive index (via
// internal/sqlstore) so paged queries with filters don't require scanning
// the whole ldjson file once the ring has rotated an entry out.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/torbobase/torbo-base/internal/access"
	"github.com/torbobase/torbo-base/internal/sqlstore"
)

// Capacity is the bound on the in-memory ring.
const Capacity = 10_000

// FlushInterval is how often pending entries are written to the ldjson file
// and the SQLite archive index.
const FlushInterval = 5 * time.Second

// Entry is one authorization-decision record.
type Entry struct {
	Timestamp     time.Time    `json:"timestamp"`
	TraceID       string       `json:"traceId"`
	ClientIP      string       `json:"clientIp"`
	Method        string       `json:"method"`
	Path          string       `json:"path"`
	RequiredLevel access.Level `json:"requiredLevel"`
	Granted       bool         `json:"granted"`
	DeviceID      string       `json:"deviceId,omitempty"`
	// ProviderChain records a failover chain (e.g. "local->openai") when the
	// multiplexer fell back to a different provider mid-request.
	ProviderChain string `json:"providerChain,omitempty"`
}

// Ring is the audit log: a bounded in-memory buffer of recent entries plus
// durable archives (ldjson tail file, SQLite index).
type Ring struct {
	mu       sync.Mutex
	entries  []Entry // flushed, capped at Capacity, oldest first
	pending  []Entry // appended since the last flush
	ldjson   string
	store    *sqlstore.Store
}

// New returns a Ring flushing to ldjsonPath and store. store may be nil, in
// which case only the in-memory ring and ldjson tail are kept.
func New(ldjsonPath string, store *sqlstore.Store) *Ring {
	return &Ring{ldjson: ldjsonPath, store: store}
}

// Append records a new entry. It is never dropped for being "too busy": the
// write only ever touches the in-memory pending slice, which the flusher
// drains on its own schedule.
func (r *Ring) Append(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, e)
}

// StartFlusher runs Flush every FlushInterval until ctx is cancelled, at
// which point it performs one final flush before returning. Intended to be
// run in its own goroutine for the life of the process.
func (r *Ring) StartFlusher(ctx context.Context) {
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := r.Flush(); err != nil {
				slog.Error("audit: final flush failed", "err", err)
			}
			return
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				slog.Error("audit: flush failed", "err", err)
			}
		}
	}
}

// Flush drains pending entries into the ldjson file and the SQLite archive
// index, then folds them into the capped in-memory ring.
func (r *Ring) Flush() error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := r.appendLDJSON(batch); err != nil {
		// Re-queue the batch so a transient disk error doesn't silently drop
		// entries; they will be retried (and re-ordered with any newer
		// entries) on the next flush.
		r.mu.Lock()
		r.pending = append(batch, r.pending...)
		r.mu.Unlock()
		return fmt.Errorf("audit: append ldjson: %w", err)
	}

	if r.store != nil {
		if err := insertRows(r.store, batch); err != nil {
			slog.Error("audit: sqlite archive insert failed", "err", err)
		}
	}

	r.mu.Lock()
	r.entries = append(r.entries, batch...)
	if len(r.entries) > Capacity {
		r.entries = r.entries[len(r.entries)-Capacity:]
	}
	r.mu.Unlock()
	return nil
}

func (r *Ring) appendLDJSON(batch []Entry) error {
	if r.ldjson == "" {
		return nil
	}
	f, err := os.OpenFile(r.ldjson, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

// Query is the parameter set for GET /v1/audit/log.
type Query struct {
	Limit       int
	Offset      int
	PathFilter  string
	GrantedOnly bool
}

// Page pages over the audit log, newest first: the in-memory ring (plus any
// not-yet-flushed pending entries) first, falling back to the SQLite
// archive index for entries older than what the ring currently holds.
func (r *Ring) Page(ctx context.Context, q Query) ([]Entry, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	r.mu.Lock()
	recent := make([]Entry, 0, len(r.entries)+len(r.pending))
	recent = append(recent, r.entries...)
	recent = append(recent, r.pending...)
	pendingCount := len(r.pending)
	r.mu.Unlock()

	// Newest first.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	filtered := filterEntries(recent, q)
	// Flushed ring entries are also in the archive; only the pending ones
	// (now at the front) are not, so archive offsets count past the rest.
	unarchived := len(filterEntries(recent[:pendingCount], q))

	if q.Offset < len(filtered) {
		end := q.Offset + q.Limit
		if end > len(filtered) {
			end = len(filtered)
		}
		page := filtered[q.Offset:end]
		if len(page) >= q.Limit || r.store == nil {
			return page, nil
		}
		// The ring ran out before filling the page; top up from the archive.
		more, err := queryRows(ctx, r.store, Query{
			Limit:       q.Limit - len(page),
			Offset:      len(filtered) - unarchived,
			PathFilter:  q.PathFilter,
			GrantedOnly: q.GrantedOnly,
		})
		if err != nil {
			return page, err
		}
		return append(page, more...), nil
	}

	if r.store == nil {
		return nil, nil
	}
	return queryRows(ctx, r.store, Query{
		Limit:       q.Limit,
		Offset:      q.Offset - unarchived,
		PathFilter:  q.PathFilter,
		GrantedOnly: q.GrantedOnly,
	})
}

func filterEntries(entries []Entry, q Query) []Entry {
	if q.PathFilter == "" && !q.GrantedOnly {
		return entries
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if q.GrantedOnly && !e.Granted {
			continue
		}
		if q.PathFilter != "" && !pathContains(e.Path, q.PathFilter) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func pathContains(path, filter string) bool {
	if len(filter) > len(path) {
		return false
	}
	for i := 0; i+len(filter) <= len(path); i++ {
		if path[i:i+len(filter)] == filter {
			return true
		}
	}
	return false
}

func insertRows(store *sqlstore.Store, batch []Entry) error {
	tx, err := store.DB().Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO audit_log
		(ts, trace_id, client_ip, method, path, required_level, granted, device_id, provider_chain)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, e := range batch {
		granted := 0
		if e.Granted {
			granted = 1
		}
		if _, err := stmt.Exec(e.Timestamp, e.TraceID, e.ClientIP, e.Method, e.Path,
			int(e.RequiredLevel), granted, nullableString(e.DeviceID), nullableString(e.ProviderChain)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func queryRows(ctx context.Context, store *sqlstore.Store, q Query) ([]Entry, error) {
	query := `SELECT ts, trace_id, client_ip, method, path, required_level, granted,
		COALESCE(device_id, ''), COALESCE(provider_chain, '')
		FROM audit_log WHERE 1=1`
	var args []interface{}
	if q.GrantedOnly {
		query += " AND granted = 1"
	}
	if q.PathFilter != "" {
		query += " AND path LIKE ?"
		args = append(args, "%"+q.PathFilter+"%")
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	rows, err := store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query archive: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var level int
		var granted int
		if err := rows.Scan(&e.Timestamp, &e.TraceID, &e.ClientIP, &e.Method, &e.Path,
			&level, &granted, &e.DeviceID, &e.ProviderChain); err != nil {
			return nil, fmt.Errorf("audit: scan archive row: %w", err)
		}
		e.RequiredLevel = access.Level(level)
		e.Granted = granted != 0
		out = append(out, e)
	}
	return out, rows.Err()
}
