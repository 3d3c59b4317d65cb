package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/matcher"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/parser"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/repository"
)

type memRepo struct {
	mu        sync.Mutex
	sessions  map[uuid.UUID]repository.Session
	rows      map[uuid.UUID]map[int]repository.SessionRow
	listings  []repository.Listing
	history   []repository.SessionStatus
	updates   int
	listingFn func(*repository.Listing) error
}

func newMemRepo() *memRepo {
	return &memRepo{
		sessions: make(map[uuid.UUID]repository.Session),
		rows:     make(map[uuid.UUID]map[int]repository.SessionRow),
	}
}

func (r *memRepo) CreateSession(_ context.Context, s *repository.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.CreatedAt, s.UpdatedAt = time.Now(), time.Now()
	r.sessions[s.ID] = *s
	r.history = append(r.history, s.Status)
	return nil
}

func (r *memRepo) GetSession(_ context.Context, id uuid.UUID) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (r *memRepo) UpdateSession(_ context.Context, s *repository.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.sessions[s.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if prev.Status != s.Status {
		r.history = append(r.history, s.Status)
	}
	r.updates++
	s.UpdatedAt = time.Now()
	r.sessions[s.ID] = *s
	return nil
}

func (r *memRepo) ReplaceRows(_ context.Context, sessionID uuid.UUID, rows []repository.SessionRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := make(map[int]repository.SessionRow, len(rows))
	for _, row := range rows {
		m[row.RowNumber] = row
	}
	r.rows[sessionID] = m
	return nil
}

func (r *memRepo) sorted(sessionID uuid.UUID, keep func(repository.SessionRow) bool) []repository.SessionRow {
	out := []repository.SessionRow{}
	for _, row := range r.rows[sessionID] {
		if keep(row) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowNumber < out[j].RowNumber })
	return out
}

func (r *memRepo) ListRows(_ context.Context, sessionID uuid.UUID, f repository.RowFilter) ([]repository.SessionRow, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.sorted(sessionID, func(row repository.SessionRow) bool {
		return f.Status == "" || row.Status == f.Status
	})
	total := len(all)
	if f.Offset >= total {
		return []repository.SessionRow{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return all[f.Offset:end], total, nil
}

func (r *memRepo) ListRowsByStatus(_ context.Context, sessionID uuid.UUID, statuses ...repository.RowStatus) ([]repository.SessionRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(sessionID, func(row repository.SessionRow) bool {
		if len(statuses) == 0 {
			return true
		}
		for _, s := range statuses {
			if row.Status == s {
				return true
			}
		}
		return false
	}), nil
}

func (r *memRepo) GetRow(_ context.Context, sessionID uuid.UUID, n int) (*repository.SessionRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[sessionID][n]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &row, nil
}

func (r *memRepo) UpdateRow(_ context.Context, row *repository.SessionRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[row.SessionID][row.RowNumber]; !ok {
		return repository.ErrNotFound
	}
	r.rows[row.SessionID][row.RowNumber] = *row
	return nil
}

func (r *memRepo) RowStatusCounts(_ context.Context, sessionID uuid.UUID) (map[repository.RowStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[repository.RowStatus]int)
	for _, s := range repository.RowStatuses {
		counts[s] = 0
	}
	for _, row := range r.rows[sessionID] {
		counts[row.Status]++
	}
	return counts, nil
}

func (r *memRepo) CreateListing(_ context.Context, l *repository.Listing) error {
	if r.listingFn != nil {
		if err := r.listingFn(l); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listings = append(r.listings, *l)
	return nil
}

func (r *memRepo) seedRows(sessionID uuid.UUID, rows ...repository.SessionRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.rows[sessionID]
	if m == nil {
		m = make(map[int]repository.SessionRow)
		r.rows[sessionID] = m
	}
	for _, row := range rows {
		row.SessionID = sessionID
		m[row.RowNumber] = row
	}
}

type fakeParser struct {
	result *parser.ParseResult
	err    error
	calls  int
	opts   []parser.Options
}

func (p *fakeParser) Parse(_ context.Context, _, _ string, opts parser.Options) (*parser.ParseResult, error) {
	p.calls++
	p.opts = append(p.opts, opts)
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

type snapshotMatcher struct {
	snap RowMatcher
	err  error
}

func (m *snapshotMatcher) Snapshot(context.Context) (RowMatcher, error) {
	return m.snap, m.err
}

// scriptedMatcher fails the rows whose part number is in fail
type scriptedMatcher struct {
	fail map[string]bool
}

func (m *scriptedMatcher) MatchBatch(rows []map[string]string) []matcher.BatchItem {
	items := make([]matcher.BatchItem, len(rows))
	for i, row := range rows {
		if m.fail[row["partNumber"]] {
			items[i] = matcher.BatchItem{Err: errors.New("matcher exploded")}
			continue
		}
		items[i] = matcher.BatchItem{Result: matcher.Result{Enriched: row}}
	}
	return items
}

func (m *scriptedMatcher) Suggest(string, int) ([]matcher.Suggestion, error) {
	return nil, nil
}

type recordingNotifier struct {
	recipient string
	summary   *ImportSummary
}

func (n *recordingNotifier) ImportFinished(_ context.Context, recipient string, summary *ImportSummary) error {
	n.recipient = recipient
	n.summary = summary
	return nil
}
