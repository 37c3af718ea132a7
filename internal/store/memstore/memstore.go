// Package memstore is an in-memory posting store with the same upsert,
// reconciliation and transaction semantics as store.Postgres. Tests use it
// to build isolated catalogs per test case; failures can be injected per
// operation.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"jobmate/catalog-service/internal/lifecycle"
	"jobmate/catalog-service/internal/model"
)

// Op names a store operation for failure injection.
type Op string

const (
	OpUpsert     Op = "upsert"
	OpDeactivate Op = "deactivate"
	OpExists     Op = "exists"
	OpCommit     Op = "commit"
)

// ErrNotFound is returned by Get when no posting has the requested identity
// hash.
var ErrNotFound = errors.New("posting not found")

type txKey struct{}

// undo remembers the pre-transaction state of every row a transaction wrote.
type undo struct {
	prev map[string]*model.Posting // nil value: row did not exist
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	postings map[string]*model.Posting
	failures map[Op]error
	calls    map[Op]int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		postings: make(map[string]*model.Posting),
		failures: make(map[Op]error),
		calls:    make(map[Op]int),
	}
}

// FailOn makes every subsequent op return err. A nil err clears it.
func (s *Store) FailOn(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// RunInTransaction runs fn and undoes every write fn made if it (or the
// injected commit failure) errors. Nested calls join the outer transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*undo); ok {
		return fn(ctx)
	}

	u := &undo{prev: make(map[string]*model.Posting)}
	err := fn(context.WithValue(ctx, txKey{}, u))
	if err == nil {
		s.mu.Lock()
		s.calls[OpCommit]++
		err = s.failures[OpCommit]
		s.mu.Unlock()
		if err != nil {
			err = errors.Wrap(err, "commit transaction")
		}
	}
	if err != nil {
		s.rollback(u)
		return err
	}
	return nil
}

func (s *Store) rollback(u *undo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, p := range u.prev {
		if p == nil {
			delete(s.postings, hash)
			continue
		}
		s.postings[hash] = p
	}
}

// Upsert mirrors the Postgres ON CONFLICT (identity_hash) DO UPDATE statement.
func (s *Store) Upsert(ctx context.Context, rec model.CanonicalRecord, now time.Time) (model.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[OpUpsert]++
	if err := s.failures[OpUpsert]; err != nil {
		return model.UpsertOutcome{}, errors.Wrapf(err, "upsert %s", rec.IdentityHash)
	}

	existing, found := s.postings[rec.IdentityHash]
	if u, ok := ctx.Value(txKey{}).(*undo); ok {
		if _, seen := u.prev[rec.IdentityHash]; !seen {
			if found {
				cp := *existing
				u.prev[rec.IdentityHash] = &cp
			} else {
				u.prev[rec.IdentityHash] = nil
			}
		}
	}

	from := lifecycle.StatusNew
	if found {
		from = lifecycle.StatusOf(existing.IsActive)
	}
	if !lifecycle.IsTransitionAllowed(from, lifecycle.StatusActive) {
		return model.UpsertOutcome{}, errors.AssertionFailedf("upsert %s: %s → %s", rec.IdentityHash, from, lifecycle.StatusActive)
	}

	if !found {
		p := &model.Posting{
			ID:           uuid.NewString(),
			Source:       rec.Source,
			IdentityHash: rec.IdentityHash,
			CreatedAt:    now,
			FirstSeen:    now,
			LastSeen:     now,
			IsActive:     true,
		}
		applyMutable(p, rec)
		s.postings[rec.IdentityHash] = p
		return model.UpsertOutcome{ID: p.ID, Inserted: true}, nil
	}

	// Replace rather than mutate so snapshots handed out earlier stay intact.
	updated := *existing
	wasActive := updated.IsActive
	applyMutable(&updated, rec)
	if now.After(updated.LastSeen) {
		updated.LastSeen = now
	}
	updated.IsActive = true
	s.postings[rec.IdentityHash] = &updated
	return model.UpsertOutcome{ID: updated.ID, WasActive: wasActive}, nil
}

func applyMutable(p *model.Posting, rec model.CanonicalRecord) {
	p.Title = rec.Title
	p.Company = rec.Company
	p.Location = rec.Location
	p.DescriptionSnippet = rec.DescriptionSnippet
	p.PostedAt = rec.PostedAt
	p.CanonicalURL = optional(rec.CanonicalURL)
	p.SalaryText = optional(rec.SalaryText)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// DeactivateStale mirrors the bulk UPDATE ... WHERE source AND is_active AND
// last_seen < threshold.
func (s *Store) DeactivateStale(ctx context.Context, source string, threshold time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[OpDeactivate]++
	if err := s.failures[OpDeactivate]; err != nil {
		return 0, errors.Wrapf(err, "deactivate stale postings for %s", source)
	}

	var n int64
	for hash, p := range s.postings {
		if p.Source != source || !p.IsActive || !p.LastSeen.Before(threshold) {
			continue
		}
		if from := lifecycle.StatusOf(p.IsActive); !lifecycle.IsTransitionAllowed(from, lifecycle.StatusInactive) {
			return n, errors.AssertionFailedf("deactivate %s: %s → %s", hash, from, lifecycle.StatusInactive)
		}
		updated := *p
		updated.IsActive = false
		s.postings[hash] = &updated
		n++
	}
	return n, nil
}

// Exists reports whether identityHash is stored.
func (s *Store) Exists(_ context.Context, identityHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[OpExists]++
	if err := s.failures[OpExists]; err != nil {
		return false, errors.Wrap(err, "exists query")
	}
	_, ok := s.postings[identityHash]
	return ok, nil
}

// Get returns a copy of the posting under identityHash.
func (s *Store) Get(_ context.Context, identityHash string) (*model.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.postings[identityHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// ListBySource returns copies of the postings of source, most recently seen
// first.
func (s *Store) ListBySource(_ context.Context, source string, activeOnly bool) ([]model.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Posting, 0)
	for _, p := range s.postings {
		if p.Source != source || (activeOnly && !p.IsActive) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].IdentityHash < out[j].IdentityHash
	})
	return out, nil
}

// Len returns the number of stored postings.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.postings)
}
