package dedup

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/offerbook/dedup/internal/domain/customer"
	"github.com/offerbook/dedup/internal/domain/dedup"
	"github.com/offerbook/dedup/internal/domain/identity"
	"github.com/offerbook/dedup/internal/domain/offer"
	"github.com/offerbook/dedup/internal/domain/shared"
)

// MockCustomerRepository is an in-memory customer.Repository with the same
// active-only uniqueness semantics as the real store.
type MockCustomerRepository struct {
	mu        sync.Mutex
	customers map[uuid.UUID]*customer.Customer
	findErr   error
	onCreate  func(c *customer.Customer) error
}

func NewMockCustomerRepository() *MockCustomerRepository {
	return &MockCustomerRepository{customers: make(map[uuid.UUID]*customer.Customer)}
}

func (m *MockCustomerRepository) FailFinds(err error) { m.findErr = err }

// OnCreate installs a hook that runs before each Create, outside the lock, so
// tests can simulate concurrent writers.
func (m *MockCustomerRepository) OnCreate(hook func(c *customer.Customer) error) {
	m.onCreate = hook
}

func (m *MockCustomerRepository) FindByID(_ context.Context, id uuid.UUID) (*customer.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.customers[id]; ok {
		return c, nil
	}
	return nil, shared.ErrNotFound
}

func (m *MockCustomerRepository) FindByIdentifier(_ context.Context, kind identity.Kind, value string) (*customer.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	var found *customer.Customer
	for _, c := range m.customers {
		if !c.IsActive() {
			continue
		}
		stored := c.IdentifierValue(kind)
		if kind == identity.KindNameBirth {
			stored = c.Signature().Get(identity.KindNameBirth)
		}
		if stored == "" || stored != value {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) {
			found = c
		}
	}
	if found == nil {
		return nil, shared.ErrNotFound
	}
	return found, nil
}

func (m *MockCustomerRepository) FindAll(_ context.Context, _ shared.Filter) ([]customer.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]customer.Customer, 0, len(m.customers))
	for _, c := range m.customers {
		all = append(all, *c)
	}
	return all, nil
}

func (m *MockCustomerRepository) Create(_ context.Context, c *customer.Customer) error {
	if hook := m.onCreate; hook != nil {
		if err := hook(c); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kind := range identity.StrongKinds() {
		value := c.IdentifierValue(kind)
		if value == "" {
			continue
		}
		for _, other := range m.customers {
			if other.ID != c.ID && other.IsActive() && other.IdentifierValue(kind) == value {
				return shared.ErrDuplicateIdentifier
			}
		}
	}
	m.customers[c.ID] = c
	return nil
}

// seed stores a customer directly, bypassing the uniqueness check and the
// OnCreate hook, so tests can stage rivals from inside the hook itself.
func (m *MockCustomerRepository) seed(c *customer.Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.ID] = c
}

func (m *MockCustomerRepository) SaveWithLock(_ context.Context, c *customer.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.customers[c.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored != c && stored.Version != c.Version-1 {
		return shared.ErrConcurrencyConflict
	}
	m.customers[c.ID] = c
	return nil
}

func (m *MockCustomerRepository) Count(_ context.Context, _ shared.Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.customers)), nil
}

func (m *MockCustomerRepository) CountByStatus(_ context.Context, status customer.Status) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.customers {
		if c.Status == status {
			n++
		}
	}
	return n, nil
}

// All returns every stored customer, creation order.
func (m *MockCustomerRepository) All() []*customer.Customer {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*customer.Customer, 0, len(m.customers))
	for _, c := range m.customers {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return all
}

// MockOfferRepository is an in-memory offer.Repository.
type MockOfferRepository struct {
	mu     sync.Mutex
	offers map[uuid.UUID]*offer.Offer
}

func NewMockOfferRepository() *MockOfferRepository {
	return &MockOfferRepository{offers: make(map[uuid.UUID]*offer.Offer)}
}

func (m *MockOfferRepository) FindBySourceRef(_ context.Context, channel, sourceRef string) (*offer.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.offers {
		if o.Channel == channel && o.SourceRef == sourceRef {
			return o, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *MockOfferRepository) FindByCustomer(_ context.Context, customerID uuid.UUID, _ shared.Filter) ([]offer.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []offer.Offer
	for _, o := range m.offers {
		if o.CustomerID != nil && *o.CustomerID == customerID {
			matched = append(matched, *o)
		}
	}
	return matched, nil
}

func (m *MockOfferRepository) FindByBatch(_ context.Context, batchID uuid.UUID) ([]offer.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []offer.Offer
	for _, o := range m.offers {
		if o.BatchID == batchID {
			matched = append(matched, *o)
		}
	}
	return matched, nil
}

func (m *MockOfferRepository) Save(_ context.Context, o *offer.Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers[o.ID] = o
	return nil
}

func (m *MockOfferRepository) CountByDedupStatus(_ context.Context, status offer.DedupStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, o := range m.offers {
		if o.DedupStatus == status {
			n++
		}
	}
	return n, nil
}

// BySourceRef returns the stored offer for a source ref, or nil.
func (m *MockOfferRepository) BySourceRef(channel, sourceRef string) *offer.Offer {
	o, err := m.FindBySourceRef(context.Background(), channel, sourceRef)
	if err != nil {
		return nil
	}
	return o
}

// MockLedgerRepository is an in-memory append-only ledger.
type MockLedgerRepository struct {
	mu        sync.Mutex
	entries   []*dedup.LedgerEntry
	appendErr error
}

func NewMockLedgerRepository() *MockLedgerRepository {
	return &MockLedgerRepository{}
}

func (m *MockLedgerRepository) FailAppends(err error) { m.appendErr = err }

func (m *MockLedgerRepository) Append(_ context.Context, entries ...*dedup.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *MockLedgerRepository) FindByBatch(_ context.Context, batchID uuid.UUID) ([]*dedup.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*dedup.LedgerEntry
	for _, e := range m.entries {
		if e.BatchID == batchID {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

func (m *MockLedgerRepository) FindByCustomer(_ context.Context, customerID uuid.UUID) ([]*dedup.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*dedup.LedgerEntry
	for _, e := range m.entries {
		if e.CustomerID != nil && *e.CustomerID == customerID {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

func (m *MockLedgerRepository) FindByOutcome(_ context.Context, outcome dedup.Outcome, limit int) ([]*dedup.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*dedup.LedgerEntry
	for _, e := range m.entries {
		if e.Outcome == outcome {
			matched = append(matched, e)
			if limit > 0 && len(matched) >= limit {
				break
			}
		}
	}
	return matched, nil
}

func (m *MockLedgerRepository) CountByOutcome(_ context.Context, outcome dedup.Outcome) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.entries {
		if e.Outcome == outcome {
			n++
		}
	}
	return n, nil
}

// Entries returns all appended entries in order.
func (m *MockLedgerRepository) Entries() []*dedup.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*dedup.LedgerEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// ByRecordRef returns the entries written for one record ref, in order.
func (m *MockLedgerRepository) ByRecordRef(ref string) []*dedup.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*dedup.LedgerEntry
	for _, e := range m.entries {
		if e.RecordRef == ref {
			matched = append(matched, e)
		}
	}
	return matched
}

// MockBatchRepository is an in-memory dedup.BatchRepository.
type MockBatchRepository struct {
	mu      sync.Mutex
	batches map[uuid.UUID]*dedup.Batch
}

func NewMockBatchRepository() *MockBatchRepository {
	return &MockBatchRepository{batches: make(map[uuid.UUID]*dedup.Batch)}
}

func (m *MockBatchRepository) Create(_ context.Context, b *dedup.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[b.ID]; ok {
		return shared.ErrAlreadyExists
	}
	m.batches[b.ID] = b
	return nil
}

func (m *MockBatchRepository) FindByID(_ context.Context, id uuid.UUID) (*dedup.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.batches[id]; ok {
		return b, nil
	}
	return nil, shared.ErrNotFound
}

func (m *MockBatchRepository) ClaimDue(_ context.Context, now time.Time, limit int) ([]*dedup.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var claimed []*dedup.Batch
	for _, b := range m.batches {
		if len(claimed) >= limit {
			break
		}
		due := b.Status == dedup.BatchStatusPending ||
			(b.Status == dedup.BatchStatusFailed && b.NextRetryAt != nil && !b.NextRetryAt.After(now))
		if !due {
			continue
		}
		if err := b.MarkProcessing(); err != nil {
			continue
		}
		claimed = append(claimed, b)
	}
	return claimed, nil
}

func (m *MockBatchRepository) SaveWithLock(_ context.Context, b *dedup.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.batches[b.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored != b && stored.Version != b.Version-1 {
		return shared.ErrConcurrencyConflict
	}
	m.batches[b.ID] = b
	return nil
}

func (m *MockBatchRepository) FindByStatus(_ context.Context, status dedup.BatchStatus, limit int) ([]*dedup.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*dedup.Batch
	for _, b := range m.batches {
		if b.Status == status {
			matched = append(matched, b)
			if limit > 0 && len(matched) >= limit {
				break
			}
		}
	}
	return matched, nil
}

func (m *MockBatchRepository) CountByStatus(_ context.Context) (map[dedup.BatchStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[dedup.BatchStatus]int64)
	for _, b := range m.batches {
		counts[b.Status]++
	}
	return counts, nil
}

func (m *MockBatchRepository) DeleteCompletedBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, b := range m.batches {
		if b.Status == dedup.BatchStatusCompleted && b.CompletedAt != nil && b.CompletedAt.Before(before) {
			delete(m.batches, id)
			n++
		}
	}
	return n, nil
}

// MockOutboxRepository is an in-memory shared.OutboxRepository.
type MockOutboxRepository struct {
	mu      sync.Mutex
	entries []*shared.OutboxEntry
	saveErr error
}

func NewMockOutboxRepository() *MockOutboxRepository {
	return &MockOutboxRepository{}
}

func (m *MockOutboxRepository) FailSaves(err error) { m.saveErr = err }

func (m *MockOutboxRepository) Save(_ context.Context, entries ...*shared.OutboxEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *MockOutboxRepository) FindPending(_ context.Context, limit int) ([]*shared.OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*shared.OutboxEntry
	for _, e := range m.entries {
		if e.Status == shared.OutboxStatusPending {
			pending = append(pending, e)
			if limit > 0 && len(pending) >= limit {
				break
			}
		}
	}
	return pending, nil
}

func (m *MockOutboxRepository) FindRetryable(_ context.Context, before time.Time, limit int) ([]*shared.OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var retryable []*shared.OutboxEntry
	for _, e := range m.entries {
		if e.Status == shared.OutboxStatusFailed && e.NextRetryAt != nil && e.NextRetryAt.Before(before) {
			retryable = append(retryable, e)
			if limit > 0 && len(retryable) >= limit {
				break
			}
		}
	}
	return retryable, nil
}

func (m *MockOutboxRepository) FindDead(_ context.Context, page, pageSize int) ([]*shared.OutboxEntry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var dead []*shared.OutboxEntry
	for _, e := range m.entries {
		if e.Status == shared.OutboxStatusDead {
			dead = append(dead, e)
		}
	}
	total := int64(len(dead))
	start := (page - 1) * pageSize
	if start >= len(dead) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(dead) {
		end = len(dead)
	}
	return dead[start:end], total, nil
}

func (m *MockOutboxRepository) FindByID(_ context.Context, id uuid.UUID) (*shared.OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *MockOutboxRepository) MarkProcessing(_ context.Context, ids []uuid.UUID) ([]*shared.OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var marked []*shared.OutboxEntry
	for _, e := range m.entries {
		if wanted[e.ID] {
			if err := e.MarkProcessing(); err == nil {
				marked = append(marked, e)
			}
		}
	}
	return marked, nil
}

func (m *MockOutboxRepository) Update(_ context.Context, entry *shared.OutboxEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.ID == entry.ID {
			m.entries[i] = entry
			return nil
		}
	}
	return shared.ErrNotFound
}

func (m *MockOutboxRepository) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*shared.OutboxEntry
	var n int64
	for _, e := range m.entries {
		if e.Status == shared.OutboxStatusSent && e.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return n, nil
}

func (m *MockOutboxRepository) CountByStatus(_ context.Context) (map[shared.OutboxStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[shared.OutboxStatus]int64)
	for _, e := range m.entries {
		counts[e.Status]++
	}
	return counts, nil
}

// EventTypes returns the event types of all staged entries, in order.
func (m *MockOutboxRepository) EventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, len(m.entries))
	for i, e := range m.entries {
		types[i] = e.EventType
	}
	return types
}

// testScope builds a NoOpTransactionScope over fresh mocks.
func testScope() (*NoOpTransactionScope, *MockCustomerRepository, *MockOfferRepository, *MockLedgerRepository, *MockBatchRepository, *MockOutboxRepository) {
	customers := NewMockCustomerRepository()
	offers := NewMockOfferRepository()
	ledger := NewMockLedgerRepository()
	batches := NewMockBatchRepository()
	outbox := NewMockOutboxRepository()
	scope := NewNoOpTransactionScope(customers, offers, ledger, batches, outbox)
	return scope, customers, offers, ledger, batches, outbox
}

// Interface guards
var (
	_ customer.Repository     = (*MockCustomerRepository)(nil)
	_ offer.Repository        = (*MockOfferRepository)(nil)
	_ dedup.LedgerRepository  = (*MockLedgerRepository)(nil)
	_ dedup.BatchRepository   = (*MockBatchRepository)(nil)
	_ shared.OutboxRepository = (*MockOutboxRepository)(nil)
)
