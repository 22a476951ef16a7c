package reconciliation

import (
	"context"
	"sync"

	"github.com/angelmondragon/boletos-backend/internal/audit"
	"github.com/angelmondragon/boletos-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
)

// MemoryStore keeps invoices and records in process. Units of work on the same
// invoice are serialized by a per-invoice mutex; staged writes are applied
// only when the unit of work succeeds.
type MemoryStore struct {
	mu       sync.Mutex
	locks    map[uint64]*sync.Mutex
	invoices map[uint64]models.Invoice
	records  map[string]models.ReconciliationRecord
	audits   []audit.Entry
}

func NewMemoryStore(seed ...models.Invoice) *MemoryStore {
	store := &MemoryStore{
		locks:    map[uint64]*sync.Mutex{},
		invoices: map[uint64]models.Invoice{},
		records:  map[string]models.ReconciliationRecord{},
	}
	for _, inv := range seed {
		store.invoices[inv.ID] = inv
	}
	return store
}

// Put stores inv, replacing any invoice with the same id.
func (s *MemoryStore) Put(inv models.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices[inv.ID] = inv
}

// Audits returns a copy of every committed audit entry.
func (s *MemoryStore) Audits() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Entry, len(s.audits))
	copy(out, s.audits)
	return out
}

// Append implements audit.Sink for entries written outside a unit of work.
func (s *MemoryStore) Append(ctx context.Context, entry audit.Entry) error {
	if err := ctx.Err(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append audit entry")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, entry)
	return nil
}

func (s *MemoryStore) LoadInvoice(ctx context.Context, id uint64) (*models.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return &inv, nil
}

func (s *MemoryStore) FindRecord(ctx context.Context, key string) (*models.ReconciliationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (s *MemoryStore) Exclusive(ctx context.Context, invoiceID uint64, fn func(uow UnitOfWork) error) error {
	lock := s.lockFor(invoiceID)
	lock.Lock()
	defer lock.Unlock()

	invoice, err := s.LoadInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	unit := &memoryUnit{store: s, invoice: invoice}
	if err := fn(unit); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(unit)
}

func (s *MemoryStore) lockFor(id uint64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

func (s *MemoryStore) commit(unit *memoryUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range unit.records {
		if _, taken := s.records[record.IdempotencyKey]; taken {
			return ErrDuplicateRecord
		}
	}
	if unit.saved != nil {
		s.invoices[unit.saved.ID] = *unit.saved
	}
	for _, record := range unit.records {
		s.records[record.IdempotencyKey] = record
	}
	s.audits = append(s.audits, unit.audits...)
	return nil
}

type memoryUnit struct {
	store   *MemoryStore
	invoice *models.Invoice
	saved   *models.Invoice
	records []models.ReconciliationRecord
	audits  []audit.Entry
}

func (u *memoryUnit) Invoice() *models.Invoice {
	return u.invoice
}

func (u *memoryUnit) FindRecord(ctx context.Context, key string) (*models.ReconciliationRecord, error) {
	for _, record := range u.records {
		if record.IdempotencyKey == key {
			found := record
			return &found, nil
		}
	}
	return u.store.FindRecord(ctx, key)
}

func (u *memoryUnit) SaveInvoice(ctx context.Context, invoice *models.Invoice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := *invoice
	u.saved = &snapshot
	return nil
}

func (u *memoryUnit) InsertRecord(ctx context.Context, record models.ReconciliationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	existing, err := u.FindRecord(ctx, record.IdempotencyKey)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDuplicateRecord
	}
	u.records = append(u.records, record)
	return nil
}

func (u *memoryUnit) AppendAudit(ctx context.Context, entry audit.Entry) error {
	u.audits = append(u.audits, entry)
	return nil
}
