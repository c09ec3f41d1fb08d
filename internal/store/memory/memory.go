package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"shiftledger/backend/internal/domain"
	"shiftledger/backend/internal/store"
	"shiftledger/backend/internal/xid"
)

type Option func(*Store)

// WithoutOrderedQueries makes ListTransactions reject ordered queries, the way
// a document store without a composite index would.
func WithoutOrderedQueries() Option {
	return func(s *Store) { s.orderedQueries = false }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

type Store struct {
	mu    sync.RWMutex
	locks *keyLocks

	orderedQueries bool
	now            func() time.Time

	shiftsByID         map[string]*domain.ShiftSession
	openByRegister     map[string]string
	openByEmployee     map[string]string
	transactionsByID   map[string]*domain.RegisterTransaction
	transactionsByIdem map[string]string
	cashDrops          []domain.CashDrop
	adjustments        []domain.CashAdjustment
	movements          []domain.AccountMovement
	auditLogs          []domain.AuditLog

	clockMu     sync.Mutex
	auditSeq    int64
	lastAuditAt time.Time

	failMu       sync.Mutex
	failCommits  int
	commitsTotal int
}

func New(opts ...Option) *Store {
	s := &Store{
		locks:              newKeyLocks(),
		orderedQueries:     true,
		now:                func() time.Time { return time.Now().UTC() },
		shiftsByID:         make(map[string]*domain.ShiftSession),
		openByRegister:     make(map[string]string),
		openByEmployee:     make(map[string]string),
		transactionsByID:   make(map[string]*domain.RegisterTransaction),
		transactionsByIdem: make(map[string]string),
		cashDrops:          make([]domain.CashDrop, 0, 32),
		adjustments:        make([]domain.CashAdjustment, 0, 32),
		movements:          make([]domain.AccountMovement, 0, 64),
		auditLogs:          make([]domain.AuditLog, 0, 128),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InjectContention makes the next n atomic units fail at commit time with
// store.ErrStoreContention after fn has run.
func (s *Store) InjectContention(n int) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failCommits = n
}

// Commits reports how many atomic units have committed.
func (s *Store) Commits() int {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.commitsTotal
}

func (s *Store) WithAtomicUpdate(ctx context.Context, keys []store.Key, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	release := s.locks.acquire(store.SortKeys(keys))
	defer release()

	tx := newMemTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.failMu.Lock()
	if s.failCommits > 0 {
		s.failCommits--
		s.failMu.Unlock()
		return store.ErrStoreContention
	}
	s.failMu.Unlock()

	s.mu.Lock()
	err := tx.commit()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.failMu.Lock()
	s.commitsTotal++
	s.failMu.Unlock()
	return nil
}

func (s *Store) GetShift(_ context.Context, shiftID string) (*domain.ShiftSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getShiftLocked(shiftID)
}

func (s *Store) FindOpenShiftByRegister(_ context.Context, companyID, branchID, registerID string) (*domain.ShiftSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.openByRegister[registerMapKey(companyID, branchID, registerID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.getShiftLocked(id)
}

func (s *Store) GetTransaction(_ context.Context, transactionID string) (*domain.RegisterTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactionsByID[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return tx.Clone(), nil
}

func (s *Store) ListTransactions(_ context.Context, query store.TransactionQuery) ([]domain.RegisterTransaction, error) {
	if query.Ordered && !s.orderedQueries {
		return nil, store.ErrUnsupportedQuery
	}

	s.mu.RLock()
	result := make([]domain.RegisterTransaction, 0, 32)
	for _, tx := range s.transactionsByID {
		if tx.ShiftID != query.ShiftID {
			continue
		}
		if tx.IsVoided && !query.IncludeVoided {
			continue
		}
		result = append(result, *tx.Clone())
	}
	s.mu.RUnlock()

	if query.Ordered {
		slices.SortFunc(result, func(a, b domain.RegisterTransaction) int {
			if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
				return c
			}
			return cmpString(a.ID, b.ID)
		})
	}
	if query.Limit > 0 && len(result) > query.Limit {
		result = result[:query.Limit]
	}
	return result, nil
}

func (s *Store) ListCashDrops(_ context.Context, shiftID string) ([]domain.CashDrop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.CashDrop, 0, 8)
	for _, drop := range s.cashDrops {
		if drop.ShiftID == shiftID {
			drop.Denominations = slices.Clone(drop.Denominations)
			result = append(result, drop)
		}
	}
	return result, nil
}

func (s *Store) ListCashAdjustments(_ context.Context, shiftID string) ([]domain.CashAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.CashAdjustment, 0, 8)
	for _, adj := range s.adjustments {
		if adj.ShiftID == shiftID {
			result = append(result, adj)
		}
	}
	return result, nil
}

func (s *Store) ListAccountMovements(_ context.Context, shiftID string, accountID string) ([]domain.AccountMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.AccountMovement, 0, 16)
	for _, mv := range s.movements {
		if shiftID != "" && mv.ShiftID != shiftID {
			continue
		}
		if accountID != "" && mv.AccountID != accountID {
			continue
		}
		result = append(result, mv)
	}
	return result, nil
}

func (s *Store) ListAuditLogs(_ context.Context, shiftID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.AuditLog, 0, 32)
	for _, entry := range s.auditLogs {
		if shiftID != "" && entry.ShiftID != shiftID {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		switch {
		case a.Sequence < b.Sequence:
			return -1
		case a.Sequence > b.Sequence:
			return 1
		default:
			return 0
		}
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) getShiftLocked(shiftID string) (*domain.ShiftSession, error) {
	shift, ok := s.shiftsByID[shiftID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return shift.Clone(), nil
}

// nextAuditStamp hands out a strictly increasing sequence and a timestamp that
// never goes backwards, even if the wall clock does.
func (s *Store) nextAuditStamp() (int64, time.Time) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.auditSeq++
	at := s.now()
	if !at.After(s.lastAuditAt) {
		at = s.lastAuditAt.Add(time.Microsecond)
	}
	s.lastAuditAt = at
	return s.auditSeq, at
}

type memTx struct {
	s            *Store
	shifts       map[string]*domain.ShiftSession
	insertShifts map[string]bool
	transactions map[string]*domain.RegisterTransaction
	insertTxs    map[string]bool
	cashDrops    []domain.CashDrop
	adjustments  []domain.CashAdjustment
	movements    []domain.AccountMovement
	auditLogs    []domain.AuditLog
}

func newMemTx(s *Store) *memTx {
	return &memTx{
		s:            s,
		shifts:       make(map[string]*domain.ShiftSession),
		insertShifts: make(map[string]bool),
		transactions: make(map[string]*domain.RegisterTransaction),
		insertTxs:    make(map[string]bool),
	}
}

func (t *memTx) GetShift(_ context.Context, shiftID string) (*domain.ShiftSession, error) {
	if staged, ok := t.shifts[shiftID]; ok {
		return staged.Clone(), nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.getShiftLocked(shiftID)
}

func (t *memTx) FindOpenShiftByRegister(_ context.Context, companyID, branchID, registerID string) (*domain.ShiftSession, error) {
	key := registerMapKey(companyID, branchID, registerID)
	return t.findOpen(func(shift *domain.ShiftSession) bool {
		return registerMapKey(shift.CompanyID, shift.BranchID, shift.RegisterID) == key
	}, func() (string, bool) {
		id, ok := t.s.openByRegister[key]
		return id, ok
	})
}

func (t *memTx) FindOpenShiftByEmployee(_ context.Context, companyID, employeeID string) (*domain.ShiftSession, error) {
	key := employeeMapKey(companyID, employeeID)
	return t.findOpen(func(shift *domain.ShiftSession) bool {
		return employeeMapKey(shift.CompanyID, shift.EmployeeID) == key
	}, func() (string, bool) {
		id, ok := t.s.openByEmployee[key]
		return id, ok
	})
}

func (t *memTx) findOpen(match func(*domain.ShiftSession) bool, committed func() (string, bool)) (*domain.ShiftSession, error) {
	for _, staged := range t.shifts {
		if match(staged) && staged.Status.IsOpen() {
			return staged.Clone(), nil
		}
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	id, ok := committed()
	if !ok {
		return nil, store.ErrNotFound
	}
	if staged, ok := t.shifts[id]; ok && !staged.Status.IsOpen() {
		return nil, store.ErrNotFound
	}
	return t.s.getShiftLocked(id)
}

func (t *memTx) InsertShift(ctx context.Context, shift domain.ShiftSession) error {
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if _, err := t.GetShift(ctx, shift.ID); err == nil {
		return store.ErrConflict
	}
	if _, err := t.FindOpenShiftByRegister(ctx, shift.CompanyID, shift.BranchID, shift.RegisterID); err == nil {
		return store.ErrConflict
	}
	if _, err := t.FindOpenShiftByEmployee(ctx, shift.CompanyID, shift.EmployeeID); err == nil {
		return store.ErrConflict
	}
	t.shifts[shift.ID] = shift.Clone()
	t.insertShifts[shift.ID] = true
	return nil
}

func (t *memTx) UpdateShift(ctx context.Context, shift domain.ShiftSession) error {
	if _, err := t.GetShift(ctx, shift.ID); err != nil {
		return err
	}
	t.shifts[shift.ID] = shift.Clone()
	return nil
}

func (t *memTx) GetTransaction(_ context.Context, transactionID string) (*domain.RegisterTransaction, error) {
	if staged, ok := t.transactions[transactionID]; ok {
		return staged.Clone(), nil
	}
	return t.s.GetTransaction(context.Background(), transactionID)
}

func (t *memTx) FindTransactionByIdempotency(ctx context.Context, key string) (*domain.RegisterTransaction, error) {
	for _, staged := range t.transactions {
		if key != "" && staged.IdempotencyKey == key {
			return staged.Clone(), nil
		}
	}
	t.s.mu.RLock()
	id, ok := t.s.transactionsByIdem[key]
	t.s.mu.RUnlock()
	if !ok || key == "" {
		return nil, store.ErrNotFound
	}
	return t.GetTransaction(ctx, id)
}

func (t *memTx) InsertTransaction(ctx context.Context, tx domain.RegisterTransaction) error {
	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if _, err := t.GetTransaction(ctx, tx.ID); err == nil {
		return store.ErrConflict
	}
	if tx.IdempotencyKey != "" {
		if _, err := t.FindTransactionByIdempotency(ctx, tx.IdempotencyKey); err == nil {
			return store.ErrConflict
		}
	}
	t.transactions[tx.ID] = tx.Clone()
	t.insertTxs[tx.ID] = true
	return nil
}

func (t *memTx) MarkTransactionVoided(ctx context.Context, tx domain.RegisterTransaction) error {
	current, err := t.GetTransaction(ctx, tx.ID)
	if err != nil {
		return err
	}
	if current.IsVoided {
		return store.ErrConflict
	}
	current.IsVoided = true
	current.VoidedAt = tx.VoidedAt
	current.VoidedBy = tx.VoidedBy
	current.VoidReason = tx.VoidReason
	current.VoidApprovedBy = tx.VoidApprovedBy
	t.transactions[tx.ID] = current
	return nil
}

func (t *memTx) InsertCashDrop(_ context.Context, drop domain.CashDrop) error {
	drop.Denominations = slices.Clone(drop.Denominations)
	t.cashDrops = append(t.cashDrops, drop)
	return nil
}

func (t *memTx) InsertCashAdjustment(_ context.Context, adjustment domain.CashAdjustment) error {
	t.adjustments = append(t.adjustments, adjustment)
	return nil
}

func (t *memTx) InsertAccountMovement(_ context.Context, movement domain.AccountMovement) error {
	t.movements = append(t.movements, movement)
	return nil
}

func (t *memTx) AppendAuditLog(_ context.Context, entry domain.AuditLog) (domain.AuditLog, error) {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	entry.Sequence, entry.CreatedAt = t.s.nextAuditStamp()
	t.auditLogs = append(t.auditLogs, entry)
	return entry, nil
}

// commit runs with s.mu held for writing.
func (t *memTx) commit() error {
	s := t.s
	for id := range t.shifts {
		if t.insertShifts[id] {
			if _, exists := s.shiftsByID[id]; exists {
				return store.ErrConflict
			}
		}
	}

	for id, shift := range t.shifts {
		s.shiftsByID[id] = shift
		regKey := registerMapKey(shift.CompanyID, shift.BranchID, shift.RegisterID)
		empKey := employeeMapKey(shift.CompanyID, shift.EmployeeID)
		if shift.Status.IsOpen() {
			s.openByRegister[regKey] = id
			s.openByEmployee[empKey] = id
			continue
		}
		if s.openByRegister[regKey] == id {
			delete(s.openByRegister, regKey)
		}
		if s.openByEmployee[empKey] == id {
			delete(s.openByEmployee, empKey)
		}
	}
	for id, tx := range t.transactions {
		s.transactionsByID[id] = tx
		if tx.IdempotencyKey != "" {
			s.transactionsByIdem[tx.IdempotencyKey] = id
		}
	}
	s.cashDrops = append(s.cashDrops, t.cashDrops...)
	s.adjustments = append(s.adjustments, t.adjustments...)
	s.movements = append(s.movements, t.movements...)
	s.auditLogs = append(s.auditLogs, t.auditLogs...)
	return nil
}

type keyLocks struct {
	mu   sync.Mutex
	held map[store.Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{held: make(map[store.Key]*keyLock)}
}

// acquire locks keys in the given (sorted) order and returns the release func.
func (l *keyLocks) acquire(keys []store.Key) func() {
	taken := make([]*keyLock, 0, len(keys))
	for _, key := range keys {
		l.mu.Lock()
		lock, ok := l.held[key]
		if !ok {
			lock = &keyLock{}
			l.held[key] = lock
		}
		lock.refs++
		l.mu.Unlock()

		lock.mu.Lock()
		taken = append(taken, lock)
	}

	return func() {
		for i := len(taken) - 1; i >= 0; i-- {
			taken[i].mu.Unlock()
			l.mu.Lock()
			taken[i].refs--
			if taken[i].refs == 0 {
				delete(l.held, keys[i])
			}
			l.mu.Unlock()
		}
	}
}

func registerMapKey(companyID, branchID, registerID string) string {
	return companyID + "::" + branchID + "::" + registerID
}

func employeeMapKey(companyID, employeeID string) string {
	return companyID + "::" + employeeID
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
