// Package memory реализует контракт storage.Store в памяти процесса.
// Транзакции сериализуются одной блокировкой, записи буферизуются до коммита,
// чтение после записи внутри транзакции запрещено так же, как в документной БД.
// Используется в тестах и для локального запуска без PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/hermes-ledger/internal/models"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage"
)

// Store хранилище в памяти.
type Store struct {
	mu sync.RWMutex

	users         map[string]*models.User
	subscriptions map[string][]*models.Subscription
	history       map[string][]*models.HistoryEntry
	shop          map[string]*models.ShopItem
	messages      []*models.Message
	alerts        map[string][]*models.Alert

	maxAttempts int
	conflicts   int
	onRetry     func(attempt int)
	enqueueErr  error
}

// Option настройка хранилища.
type Option func(*Store)

// WithMaxAttempts задаёт число попыток транзакции.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryHook вызывается перед каждым повтором транзакции.
func WithRetryHook(fn func(attempt int)) Option {
	return func(s *Store) {
		s.onRetry = fn
	}
}

// New создаёт пустое хранилище.
func New(opts ...Option) *Store {
	s := &Store{
		users:         make(map[string]*models.User),
		subscriptions: make(map[string][]*models.Subscription),
		history:       make(map[string][]*models.HistoryEntry),
		shop:          make(map[string]*models.ShopItem),
		alerts:        make(map[string][]*models.Alert),
		maxAttempts:   5,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx выполняет fn под эксклюзивной блокировкой и применяет записи при успехе.
func (s *Store) RunInTx(ctx context.Context, fn storage.TxFunc) error {
	const op = "storage.memory.RunInTx"

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		s.mu.Lock()
		tx := &memTx{store: s}
		err := fn(ctx, tx)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		if s.conflicts > 0 {
			s.conflicts--
			s.mu.Unlock()
			if attempt >= s.maxAttempts {
				return fmt.Errorf("%s: %w", op, storage.ErrTxRetriesExhausted)
			}
			if s.onRetry != nil {
				s.onRetry(attempt)
			}
			continue
		}
		for _, apply := range tx.writes {
			apply()
		}
		s.mu.Unlock()
		return nil
	}
}

// InjectConflicts заставляет следующие n коммитов завершиться конфликтом записи.
func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

// FailEnqueue заставляет EnqueueMessages возвращать err.
func (s *Store) FailEnqueue(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueErr = err
}

// CreateUser создаёт пользователя, если его ещё нет.
func (s *Store) CreateUser(_ context.Context, user *models.User) error {
	const op = "storage.memory.CreateUser"
	if err := user.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrUserExists)
	}
	u := copyUser(user)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = u
	return nil
}

// PutUser записывает пользователя целиком, для подготовки тестовых данных.
func (s *Store) PutUser(user *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = copyUser(user)
}

// GetUser возвращает копию пользователя.
func (s *Store) GetUser(_ context.Context, userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getUser(userID)
}

func (s *Store) getUser(userID string) (*models.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("storage.memory.GetUser: %w", storage.ErrUserNotFound)
	}
	return copyUser(u), nil
}

// PutShopItem добавляет товар в каталог.
func (s *Store) PutShopItem(item *models.ShopItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *item
	s.shop[item.ID] = &c
}

// GetShopItem возвращает товар каталога.
func (s *Store) GetShopItem(_ context.Context, shopID string) (*models.ShopItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.shop[shopID]
	if !ok {
		return nil, fmt.Errorf("storage.memory.GetShopItem: %w", storage.ErrShopItemNotFound)
	}
	c := *item
	return &c, nil
}

// FindUsersByPartnerUID ищет пользователей по привязанному UID.
func (s *Store) FindUsersByPartnerUID(_ context.Context, partner models.Partner, uid string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var res []string
	for _, id := range ids {
		if link, ok := s.users[id].Partners[partner]; ok && link.UID == uid {
			res = append(res, id)
			if limit > 0 && len(res) >= limit {
				break
			}
		}
	}
	return res, nil
}

// BonusUIDUsed перебирает журналы всех пользователей.
func (s *Store) BonusUIDUsed(_ context.Context, bonusTag, uid, exceptUserID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for userID, entries := range s.history {
		if userID == exceptUserID {
			continue
		}
		for _, e := range entries {
			if e.ShopID == bonusTag && e.PartnerUID == uid {
				return true, nil
			}
		}
	}
	return false, nil
}

// PutHistory добавляет запись журнала, для подготовки тестовых данных.
func (s *Store) PutHistory(entry *models.HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *entry
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.history[entry.UserID] = append(s.history[entry.UserID], &c)
}

// ListHistory возвращает журнал пользователя от новых к старым.
func (s *Store) ListHistory(_ context.Context, userID string, limit int) ([]*models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[userID]
	res := make([]*models.HistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		c := *entries[i]
		res = append(res, &c)
		if limit > 0 && len(res) >= limit {
			break
		}
	}
	return res, nil
}

// PutSubscription добавляет подписку, для подготовки тестовых данных.
func (s *Store) PutSubscription(sub *models.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := copySubscription(sub)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.subscriptions[sub.UserID] = append(s.subscriptions[sub.UserID], c)
}

// Subscriptions возвращает копии всех подписок пользователя.
func (s *Store) Subscriptions(userID string) []*models.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*models.Subscription, 0, len(s.subscriptions[userID]))
	for _, sub := range s.subscriptions[userID] {
		res = append(res, copySubscription(sub))
	}
	return res
}

// EnqueueMessages пакетно записывает сообщения и уведомления.
func (s *Store) EnqueueMessages(_ context.Context, messages []*models.Message, alerts []*models.Alert) error {
	const op = "storage.memory.EnqueueMessages"
	for _, m := range messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enqueueErr != nil {
		return fmt.Errorf("%s: %w", op, s.enqueueErr)
	}
	for _, m := range messages {
		c := *m
		if c.ID == "" {
			c.ID = uuid.NewString()
			m.ID = c.ID
		}
		s.messages = append(s.messages, &c)
	}
	for _, a := range alerts {
		c := *a
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		s.alerts[a.UserID] = append(s.alerts[a.UserID], &c)
	}
	return nil
}

// Messages возвращает копии поставленных в очередь сообщений.
func (s *Store) Messages() []*models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*models.Message, 0, len(s.messages))
	for _, m := range s.messages {
		c := *m
		res = append(res, &c)
	}
	return res
}

// Alerts возвращает копии уведомлений пользователя.
func (s *Store) Alerts(userID string) []*models.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*models.Alert, 0, len(s.alerts[userID]))
	for _, a := range s.alerts[userID] {
		c := *a
		res = append(res, &c)
	}
	return res
}

// memTx транзакция, вызывается под блокировкой хранилища.
type memTx struct {
	store  *Store
	writes []func()
}

func (t *memTx) checkRead() error {
	if len(t.writes) > 0 {
		return storage.ErrReadAfterWrite
	}
	return nil
}

func (t *memTx) GetUser(_ context.Context, userID string) (*models.User, error) {
	if err := t.checkRead(); err != nil {
		return nil, fmt.Errorf("storage.memory.tx.GetUser: %w", err)
	}
	return t.store.getUser(userID)
}

func (t *memTx) FindSubscription(_ context.Context, userID, subscriptionType string) (*models.Subscription, error) {
	if err := t.checkRead(); err != nil {
		return nil, fmt.Errorf("storage.memory.tx.FindSubscription: %w", err)
	}
	for _, sub := range t.store.subscriptions[userID] {
		if sub.SubscriptionType == subscriptionType {
			return copySubscription(sub), nil
		}
	}
	return nil, nil
}

func (t *memTx) SaveSubscription(_ context.Context, sub *models.Subscription) error {
	const op = "storage.memory.tx.SaveSubscription"
	if err := sub.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
		if sub.CreatedAt.IsZero() {
			sub.CreatedAt = time.Now().UTC()
		}
		c := copySubscription(sub)
		t.writes = append(t.writes, func() {
			t.store.subscriptions[c.UserID] = append(t.store.subscriptions[c.UserID], c)
		})
		return nil
	}

	c := copySubscription(sub)
	found := false
	for _, existing := range t.store.subscriptions[c.UserID] {
		if existing.ID == c.ID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%s: subscription %s not found", op, c.ID)
	}
	t.writes = append(t.writes, func() {
		for i, existing := range t.store.subscriptions[c.UserID] {
			if existing.ID == c.ID {
				t.store.subscriptions[c.UserID][i] = c
			}
		}
	})
	return nil
}

func (t *memTx) AppendHistory(_ context.Context, entry *models.HistoryEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("storage.memory.tx.AppendHistory: %w", err)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	c := *entry
	t.writes = append(t.writes, func() {
		t.store.history[c.UserID] = append(t.store.history[c.UserID], &c)
	})
	return nil
}

func (t *memTx) userForWrite(op, userID string) (*models.User, error) {
	u, ok := t.store.users[userID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return u, nil
}

func (t *memTx) SetBalance(_ context.Context, userID string, balance decimal.Decimal) error {
	const op = "storage.memory.tx.SetBalance"
	if balance.IsNegative() {
		return fmt.Errorf("%s: negative balance %s", op, balance)
	}
	u, err := t.userForWrite(op, userID)
	if err != nil {
		return err
	}
	t.writes = append(t.writes, func() {
		u.Balance = balance
	})
	return nil
}

func (t *memTx) SetCheckin(_ context.Context, userID string, balance decimal.Decimal, checkinAt time.Time) error {
	const op = "storage.memory.tx.SetCheckin"
	if balance.IsNegative() {
		return fmt.Errorf("%s: negative balance %s", op, balance)
	}
	u, err := t.userForWrite(op, userID)
	if err != nil {
		return err
	}
	at := checkinAt
	t.writes = append(t.writes, func() {
		u.Balance = balance
		u.CheckinAt = &at
	})
	return nil
}

func (t *memTx) LinkPartner(_ context.Context, userID string, link models.PartnerLink) error {
	const op = "storage.memory.tx.LinkPartner"
	if err := link.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	u, err := t.userForWrite(op, userID)
	if err != nil {
		return err
	}
	t.writes = append(t.writes, func() {
		if u.Partners == nil {
			u.Partners = make(map[models.Partner]models.PartnerLink)
		}
		current := u.Partners[link.Partner]
		current.Partner = link.Partner
		current.UID = link.UID
		if link.KYC != "" {
			current.KYC = link.KYC
		}
		if !link.LinkedAt.IsZero() {
			current.LinkedAt = link.LinkedAt
		}
		u.Partners[link.Partner] = current
	})
	return nil
}

func (t *memTx) MarkBonusGranted(_ context.Context, userID string, partner models.Partner) error {
	const op = "storage.memory.tx.MarkBonusGranted"
	u, err := t.userForWrite(op, userID)
	if err != nil {
		return err
	}
	t.writes = append(t.writes, func() {
		if u.Partners == nil {
			u.Partners = make(map[models.Partner]models.PartnerLink)
		}
		current := u.Partners[partner]
		current.Partner = partner
		current.BonusGranted = true
		u.Partners[partner] = current
	})
	return nil
}

func copyUser(u *models.User) *models.User {
	c := *u
	if u.CheckinAt != nil {
		at := *u.CheckinAt
		c.CheckinAt = &at
	}
	c.Bots = make(map[string]string, len(u.Bots))
	for k, v := range u.Bots {
		c.Bots[k] = v
	}
	c.Partners = make(map[models.Partner]models.PartnerLink, len(u.Partners))
	for k, v := range u.Partners {
		c.Partners[k] = v
	}
	return &c
}

func copySubscription(sub *models.Subscription) *models.Subscription {
	c := *sub
	if sub.EndDate != nil {
		end := *sub.EndDate
		c.EndDate = &end
	}
	return &c
}
