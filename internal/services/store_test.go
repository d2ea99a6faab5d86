package services

import (
	"sync"

	"entitlement-api/internal/models"
)

// memStore is an in-memory SubscriptionStore for tests. It mirrors the
// database repo's contract: fn in WithRowLock gets a copy of the stored row
// and only a non-nil return is persisted.
type memStore struct {
	mu       sync.Mutex
	nextID   uint
	rows     map[string]*models.Subscription
	webhooks []*models.WebhookRecord
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*models.Subscription)}
}

func storeKey(platform, originalTransactionID string) string {
	return platform + ":" + originalTransactionID
}

func (m *memStore) FindByOriginalTransactionID(platform, originalTransactionID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[storeKey(platform, originalTransactionID)]; ok {
		cp := *row
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) FindByPurchaseToken(purchaseToken string) (*models.Subscription, error) {
	return m.FindByOriginalTransactionID(models.PlatformAndroid, purchaseToken)
}

func (m *memStore) FindLatestByUserID(userID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Subscription
	for _, row := range m.rows {
		if row.UserID != userID {
			continue
		}
		if latest == nil || row.ID > latest.ID {
			latest = row
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *memStore) ListByUserID(userID string) ([]models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Subscription
	for _, row := range m.rows {
		if row.UserID == userID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (m *memStore) ListLive() ([]models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Subscription
	for _, row := range m.rows {
		if row.Status != models.StatusExpired {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (m *memStore) Save(subscription *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persist(subscription)
	return nil
}

func (m *memStore) WithRowLock(platform, originalTransactionID string, fn func(existing *models.Subscription) (*models.Subscription, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var existing *models.Subscription
	if row, ok := m.rows[storeKey(platform, originalTransactionID)]; ok {
		cp := *row
		existing = &cp
	}

	out, err := fn(existing)
	if err != nil {
		return err
	}
	if out != nil {
		m.persist(out)
	}
	return nil
}

func (m *memStore) persist(subscription *models.Subscription) {
	if subscription.ID == 0 {
		m.nextID++
		subscription.ID = m.nextID
	}
	cp := *subscription
	m.rows[storeKey(subscription.Platform, subscription.OriginalTransactionID)] = &cp
}

func (m *memStore) RecordWebhook(record *models.WebhookRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	record.ID = m.nextID
	m.webhooks = append(m.webhooks, record)
	return nil
}

func (m *memStore) MarkWebhookProcessed(id uint, processErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.webhooks {
		if record.ID == id {
			record.Processed = processErr == ""
			record.ProcessError = processErr
		}
	}
	return nil
}

// count returns the number of subscription rows, for asserting that an
// operation wrote nothing.
func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// get returns the stored row without the copy-on-read of the interface
// methods; nil when absent.
func (m *memStore) get(platform, originalTransactionID string) *models.Subscription {
	row, _ := m.FindByOriginalTransactionID(platform, originalTransactionID)
	return row
}
