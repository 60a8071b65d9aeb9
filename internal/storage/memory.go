package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"assistant-guard/internal/domain"

	"github.com/google/uuid"
)

// windowKey constrói a chave de uma janela por identificador e tipo
func windowKey(identifier string, identifierType domain.IdentifierType) string {
	return string(identifierType) + ":" + identifier
}

// MemoryWindowStore implementa domain.WindowStore em memória
type MemoryWindowStore struct {
	current  map[string]*domain.RateLimitWindow
	archived []*domain.RateLimitWindow
	mutex    sync.Mutex
	logger   domain.Logger
}

// NewMemoryWindowStore cria uma nova instância do MemoryWindowStore
func NewMemoryWindowStore(logger domain.Logger) *MemoryWindowStore {
	return &MemoryWindowStore{
		current: make(map[string]*domain.RateLimitWindow),
		logger:  logger,
	}
}

// Get recupera a janela corrente de um identificador
func (m *MemoryWindowStore) Get(ctx context.Context, identifier string, identifierType domain.IdentifierType) (*domain.RateLimitWindow, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	window, exists := m.current[windowKey(identifier, identifierType)]
	if !exists || window.IsStale(time.Now()) {
		return nil, nil
	}

	// Cria cópia para evitar modificações concorrentes
	result := *window
	return &result, nil
}

// Admit executa busca, criação preguiçosa e incremento condicional sob o mesmo lock
func (m *MemoryWindowStore) Admit(ctx context.Context, params domain.AdmitParams) (*domain.RateLimitWindow, bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}

	key := windowKey(params.Identifier, params.IdentifierType)
	window, exists := m.current[key]

	// Janela expirada é substituída, nunca mutada; a antiga vai para o histórico
	if exists && window.IsStale(now) {
		m.archived = append(m.archived, window)
		exists = false
	}

	if !exists {
		window = &domain.RateLimitWindow{
			ID:             uuid.NewString(),
			Identifier:     params.Identifier,
			IdentifierType: params.IdentifierType,
			RequestsCount:  0,
			WindowStart:    now,
			WindowEnd:      now.Add(params.WindowSize),
			ReflinkID:      params.ReflinkID,
			CreatedAt:      now,
		}
		m.current[key] = window
	}

	// Incremento condicional: nunca ultrapassa o limite
	if params.DailyLimit != domain.UnlimitedDailyLimit && window.RequestsCount >= params.DailyLimit {
		result := *window
		return &result, false, nil
	}

	window.RequestsCount++
	result := *window
	return &result, true, nil
}

// PurgeExpired remove janelas expiradas antes do horizonte de retenção
func (m *MemoryWindowStore) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	removed := 0

	kept := m.archived[:0]
	for _, window := range m.archived {
		if window.WindowEnd.Before(before) {
			removed++
		} else {
			kept = append(kept, window)
		}
	}
	m.archived = kept

	for key, window := range m.current {
		if window.WindowEnd.Before(before) {
			delete(m.current, key)
			removed++
		}
	}

	return removed, nil
}

// Health verifica se o storage está saudável
func (m *MemoryWindowStore) Health(ctx context.Context) error {
	return nil
}

// Close fecha o storage (no-op para memória)
func (m *MemoryWindowStore) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.current = make(map[string]*domain.RateLimitWindow)
	m.archived = nil
	return nil
}

// MemoryReflinkStore implementa domain.ReflinkStore em memória
type MemoryReflinkStore struct {
	byID    map[string]*domain.Reflink
	deleted map[string]*domain.Reflink
	mutex   sync.RWMutex
}

// NewMemoryReflinkStore cria uma nova instância do MemoryReflinkStore
func NewMemoryReflinkStore() *MemoryReflinkStore {
	return &MemoryReflinkStore{
		byID:    make(map[string]*domain.Reflink),
		deleted: make(map[string]*domain.Reflink),
	}
}

// Create persiste um novo reflink, rejeitando colisão de código
func (m *MemoryReflinkStore) Create(ctx context.Context, reflink *domain.Reflink) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, existing := range m.byID {
		if existing.Code == reflink.Code {
			return domain.NewDuplicateCodeError(reflink.Code)
		}
	}

	stored := *reflink
	m.byID[reflink.ID] = &stored
	return nil
}

// GetByID recupera um reflink pelo ID
func (m *MemoryReflinkStore) GetByID(ctx context.Context, id string) (*domain.Reflink, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	reflink, exists := m.byID[id]
	if !exists {
		return nil, nil
	}

	result := *reflink
	return &result, nil
}

// GetByCode recupera um reflink pelo código
func (m *MemoryReflinkStore) GetByCode(ctx context.Context, code string) (*domain.Reflink, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, reflink := range m.byID {
		if reflink.Code == code {
			result := *reflink
			return &result, nil
		}
	}
	return nil, nil
}

// Update persiste as alterações de um reflink existente
func (m *MemoryReflinkStore) Update(ctx context.Context, reflink *domain.Reflink) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.byID[reflink.ID]; !exists {
		return domain.NewNotFoundError("reflink", reflink.ID)
	}

	stored := *reflink
	m.byID[reflink.ID] = &stored
	return nil
}

// Delete remove um reflink preservando o registro como tombstone
// Janelas históricas continuam referenciando o ID removido
func (m *MemoryReflinkStore) Delete(ctx context.Context, id string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	reflink, exists := m.byID[id]
	if !exists {
		return domain.NewNotFoundError("reflink", id)
	}

	m.deleted[id] = reflink
	delete(m.byID, id)
	return nil
}

// List retorna todos os reflinks não removidos
func (m *MemoryReflinkStore) List(ctx context.Context) ([]*domain.Reflink, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]*domain.Reflink, 0, len(m.byID))
	for _, reflink := range m.byID {
		copied := *reflink
		result = append(result, &copied)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// MemoryBlacklistStore implementa domain.BlacklistStore em memória
type MemoryBlacklistStore struct {
	entries map[string]*domain.BlacklistEntry
	mutex   sync.Mutex
}

// NewMemoryBlacklistStore cria uma nova instância do MemoryBlacklistStore
func NewMemoryBlacklistStore() *MemoryBlacklistStore {
	return &MemoryBlacklistStore{
		entries: make(map[string]*domain.BlacklistEntry),
	}
}

// GetByIP recupera a entrada de um IP
func (m *MemoryBlacklistStore) GetByIP(ctx context.Context, ip string) (*domain.BlacklistEntry, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry, exists := m.entries[ip]
	if !exists {
		return nil, nil
	}

	result := *entry
	return &result, nil
}

// ApplyViolation registra uma violação em um único passo atômico
func (m *MemoryBlacklistStore) ApplyViolation(ctx context.Context, id, ip, reason string, blockThreshold int, now time.Time) (*domain.BlacklistEntry, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry, exists := m.entries[ip]
	if !exists {
		entry = domain.NewBlacklistEntry(id, ip, reason, now)
		m.entries[ip] = entry
	} else {
		entry.RegisterViolation(reason, blockThreshold, now)
	}

	result := *entry
	return &result, nil
}

// Upsert cria ou substitui a entrada de um IP
func (m *MemoryBlacklistStore) Upsert(ctx context.Context, entry *domain.BlacklistEntry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	stored := *entry
	m.entries[entry.IPAddress] = &stored
	return nil
}

// List retorna todas as entradas da blacklist
func (m *MemoryBlacklistStore) List(ctx context.Context) ([]*domain.BlacklistEntry, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	result := make([]*domain.BlacklistEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		copied := *entry
		result = append(result, &copied)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FirstViolationAt.Before(result[j].FirstViolationAt)
	})
	return result, nil
}

// ListAutoReinstatable retorna entradas elegíveis para reintegração automática
func (m *MemoryBlacklistStore) ListAutoReinstatable(ctx context.Context, blockedBefore time.Time) ([]*domain.BlacklistEntry, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var result []*domain.BlacklistEntry
	for _, entry := range m.entries {
		if entry.BlockedAt != nil && entry.ReinstatedAt == nil && entry.CanReinstate && entry.BlockedAt.Before(blockedBefore) {
			copied := *entry
			result = append(result, &copied)
		}
	}
	return result, nil
}

// MemoryLogStore implementa domain.RateLimitLogStore em memória
type MemoryLogStore struct {
	entries []*domain.RateLimitLogEntry
	mutex   sync.Mutex
}

// NewMemoryLogStore cria uma nova instância do MemoryLogStore
func NewMemoryLogStore() *MemoryLogStore {
	return &MemoryLogStore{}
}

// Append registra uma verificação no log de auditoria
func (m *MemoryLogStore) Append(ctx context.Context, entry *domain.RateLimitLogEntry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	stored := *entry
	m.entries = append(m.entries, &stored)
	return nil
}

// PurgeOlderThan remove registros anteriores ao horizonte de retenção
func (m *MemoryLogStore) PurgeOlderThan(ctx context.Context, before time.Time) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	removed := 0
	kept := m.entries[:0]
	for _, entry := range m.entries {
		if entry.Timestamp.Before(before) {
			removed++
		} else {
			kept = append(kept, entry)
		}
	}
	m.entries = kept
	return removed, nil
}

// UsageByReflink agrega as estatísticas de uso de um reflink
func (m *MemoryLogStore) UsageByReflink(ctx context.Context, reflinkID string) (*domain.ReflinkUsage, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	usage := &domain.ReflinkUsage{RequestsByDay: []domain.DayCount{}}
	identifiers := make(map[string]struct{})
	byDay := make(map[string]int)

	for _, entry := range m.entries {
		if entry.ReflinkID != reflinkID {
			continue
		}

		usage.TotalRequests++
		if !entry.Allowed {
			usage.BlockedRequests++
		}
		identifiers[entry.Identifier] = struct{}{}
		byDay[entry.Timestamp.UTC().Format("2006-01-02")]++
	}

	usage.UniqueIdentifiers = len(identifiers)

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)
	for _, day := range days {
		usage.RequestsByDay = append(usage.RequestsByDay, domain.DayCount{Day: day, Count: byDay[day]})
	}

	return usage, nil
}
