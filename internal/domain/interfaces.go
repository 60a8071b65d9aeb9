package domain

import (
	"context"
	"time"
)

// AdmitParams contém os parâmetros da admissão atômica de uma requisição
type AdmitParams struct {
	Identifier     string
	IdentifierType IdentifierType
	DailyLimit     int
	WindowSize     time.Duration
	ReflinkID      string
	Now            time.Time
}

// WindowStore define a interface de armazenamento das janelas de contagem
type WindowStore interface {
	// Get recupera a janela corrente (não expirada) de um identificador
	// Retorna nil quando não existe janela corrente
	Get(ctx context.Context, identifier string, identifierType IdentifierType) (*RateLimitWindow, error)

	// Admit executa em um único passo atômico: busca da janela corrente,
	// criação preguiçosa (ou substituição de janela expirada) e incremento
	// condicional guardado por requestsCount < dailyLimit. Retorna a janela
	// após a operação e se o incremento foi aplicado. Com dailyLimit -1 o
	// incremento é incondicional. Duas chamadas concorrentes nunca podem
	// ambas passar do limite
	Admit(ctx context.Context, params AdmitParams) (*RateLimitWindow, bool, error)

	// PurgeExpired remove janelas expiradas antes do horizonte de retenção
	PurgeExpired(ctx context.Context, before time.Time) (int, error)

	// Health verifica se o storage está saudável
	Health(ctx context.Context) error

	// Close fecha a conexão com o storage
	Close() error
}

// ReflinkStore define a interface de armazenamento dos reflinks
type ReflinkStore interface {
	// Create persiste um novo reflink; retorna DuplicateCodeError em colisão de código
	Create(ctx context.Context, reflink *Reflink) error

	// GetByID recupera um reflink pelo ID; nil quando não existe
	GetByID(ctx context.Context, id string) (*Reflink, error)

	// GetByCode recupera um reflink pelo código; nil quando não existe
	GetByCode(ctx context.Context, code string) (*Reflink, error)

	// Update persiste as alterações de um reflink existente
	Update(ctx context.Context, reflink *Reflink) error

	// Delete remove um reflink (soft delete: janelas históricas mantêm a referência)
	Delete(ctx context.Context, id string) error

	// List retorna todos os reflinks não removidos
	List(ctx context.Context) ([]*Reflink, error)
}

// BlacklistStore define a interface de armazenamento da blacklist
type BlacklistStore interface {
	// GetByIP recupera a entrada de um IP; nil quando não existe
	GetByIP(ctx context.Context, ip string) (*BlacklistEntry, error)

	// ApplyViolation registra uma violação em um único passo atômico de
	// read-modify-write: cria a entrada de primeira ofensa ou aplica
	// RegisterViolation sobre a existente. O id é usado apenas na criação
	ApplyViolation(ctx context.Context, id, ip, reason string, blockThreshold int, now time.Time) (*BlacklistEntry, error)

	// Upsert cria ou substitui a entrada de um IP
	Upsert(ctx context.Context, entry *BlacklistEntry) error

	// List retorna todas as entradas da blacklist
	List(ctx context.Context) ([]*BlacklistEntry, error)

	// ListAutoReinstatable retorna entradas bloqueadas antes do horizonte,
	// reinstaláveis e ainda não reintegradas
	ListAutoReinstatable(ctx context.Context, blockedBefore time.Time) ([]*BlacklistEntry, error)
}

// RateLimitLogStore define a interface do log de auditoria append-only
type RateLimitLogStore interface {
	// Append registra uma verificação (permitida ou bloqueada)
	Append(ctx context.Context, entry *RateLimitLogEntry) error

	// PurgeOlderThan remove registros anteriores ao horizonte de retenção
	PurgeOlderThan(ctx context.Context, before time.Time) (int, error)

	// UsageByReflink agrega as estatísticas de uso de um reflink
	UsageByReflink(ctx context.Context, reflinkID string) (*ReflinkUsage, error)
}

// SecurityNotifier define o colaborador externo de notificações de segurança
// Chamadas são fire-and-forget: falhas são registradas e nunca propagadas
type SecurityNotifier interface {
	// NotifyWarning notifica a transição de um IP para o estado de warning
	NotifyWarning(ctx context.Context, ip, message string, details map[string]interface{}) error

	// NotifyBlocked notifica a transição de um IP para o estado bloqueado
	NotifyBlocked(ctx context.Context, ip, message string, details map[string]interface{}) error
}

// ReflinkRegistryService define o serviço de gestão dos reflinks
type ReflinkRegistryService interface {
	// CreateReflink cria um reflink; DailyLimit omitido usa o padrão do tier
	CreateReflink(ctx context.Context, input CreateReflinkInput) (*Reflink, error)

	// ValidateReflink valida um código na ordem existência -> ativo -> expiração
	// A primeira checagem que falha vence; nenhuma checagem posterior roda
	ValidateReflink(ctx context.Context, code string) (*ReflinkValidation, error)

	// GetReflink recupera um reflink pelo ID
	GetReflink(ctx context.Context, id string) (*Reflink, error)

	// UpdateReflink aplica um patch parcial a um reflink existente
	UpdateReflink(ctx context.Context, id string, patch ReflinkPatch) (*Reflink, error)

	// DeleteReflink remove um reflink (soft delete)
	DeleteReflink(ctx context.Context, id string) error

	// ListReflinks retorna todos os reflinks
	ListReflinks(ctx context.Context) ([]*Reflink, error)

	// GetUsage retorna as estatísticas de uso agregadas do log de auditoria
	GetUsage(ctx context.Context, id string) (*ReflinkUsage, error)
}

// CreateReflinkInput contém os dados de criação de um reflink
type CreateReflinkInput struct {
	Code        string
	Name        string
	Description string
	Tier        RateLimitTier
	DailyLimit  *int
	ExpiresAt   *time.Time
	CreatedBy   string
}

// ReflinkPatch contém as alterações parciais de um reflink
// Campos nil permanecem inalterados
type ReflinkPatch struct {
	Name        *string
	Description *string
	Tier        *RateLimitTier
	DailyLimit  *int
	ExpiresAt   *time.Time
	IsActive    *bool
}

// BlacklistManagerService define o serviço de gestão da blacklist
type BlacklistManagerService interface {
	// RecordViolation registra uma violação automática; a primeira ofensa
	// é um warning e nunca bloqueia
	RecordViolation(ctx context.Context, ip, reason string) (*ViolationResult, error)

	// BlacklistIP bloqueia um IP diretamente por ação administrativa,
	// upsert idempotente que pula o estado de warning
	BlacklistIP(ctx context.Context, ip, reason string, violationCount *int) (*BlacklistEntry, error)

	// IsBlacklisted indica se um IP está bloqueado e não reintegrado
	IsBlacklisted(ctx context.Context, ip string) (*BlacklistStatus, error)

	// Reinstate reintegra um IP por ação administrativa sem resetar o contador
	Reinstate(ctx context.Context, ip, reinstatedBy string) error

	// GetEntry recupera a entrada de um IP
	GetEntry(ctx context.Context, ip string) (*BlacklistEntry, error)

	// List retorna todas as entradas da blacklist
	List(ctx context.Context) ([]*BlacklistEntry, error)

	// AutoReinstateSweep reintegra entradas bloqueadas além do prazo configurado
	AutoReinstateSweep(ctx context.Context, now time.Time) (int, error)
}

// RateLimiterService define o orquestrador de verificação de rate limit
type RateLimiterService interface {
	// CheckRateLimit executa a verificação completa na ordem estrita:
	// blacklist -> resolução de tier -> admissão atômica -> auditoria
	CheckRateLimit(ctx context.Context, params CheckParams) (*CheckResult, error)

	// GetStatus retorna a projeção somente-leitura da cota de um identificador
	GetStatus(ctx context.Context, identifier string, identifierType IdentifierType) (*RateLimitStatus, error)
}

// Logger define a interface para logging estruturado
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
	WithContext(ctx context.Context) Logger
}
