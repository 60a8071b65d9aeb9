package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"assistant-guard/internal/domain"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// admitScript executa em um único passo atômico a busca da janela corrente,
// a criação preguiçosa (ou substituição de janela expirada) e o incremento
// condicional guardado por requestsCount < limit. Limite -1 incrementa sempre
const admitScript = `
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local fresh_id = ARGV[4]
	local reflink_id = ARGV[5]

	local data = nil
	local current = redis.call('GET', key)
	if current then
		data = cjson.decode(current)
		-- Janela expirada é substituída, nunca mutada
		if now > data.windowEnd then
			data = nil
		end
	end

	if not data then
		data = {
			id = fresh_id,
			requestsCount = 0,
			windowStart = now,
			windowEnd = now + window_ms,
			reflinkId = reflink_id
		}
	end

	local applied = 0
	if limit < 0 or data.requestsCount < limit then
		data.requestsCount = data.requestsCount + 1
		applied = 1
	end

	local ttl = math.ceil((data.windowEnd - now) / 1000)
	if ttl < 1 then
		ttl = 1
	end
	redis.call('SET', key, cjson.encode(data), 'EX', ttl)

	return {applied, data.requestsCount, data.windowStart, data.windowEnd, data.id, data.reflinkId}
`

// redisWindow é a representação serializada de uma janela no Redis
// Timestamps em milissegundos de epoch, como escritos pelo script Lua
type redisWindow struct {
	ID            string `json:"id"`
	RequestsCount int    `json:"requestsCount"`
	WindowStart   int64  `json:"windowStart"`
	WindowEnd     int64  `json:"windowEnd"`
	ReflinkID     string `json:"reflinkId"`
}

// RedisWindowStore implementa domain.WindowStore usando Redis
type RedisWindowStore struct {
	client redis.Cmdable
	logger domain.Logger
}

// NewRedisWindowStore cria uma nova instância do RedisWindowStore
func NewRedisWindowStore(host, port, password string, db int, logger domain.Logger) (*RedisWindowStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,

		// Configurações de performance
		PoolSize:     20,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
	})

	// Testa a conexão
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", map[string]interface{}{
		"host": host,
		"port": port,
		"db":   db,
	})

	return &RedisWindowStore{
		client: rdb,
		logger: logger,
	}, nil
}

// buildWindowKey constrói a chave Redis de uma janela
func buildWindowKey(identifier string, identifierType domain.IdentifierType) string {
	return fmt.Sprintf("assistant_guard:window:%s:%s", identifierType, identifier)
}

// Get recupera a janela corrente de um identificador
func (r *RedisWindowStore) Get(ctx context.Context, identifier string, identifierType domain.IdentifierType) (*domain.RateLimitWindow, error) {
	key := buildWindowKey(identifier, identifierType)

	result, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			// Chave não existe, não há janela corrente
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	var raw redisWindow
	if err := json.Unmarshal([]byte(result), &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal window for key %s: %w", key, err)
	}

	window := r.toDomain(&raw, identifier, identifierType)
	if window.IsStale(time.Now()) {
		return nil, nil
	}

	return window, nil
}

// Admit executa o script atômico de admissão
func (r *RedisWindowStore) Admit(ctx context.Context, params domain.AdmitParams) (*domain.RateLimitWindow, bool, error) {
	key := buildWindowKey(params.Identifier, params.IdentifierType)

	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}

	result, err := r.client.Eval(ctx, admitScript, []string{key},
		params.DailyLimit,
		params.WindowSize.Milliseconds(),
		now.UnixMilli(),
		uuid.NewString(),
		params.ReflinkID,
	).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to admit key %s: %w", key, err)
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) != 6 {
		return nil, false, fmt.Errorf("invalid admit result for key %s", key)
	}

	applied, err := toInt64(resultSlice[0])
	if err != nil {
		return nil, false, fmt.Errorf("invalid applied flag in result for key %s: %w", key, err)
	}

	count, err := toInt64(resultSlice[1])
	if err != nil {
		return nil, false, fmt.Errorf("invalid count in result for key %s: %w", key, err)
	}

	windowStart, err := toInt64(resultSlice[2])
	if err != nil {
		return nil, false, fmt.Errorf("invalid windowStart in result for key %s: %w", key, err)
	}

	windowEnd, err := toInt64(resultSlice[3])
	if err != nil {
		return nil, false, fmt.Errorf("invalid windowEnd in result for key %s: %w", key, err)
	}

	window := &domain.RateLimitWindow{
		ID:             fmt.Sprint(resultSlice[4]),
		Identifier:     params.Identifier,
		IdentifierType: params.IdentifierType,
		RequestsCount:  int(count),
		WindowStart:    time.UnixMilli(windowStart),
		WindowEnd:      time.UnixMilli(windowEnd),
		ReflinkID:      fmt.Sprint(resultSlice[5]),
		CreatedAt:      time.UnixMilli(windowStart),
	}

	return window, applied == 1, nil
}

// PurgeExpired é um no-op no Redis: o TTL das chaves cuida da retenção
func (r *RedisWindowStore) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	return 0, nil
}

// Health verifica se o storage está saudável
func (r *RedisWindowStore) Health(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redis health check failed: %w", err)
	}
	return nil
}

// Close fecha a conexão com o storage
func (r *RedisWindowStore) Close() error {
	if client, ok := r.client.(*redis.Client); ok {
		if err := client.Close(); err != nil {
			r.logger.Error("Failed to close Redis connection", err, nil)
			return err
		}
		r.logger.Info("Redis connection closed", nil)
	}
	return nil
}

// toDomain converte a representação serializada para a entidade de domínio
func (r *RedisWindowStore) toDomain(raw *redisWindow, identifier string, identifierType domain.IdentifierType) *domain.RateLimitWindow {
	return &domain.RateLimitWindow{
		ID:             raw.ID,
		Identifier:     identifier,
		IdentifierType: identifierType,
		RequestsCount:  raw.RequestsCount,
		WindowStart:    time.UnixMilli(raw.WindowStart),
		WindowEnd:      time.UnixMilli(raw.WindowEnd),
		ReflinkID:      raw.ReflinkID,
		CreatedAt:      time.UnixMilli(raw.WindowStart),
	}
}

// toInt64 converte um valor retornado pelo script Lua para int64
func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", value)
	}
}
