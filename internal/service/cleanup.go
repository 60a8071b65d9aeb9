package service

import (
	"context"
	"time"

	"assistant-guard/internal/domain"
)

// CleanupJob executa a manutenção periódica fora do caminho de requisição:
// purga de janelas expiradas, retenção do log de auditoria e o sweep de
// reintegração automática da blacklist
type CleanupJob struct {
	windows   domain.WindowStore
	logs      domain.RateLimitLogStore
	blacklist domain.BlacklistManagerService
	config    *domain.EngineConfig
	logger    domain.Logger
	stop      chan struct{}
	done      chan struct{}
}

// NewCleanupJob cria uma nova instância do job de limpeza
func NewCleanupJob(
	windows domain.WindowStore,
	logs domain.RateLimitLogStore,
	blacklist domain.BlacklistManagerService,
	config *domain.EngineConfig,
	logger domain.Logger,
) *CleanupJob {
	return &CleanupJob{
		windows:   windows,
		logs:      logs,
		blacklist: blacklist,
		config:    config,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start inicia o loop periódico em uma goroutine própria
func (j *CleanupJob) Start(ctx context.Context) {
	go func() {
		defer close(j.done)

		ticker := time.NewTicker(j.config.CleanupInterval)
		defer ticker.Stop()

		j.logger.Info("Cleanup job started", map[string]interface{}{
			"interval": j.config.CleanupInterval.String(),
		})

		for {
			select {
			case <-ticker.C:
				j.RunOnce(ctx, time.Now())
			case <-j.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop encerra o loop e aguarda o tick corrente terminar
func (j *CleanupJob) Stop() {
	close(j.stop)
	<-j.done
	j.logger.Info("Cleanup job stopped", nil)
}

// RunOnce executa um ciclo completo de manutenção
// Janelas expiradas e registros de auditoria compartilham o mesmo horizonte
// de retenção; o sweep da blacklist usa o prazo próprio de reintegração
func (j *CleanupJob) RunOnce(ctx context.Context, now time.Time) {
	retentionCutoff := now.AddDate(0, 0, -j.config.LogRetentionDays)

	purgedWindows, err := j.windows.PurgeExpired(ctx, retentionCutoff)
	if err != nil {
		j.logger.Error("Failed to purge expired windows", err, nil)
	}

	purgedLogs, err := j.logs.PurgeOlderThan(ctx, retentionCutoff)
	if err != nil {
		j.logger.Error("Failed to purge audit log", err, nil)
	}

	reinstated, err := j.blacklist.AutoReinstateSweep(ctx, now)
	if err != nil {
		j.logger.Error("Failed to run auto-reinstate sweep", err, nil)
	}

	if purgedWindows > 0 || purgedLogs > 0 || reinstated > 0 {
		j.logger.Info("Cleanup cycle completed", map[string]interface{}{
			"purged_windows": purgedWindows,
			"purged_logs":    purgedLogs,
			"reinstated_ips": reinstated,
		})
	}
}
