package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fieldops/internal/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TenantSettingsRepository reads per-tenant orchestration overrides, with
// a redis cache in front. Cache failures fall through to the database.
type TenantSettingsRepository struct {
	db     *pgxpool.Pool
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewTenantSettingsRepository(db *pgxpool.Pool, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *TenantSettingsRepository {
	return &TenantSettingsRepository{db: db, rdb: rdb, ttl: ttl, logger: logger}
}

func (r *TenantSettingsRepository) cacheKey(tenantID int64) string {
	return fmt.Sprintf("tenant_settings:%d", tenantID)
}

// Get returns the tenant's overrides, or nil when the tenant has none.
func (r *TenantSettingsRepository) Get(ctx context.Context, tenantID int64) (*config.TenantOverrides, error) {
	if r.rdb != nil {
		cached, err := r.rdb.Get(ctx, r.cacheKey(tenantID)).Bytes()
		if err == nil {
			var overrides config.TenantOverrides
			if err := json.Unmarshal(cached, &overrides); err == nil {
				return &overrides, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			r.logger.Warn("Tenant settings cache read failed, falling back to DB",
				zap.Int64("tenant_id", tenantID),
				zap.Error(err),
			)
		}
	}

	query := `SELECT settings FROM tenant_settings WHERE tenant_id = $1`
	var settingsJSON []byte
	err := r.db.QueryRow(ctx, query, tenantID).Scan(&settingsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to load tenant settings", zap.Int64("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}

	var overrides config.TenantOverrides
	if err := json.Unmarshal(settingsJSON, &overrides); err != nil {
		r.logger.Error("Failed to decode tenant settings", zap.Int64("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}

	if r.rdb != nil {
		if err := r.rdb.Set(ctx, r.cacheKey(tenantID), settingsJSON, r.ttl).Err(); err != nil {
			r.logger.Warn("Tenant settings cache write failed",
				zap.Int64("tenant_id", tenantID),
				zap.Error(err),
			)
		}
	}

	return &overrides, nil
}
