package persist

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/l1jgo/cellapp/internal/config"
	"go.uber.org/zap"
)

// DB is the journal's connection pool. One flusher goroutine writes with
// COPY, so a few connections are enough.
type DB struct {
	Pool *pgxpool.Pool
	log  *zap.Logger
}

const connectAttempts = 3

// poolConfig turns the [database] section into a pool config. The journal
// is an audit trail: commits do not wait for the WAL flush.
func poolConfig(cfg config.DatabaseConfig, appName string) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(max(cfg.MaxOpenConns, 1))
	poolCfg.MinConns = int32(min(max(cfg.MaxIdleConns, 0), int(poolCfg.MaxConns)))
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second

	cc := poolCfg.ConnConfig
	// COPY and the two fixed queries; no need for the statement cache
	cc.DefaultQueryExecMode = pgx.QueryExecModeExec
	rp := cc.RuntimeParams
	if appName != "" {
		rp["application_name"] = appName
	}
	rp["synchronous_commit"] = "off"
	if cfg.StatementTimeout > 0 {
		rp["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}
	return poolCfg, nil
}

// NewDB connects and pings, retrying a few times while the database comes up.
func NewDB(ctx context.Context, cfg config.DatabaseConfig, appName string, log *zap.Logger) (*DB, error) {
	poolCfg, err := poolConfig(cfg, appName)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			break
		}
		if attempt == connectAttempts || ctx.Err() != nil {
			pool.Close()
			return nil, fmt.Errorf("ping db after %d attempts: %w", attempt, err)
		}
		log.Warn("資料庫連線失敗，稍後重試", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-time.After(time.Duration(attempt) * time.Second):
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		}
	}

	return &DB{Pool: pool, log: log}, nil
}

func (db *DB) Close() {
	st := db.Pool.Stat()
	db.log.Debug("關閉資料庫連線池",
		zap.Int32("total", st.TotalConns()),
		zap.Int64("acquires", st.AcquireCount()),
	)
	db.Pool.Close()
}
