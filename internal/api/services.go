package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis_rate/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/orbit-workspaces/orbit/internal/audit"
	"github.com/orbit-workspaces/orbit/internal/auth"
	"github.com/orbit-workspaces/orbit/internal/cache"
	"github.com/orbit-workspaces/orbit/internal/config"
	"github.com/orbit-workspaces/orbit/internal/db/repositories"
	"github.com/orbit-workspaces/orbit/internal/guard"
	"github.com/orbit-workspaces/orbit/internal/jobs"
	"github.com/orbit-workspaces/orbit/internal/roblox"
)

// Services holds the components shared by the HTTP server and the CLI
// subcommands.
type Services struct {
	DB    *sql.DB
	Redis redis.UniversalClient

	Workspaces *repositories.WorkspaceRepository
	Roles      *repositories.RoleRepository
	Users      *repositories.UserRepository
	Ranks      *repositories.RankRepository
	Configs    *repositories.WorkspaceConfigRepository
	SyncRuns   *repositories.SyncRunRepository
	Audit      *repositories.AuditRepository

	// Auditor stores audit records through Audit and ships copies to the
	// configured shippers.
	Auditor *audit.Recorder

	Guard    *guard.Guard
	Sessions *auth.SessionSigner
	Groups   *roblox.Client
	SyncJob  *jobs.GroupSyncJob
}

// NeedsRedis reports whether any configured driver uses redis.
func NeedsRedis(cfg *config.Config) bool {
	return cfg.Permissions.CacheDriver == "redis" || cfg.Roblox.PacingDriver == "redis"
}

// NewRedisClient connects to redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (redis.UniversalClient, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewServices builds repositories, the permission guard, the group service
// client and the sync job. rdb may be nil when no driver uses redis.
func NewServices(cfg *config.Config, db *sql.DB, rdb redis.UniversalClient) (*Services, error) {
	sqlxDB := sqlx.NewDb(db, "postgres")
	svc := &Services{
		DB:         db,
		Redis:      rdb,
		Workspaces: repositories.NewWorkspaceRepository(sqlxDB),
		Roles:      repositories.NewRoleRepository(sqlxDB),
		Users:      repositories.NewUserRepository(sqlxDB),
		Ranks:      repositories.NewRankRepository(sqlxDB),
		Configs:    repositories.NewWorkspaceConfigRepository(sqlxDB),
		SyncRuns:   repositories.NewSyncRunRepository(sqlxDB),
		Audit:      repositories.NewAuditRepository(db),
	}

	auditor, err := audit.NewRecorderFromConfig(svc.Audit, &cfg.Audit)
	if err != nil {
		return nil, err
	}
	svc.Auditor = auditor

	permCache, err := newPermissionCache(cfg, rdb)
	if err != nil {
		return nil, err
	}
	svc.Guard = guard.New(svc.Users, permCache, guard.Options{
		TTL:            cfg.Permissions.CacheTTL,
		ServiceBaseURL: cfg.Auth.ServiceBaseURL,
		ServiceKey:     cfg.Auth.ServiceKey,
	})

	svc.Sessions, err = auth.NewSessionSigner(cfg.Auth.SessionSecret, cfg.Auth.SessionTTL)
	if err != nil {
		return nil, err
	}

	pacer, err := newPacer(cfg, rdb)
	if err != nil {
		return nil, err
	}
	svc.Groups = roblox.NewClient(&cfg.Roblox, pacer)

	svc.SyncJob = jobs.NewGroupSyncJob(svc.Groups, jobs.Stores{
		Workspaces: svc.Workspaces,
		Roles:      svc.Roles,
		Users:      svc.Users,
		Ranks:      svc.Ranks,
		Configs:    svc.Configs,
		SyncRuns:   svc.SyncRuns,
	}, svc.Guard, cfg.Sync.UserLookupPacing)

	return svc, nil
}

func newPermissionCache(cfg *config.Config, rdb redis.UniversalClient) (cache.Cache, error) {
	switch cfg.Permissions.CacheDriver {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("permissions.cache_driver is redis but no redis client is configured")
		}
		slog.Info("permission cache: redis", "prefix", cfg.Redis.Prefix)
		return cache.NewRedis(rdb, cfg.Redis.Prefix), nil
	default:
		slog.Info("permission cache: memory", "size", cfg.Permissions.CacheSize, "ttl", cfg.Permissions.CacheTTL)
		return cache.NewMemory(cfg.Permissions.CacheSize, cfg.Permissions.CacheTTL), nil
	}
}

// newPacer returns the limiter shared by every group service call. The redis
// pacer spreads one budget across all replicas.
func newPacer(cfg *config.Config, rdb redis.UniversalClient) (roblox.Pacer, error) {
	switch cfg.Roblox.PacingDriver {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("roblox.pacing_driver is redis but no redis client is configured")
		}
		key := cfg.Redis.Prefix + "roblox-pacer"
		return roblox.NewRedisPacer(redis_rate.NewLimiter(rdb), key, cfg.Roblox.Pacing), nil
	default:
		return roblox.NewLocalPacer(cfg.Roblox.Pacing), nil
	}
}

// Close releases resources owned by the services. The database and redis
// connections belong to the caller.
func (s *Services) Close() error {
	if s.Auditor != nil {
		return s.Auditor.Close()
	}
	return nil
}
