package postgresql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/pulsemate/action-engine/cmd/action-executor/config"
	"github.com/pulsemate/action-engine/cmd/action-executor/shared"
)

// DB is the query surface the oracle needs. *pgxpool.Pool satisfies it; tests
// substitute a fake.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// Connect opens the pool and validates that the rate_limit table exists.
func Connect(cfg *config.Config) (*pgxpool.Pool, error) {
	zap.S().Infof("Connecting to %s@%s:%d/%s [%s]",
		cfg.PostgresUser, cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDatabase, cfg.PostgresSSLMode)

	establishCtx, establishCncl := get5SecondContext()
	defer establishCncl()
	db, err := pgxpool.New(establishCtx, cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open connection to postgres database: %w", err)
	}

	pingCtx, pingCncl := get5SecondContext()
	defer pingCncl()
	if err = db.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("database is not available: %w", err)
	}

	checkCtx, checkCncl := get5SecondContext()
	defer checkCncl()
	var tableName string
	query := `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1`
	err = db.QueryRow(checkCtx, query, "rate_limit").Scan(&tableName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.New("table rate_limit does not exist in the database")
		}
		return nil, fmt.Errorf("failed to check for table rate_limit: %w", err)
	}

	return db, nil
}

// Oracle answers "is this subject currently throttled for this
// platform/method/endpoint, and until when". It is the only writer of the
// rate_limit table. Records are advisory and last-write-wins, so a short TTL
// read cache in front of the table is safe.
type Oracle struct {
	db            DB
	cache         *gocache.Cache
	bufferSeconds int64
	now           func() time.Time
}

func NewOracle(cfg *config.Config, db DB) *Oracle {
	return &Oracle{
		db:            db,
		cache:         gocache.New(cfg.RateLimitCacheTTL, 2*cfg.RateLimitCacheTTL),
		bufferSeconds: cfg.RateLimitBufferSeconds,
		now:           time.Now,
	}
}

// GetResetAt returns the persisted reset time (epoch seconds) for the key, or
// 0 when the subject is not throttled or the window has already passed.
func (o *Oracle) GetResetAt(ctx context.Context, subject, platform, method, endpoint string) (int64, error) {
	key := cacheKey(subject, platform, method, endpoint)
	if cached, ok := o.cache.Get(key); ok {
		return o.clampPast(cached.(int64)), nil
	}

	var resetAt int64
	query := `SELECT reset_at FROM rate_limit WHERE subject = $1 AND platform = $2 AND method = $3 AND endpoint = $4`
	err := o.db.QueryRow(ctx, query, subject, platform, method, endpoint).Scan(&resetAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, shared.WrapTransientInfra(fmt.Errorf("rate limit lookup failed: %s", err))
	}

	o.cache.SetDefault(key, resetAt)
	return o.clampPast(resetAt), nil
}

// RecordLimit persists a reset time for the key. A non-positive resetAt is
// refused: an action must never silently pass through un-rate-limited because
// a translator could not compute the window.
func (o *Oracle) RecordLimit(ctx context.Context, subject, platform, method, endpoint string, resetAt int64) error {
	if resetAt <= 0 {
		return shared.WrapInputValidation(
			fmt.Errorf("refusing rate limit record without a reset time (subject=%s platform=%s %s %s)",
				subject, platform, method, endpoint))
	}

	query := `INSERT INTO rate_limit (subject, platform, method, endpoint, reset_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject, platform, method, endpoint) DO UPDATE SET reset_at = EXCLUDED.reset_at`
	_, err := o.db.Exec(ctx, query, subject, platform, method, endpoint, resetAt)
	if err != nil {
		return shared.WrapTransientInfra(fmt.Errorf("rate limit upsert failed: %s", err))
	}

	o.cache.SetDefault(cacheKey(subject, platform, method, endpoint), resetAt)
	zap.S().Infof("Recorded rate limit for %s/%s %s %s until %d", subject, platform, method, endpoint, resetAt)
	return nil
}

// ComputeDelay converts a reset time into the milliseconds a delayed requeue
// should wait, padded by the configured buffer.
func (o *Oracle) ComputeDelay(resetAt int64) int64 {
	delay := (resetAt - o.now().Unix() + o.bufferSeconds) * 1000
	if delay < 0 {
		return 0
	}
	return delay
}

func (o *Oracle) clampPast(resetAt int64) int64 {
	if resetAt <= o.now().Unix() {
		return 0
	}
	return resetAt
}

func cacheKey(subject, platform, method, endpoint string) string {
	var b strings.Builder
	b.WriteString(subject)
	b.WriteRune('*')
	b.WriteString(platform)
	b.WriteRune('*')
	b.WriteString(method)
	b.WriteRune('*')
	b.WriteString(endpoint)
	return b.String()
}

func GetHealthCheck(db DB) healthcheck.Check {
	return func() error {
		ctx, cncl := get5SecondContext()
		defer cncl()
		if err := db.Ping(ctx); err != nil {
			return errors.New("healthcheck failed to reach database")
		}
		return nil
	}
}

func get5SecondContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
