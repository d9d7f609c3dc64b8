package main

import (
	"context"
	"fmt"
	"os"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/auditlog"
	"github.com/MrEthical07/authcore/notify"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/userstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// closers run in reverse order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func openRedis(cfg serverConfig, log *zap.Logger, cl *closers) (redis.UniversalClient, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		if !cfg.dev() {
			return nil, fmt.Errorf("REDIS_ADDR is required")
		}
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start miniredis: %w", err)
		}
		cl.add(mr.Close)
		addr = mr.Addr()
		log.Warn("using in-process miniredis; state is lost on exit", zap.String("addr", addr))
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	cl.add(func() { _ = client.Close() })
	return client, nil
}

func openAuditLog(ctx context.Context, cfg serverConfig, rdb redis.UniversalClient, cl *closers) (authcore.AuditLog, error) {
	switch cfg.AuditBackend {
	case "sqlite":
		s, err := auditlog.OpenSQLite(ctx, cfg.AuditDSN)
		if err != nil {
			return nil, err
		}
		cl.add(func() { _ = s.Close() })
		return s, nil
	case "mysql":
		s, err := auditlog.OpenMySQL(ctx, cfg.AuditDSN)
		if err != nil {
			return nil, err
		}
		cl.add(func() { _ = s.Close() })
		return s, nil
	case "postgres":
		s, pool, err := auditlog.OpenPostgres(ctx, cfg.AuditDSN)
		if err != nil {
			return nil, err
		}
		cl.add(pool.Close)
		return s, nil
	case "redis":
		return auditlog.NewRedisStreamStore(rdb, cfg.AuditDSN), nil
	default:
		return nil, fmt.Errorf("unknown AUDIT_BACKEND %q", cfg.AuditBackend)
	}
}

func openUsers(ctx context.Context, cfg serverConfig, ecfg authcore.Config, log *zap.Logger, cl *closers) (authcore.UserProvider, error) {
	switch cfg.UserBackend {
	case "postgres":
		pool, err := userstore.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		cl.add(pool.Close)
		return userstore.NewPostgres(pool), nil
	case "memory":
		users := userstore.NewMemory()
		if cfg.SeedEmail != "" {
			if err := seedUser(users, cfg, ecfg); err != nil {
				return nil, err
			}
			log.Info("seeded user", zap.String("email", cfg.SeedEmail))
		}
		return users, nil
	default:
		return nil, fmt.Errorf("unknown USER_BACKEND %q", cfg.UserBackend)
	}
}

func seedUser(users *userstore.Memory, cfg serverConfig, ecfg authcore.Config) error {
	hasher, err := password.NewArgon2(password.Config{
		Memory:      ecfg.Password.Memory,
		Time:        ecfg.Password.Time,
		Parallelism: ecfg.Password.Parallelism,
		SaltLength:  ecfg.Password.SaltLength,
		KeyLength:   ecfg.Password.KeyLength,
	})
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(cfg.SeedPassword)
	if err != nil {
		return fmt.Errorf("hash seed password: %w", err)
	}
	return users.Put(authcore.UserRecord{
		UserID:       uuid.NewString(),
		Email:        cfg.SeedEmail,
		PasswordHash: hash,
		Roles:        cfg.SeedRoles,
	})
}

// openNotifier returns the alert sink and OTP sender. Without AMQP_URL,
// alerts go to the log, and OTP codes go to stderr in dev mode only.
func openNotifier(cfg serverConfig, log *zap.Logger, cl *closers) (authcore.AlertSink, authcore.OTPSender, error) {
	if cfg.AMQPURL != "" {
		pub, err := notify.Dial(cfg.AMQPURL, notify.Queues{})
		if err != nil {
			return nil, nil, err
		}
		cl.add(func() { _ = pub.Close() })
		return pub, pub, nil
	}
	var otp authcore.OTPSender
	if cfg.dev() {
		otp = notify.NewWriterOTPSender(os.Stderr)
	}
	return notify.NewLogSink(log), otp, nil
}
