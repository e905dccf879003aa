// Package bootstrap wires the adapters behind the issuance workflow and the scheduler.
// Both the HTTP service and the batch command start from here.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	authsri "3tcapital/ms_emision_electronica/internal/adapters/authority/sri"
	auditpg "3tcapital/ms_emision_electronica/internal/adapters/audit/postgres"
	documentpg "3tcapital/ms_emision_electronica/internal/adapters/document/postgres"
	docsri "3tcapital/ms_emision_electronica/internal/adapters/document/sri"
	"3tcapital/ms_emision_electronica/internal/adapters/lock/memory"
	redislock "3tcapital/ms_emision_electronica/internal/adapters/lock/redis"
	"3tcapital/ms_emision_electronica/internal/adapters/notification/email"
	"3tcapital/ms_emision_electronica/internal/adapters/receipt/pdf"
	"3tcapital/ms_emision_electronica/internal/adapters/signing/xades"
	s3store "3tcapital/ms_emision_electronica/internal/adapters/storage/s3"
	storepg "3tcapital/ms_emision_electronica/internal/adapters/store/postgres"
	submissionpg "3tcapital/ms_emision_electronica/internal/adapters/submission/postgres"
	tenantpg "3tcapital/ms_emision_electronica/internal/adapters/tenant/postgres"
	apphealth "3tcapital/ms_emision_electronica/internal/application/health"
	"3tcapital/ms_emision_electronica/internal/application/issuance"
	"3tcapital/ms_emision_electronica/internal/application/scheduler"
	"3tcapital/ms_emision_electronica/internal/core/audit"
	corehealth "3tcapital/ms_emision_electronica/internal/core/health"
	"3tcapital/ms_emision_electronica/internal/core/lock"
	"3tcapital/ms_emision_electronica/internal/core/notification"
	"3tcapital/ms_emision_electronica/internal/infrastructure/config"
	"3tcapital/ms_emision_electronica/internal/infrastructure/database"
	httpinfra "3tcapital/ms_emision_electronica/internal/infrastructure/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Container holds the wired services and the resources to release on Close.
type Container struct {
	Pool      *pgxpool.Pool
	Workflow  *issuance.Workflow
	Scheduler *scheduler.Scheduler
	Health    *apphealth.Service

	closers []func()
}

// New connects to every backing service and builds the workflow and scheduler.
// Resources opened before a failure are released before returning.
func New(ctx context.Context, cfg config.AppConfig, log *slog.Logger) (c *Container, err error) {
	c = &Container{}
	defer func() {
		if err != nil {
			c.Close()
			c = nil
		}
	}()

	if cfg.Database.Host == "" || cfg.Database.Database == "" {
		return c, errors.New("database connection required")
	}

	pool, err := database.NewPool(ctx, database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		Database:        cfg.Database.Database,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return c, fmt.Errorf("connect database: %w", err)
	}
	c.Pool = pool
	c.closers = append(c.closers, pool.Close)
	log.Info("Database connection established", "database", cfg.Database.Database)

	if cfg.Database.RunMigrations {
		if err := database.RunMigrations(ctx, pool, log); err != nil {
			return c, fmt.Errorf("run migrations: %w", err)
		}
	}

	checkers := []corehealth.Checker{
		corehealth.CheckFunc{DependencyName: "postgres", Fn: pool.Ping},
	}

	var auditRepo audit.Repository
	if cfg.Audit.Enabled {
		auditRepo = auditpg.NewRepository(pool, log)
		log.Info("Audit trail configuration: ENABLED", "max_body_size", cfg.Audit.MaxBodySize)
	} else {
		log.Info("Audit trail configuration: DISABLED")
	}

	authorityHTTP := httpinfra.NewTracedClient(&httpinfra.TracedClientConfig{
		Timeout:         cfg.Authority.Timeout,
		AuditEnabled:    cfg.Audit.Enabled,
		LogRequestBody:  cfg.Audit.LogRequestBody,
		LogResponseBody: cfg.Audit.LogResponseBody,
		MaxBodySize:     cfg.Audit.MaxBodySize,
		MaxConnsPerHost: cfg.Authority.MaxConcurrentRequests,
	}, log, auditRepo, "sri")

	authorityClient := authsri.NewClient(authsri.Config{
		Test: authsri.Endpoints{
			Reception:     cfg.Authority.TestReceptionURL,
			Authorization: cfg.Authority.TestAuthorizationURL,
		},
		Production: authsri.Endpoints{
			Reception:     cfg.Authority.ProductionReceptionURL,
			Authorization: cfg.Authority.ProductionAuthorizationURL,
		},
		Timeout:            cfg.Authority.Timeout,
		MaxConcurrent:      cfg.Authority.MaxConcurrentRequests,
		RateLimitRPS:       cfg.Authority.RateLimitRPS,
		BreakerMaxFailures: cfg.Authority.BreakerMaxFailures,
		BreakerFailureRate: cfg.Authority.BreakerFailureRate,
		BreakerCooldown:    cfg.Authority.BreakerCooldown,
	}, authorityHTTP, log)
	checkers = append(checkers, authorityClient)

	blobs, err := s3store.NewStore(ctx, s3store.Config{
		Bucket:          cfg.Storage.Bucket,
		Region:          cfg.Storage.Region,
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		UsePathStyle:    cfg.Storage.UsePathStyle,
	}, httpinfra.NewClient(&httpinfra.ClientConfig{
		Timeout:         cfg.Workflow.NotifyTimeout,
		MaxConnsPerHost: cfg.Authority.MaxConcurrentRequests,
	}))
	if err != nil {
		return c, fmt.Errorf("create blob store: %w", err)
	}
	checkers = append(checkers, blobs)

	notifier, err := newNotifier(cfg.Mail, log)
	if err != nil {
		return c, err
	}

	var locker lock.Locker
	if cfg.Redis.Enabled {
		rdb, err := redislock.NewClient(ctx, redislock.Config{
			Address:  cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return c, fmt.Errorf("connect redis: %w", err)
		}
		c.closers = append(c.closers, func() { _ = rdb.Close() })
		redisLocker := redislock.NewLocker(rdb)
		locker = redisLocker
		checkers = append(checkers, redisLocker)
		log.Info("Tenant locks backed by redis", "addr", cfg.Redis.Addr)
	} else {
		locker = memory.NewLocker()
		log.Warn("Redis disabled, tenant locks only hold within this process")
	}

	documents := documentpg.NewRepository(pool)
	c.Workflow = issuance.New(issuance.Dependencies{
		Tx:          storepg.NewTxRunner(pool),
		Documents:   documents,
		Companies:   documentpg.NewCompanyRepository(pool),
		Submissions: submissionpg.NewRepository(pool),
		Builder:     docsri.NewBuilder(),
		Signer:      xades.NewSigner(),
		Authority:   authorityClient,
		Blobs:       blobs,
		Renderer:    pdf.NewRenderer(),
		Notifier:    notifier,
	}, issuance.Config{
		MaxAttempts:       cfg.Workflow.MaxAttempts,
		RetryInterval:     cfg.Workflow.RetryInterval,
		SignTimeout:       cfg.Workflow.SignTimeout,
		NotifyTimeout:     cfg.Workflow.NotifyTimeout,
		ReceiptURLTTL:     cfg.Workflow.ReceiptURLTTL,
		NotifyOnAuthorize: cfg.Workflow.NotifyOnAuthorize,
		CompanyCacheTTL:   cfg.Cache.CompanyTTL,
	}, log)

	c.Scheduler = scheduler.New(tenantpg.NewRegistry(pool), documents, c.Workflow, locker, scheduler.Config{
		Interval:        cfg.Scheduler.Interval,
		StaleAfter:      cfg.Scheduler.StaleAfter,
		TenantWorkers:   cfg.Scheduler.TenantWorkers,
		DocumentWorkers: cfg.Scheduler.DocumentWorkers,
		DocumentBatch:   cfg.Scheduler.DocumentBatch,
		LockTTL:         cfg.Scheduler.LockTTL,
	}, log)

	c.Health = apphealth.NewService(apphealth.Metadata{
		Service:     cfg.App.Name,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
	}, checkers...)

	return c, nil
}

// newNotifier sends mail over SMTP when enabled and only logs messages otherwise.
func newNotifier(cfg config.MailSettings, log *slog.Logger) (notification.Notifier, error) {
	if !cfg.Enabled {
		log.Warn("Mail disabled, notifications will only be logged")
		return email.NewLogNotifier(log), nil
	}
	client, err := email.NewClient(email.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		TLS:      cfg.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create mail client: %w", err)
	}
	log.Info("Mail notifications enabled", "host", cfg.Host, "from", cfg.From)
	return email.NewNotifier(client, cfg.From, log), nil
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
