package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"

	accountmaintenance "bizportal/internal/accounts/maintenance"
	accountservice "bizportal/internal/accounts/service"
	accountmemory "bizportal/internal/accounts/store/memory"
	accountpg "bizportal/internal/accounts/store/postgres"
	approvalhandler "bizportal/internal/approval/handler"
	approvalmetrics "bizportal/internal/approval/metrics"
	approvalservice "bizportal/internal/approval/service"
	approvalmemory "bizportal/internal/approval/store/memory"
	approvalpg "bizportal/internal/approval/store/postgres"
	approvalredis "bizportal/internal/approval/store/redis"
	"bizportal/internal/audit/anchor"
	audithandler "bizportal/internal/audit/handler"
	auditmetrics "bizportal/internal/audit/metrics"
	auditservice "bizportal/internal/audit/service"
	auditmemory "bizportal/internal/audit/store/memory"
	auditpg "bizportal/internal/audit/store/postgres"
	formshandler "bizportal/internal/forms/handler"
	formsmetrics "bizportal/internal/forms/metrics"
	"bizportal/internal/forms/seed"
	formsservice "bizportal/internal/forms/service"
	formsmemory "bizportal/internal/forms/store/memory"
	formspg "bizportal/internal/forms/store/postgres"
	jwttoken "bizportal/internal/jwt_token"
	"bizportal/internal/notify"
	"bizportal/internal/platform/config"
	"bizportal/internal/platform/errreport"
	"bizportal/internal/platform/kafka"
	platformpg "bizportal/internal/platform/postgres"
	platformredis "bizportal/internal/platform/redis"
	rlmetrics "bizportal/internal/ratelimit/metrics"
	rlmiddleware "bizportal/internal/ratelimit/middleware"
	rlmodels "bizportal/internal/ratelimit/models"
	"bizportal/internal/ratelimit/store/bucket"
	reviewadapters "bizportal/internal/review/adapters"
	reviewhandler "bizportal/internal/review/handler"
	reviewmetrics "bizportal/internal/review/metrics"
	reviewservice "bizportal/internal/review/service"
	reviewmemory "bizportal/internal/review/store/memory"
	reviewpg "bizportal/internal/review/store/postgres"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// infra holds the optional external clients. A nil field means the backend
// is not configured and in-memory implementations are used instead.
type infra struct {
	db       *sql.DB
	redis    *platformredis.Client
	producer *kafka.Producer
}

func connect(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{}

	if cfg.Postgres.URL != "" {
		db, err := platformpg.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		in.db = db
		if err := platformpg.Migrate(ctx, db); err != nil {
			in.close(log)
			return nil, err
		}
		log.Info("postgres connected")
	}

	client, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		in.close(log)
		return nil, err
	}
	if client != nil {
		in.redis = client
		log.Info("redis connected")
	}

	producer, err := kafka.NewProducer(ctx, cfg.Kafka)
	if err != nil {
		in.close(log)
		return nil, err
	}
	if producer != nil {
		in.producer = producer
		if err := producer.EnsureTopic(ctx, cfg.Kafka.AnchorTopic, cfg.Kafka.AnchorPartitions, cfg.Kafka.AnchorReplication); err != nil {
			in.close(log)
			return nil, err
		}
		log.Info("kafka connected", "anchor_topic", cfg.Kafka.AnchorTopic)
	}
	return in, nil
}

func (in *infra) health(ctx context.Context) error {
	var errs []error
	if in.db != nil {
		if err := in.db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if in.redis != nil {
		if err := in.redis.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (in *infra) close(log *slog.Logger) {
	if in.producer != nil {
		in.producer.Close()
	}
	if in.redis != nil {
		if err := in.redis.Close(); err != nil {
			log.Warn("closing redis", "error", err)
		}
	}
	if in.db != nil {
		if err := in.db.Close(); err != nil {
			log.Warn("closing postgres", "error", err)
		}
	}
}

type registrar interface {
	Register(r chi.Router)
}

type app struct {
	dispatcher   *notify.Dispatcher
	anchorWorker *anchor.Worker
	auditQueue   *auditservice.AsyncRecorder
	formsStore   seed.Store
	handlers     []registrar
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger, in *infra) (*app, error) {
	reporter := errreport.NewLogReporter(log, errreport.NewCounter())
	validator := jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer))

	var transport notify.Transport = notify.NewLogTransport(log)
	if in.redis != nil {
		transport = notify.NewRedisTransport(in.redis.Client)
	}
	dispatcher, err := notify.NewDispatcher(transport,
		notify.WithLogger(log),
		notify.WithMetrics(notify.NewMetrics()),
		notify.WithReporter(reporter),
		notify.WithWorkers(cfg.Notify.Workers),
		notify.WithBufferSize(cfg.Notify.BufferSize),
		notify.WithRetry(cfg.Notify.MaxAttempts, cfg.Notify.BaseBackoff),
		notify.WithCircuitBreaker(notify.NewCircuitBreaker(breakerThreshold, breakerCooldown)),
	)
	if err != nil {
		return nil, err
	}

	// audit
	var auditStore auditservice.Store = auditmemory.NewInMemoryStore()
	if in.db != nil {
		auditStore = auditpg.New(in.db)
	}
	auditMetrics := auditmetrics.New()
	auditOpts := []auditservice.Option{
		auditservice.WithLogger(log),
		auditservice.WithMetrics(auditMetrics),
		auditservice.WithReporter(reporter),
	}
	var worker *anchor.Worker
	if in.producer != nil {
		worker = anchor.NewWorker(anchor.NewKafkaAnchor(in.producer, cfg.Kafka.AnchorTopic), auditStore,
			anchor.WithLogger(log),
			anchor.WithMetrics(auditMetrics),
		)
		auditOpts = append(auditOpts, auditservice.WithAnchorQueue(worker))
	}
	audit, err := auditservice.New(auditStore, auditOpts...)
	if err != nil {
		return nil, err
	}
	// workflows write through the queue; the audit API reads the store directly
	auditQueue := auditservice.NewAsyncRecorder(audit,
		auditservice.WithAsyncLogger(log),
		auditservice.WithAsyncMetrics(auditMetrics),
		auditservice.WithQueueSize(cfg.Audit.QueueSize),
	)

	// accounts
	var (
		accountStore interface {
			accountservice.Store
			reviewadapters.AccountStore
		}
		maintenance accountservice.MaintenanceSwitch
	)
	if in.db != nil {
		accountStore = accountpg.New(in.db)
	} else {
		accountStore = accountmemory.NewInMemoryStore()
	}
	if in.redis != nil {
		maintenance = accountmaintenance.NewRedisSwitch(in.redis.Client)
	} else {
		maintenance = accountmaintenance.NewMemorySwitch()
	}
	applier, err := accountservice.NewApplier(accountStore, maintenance, accountservice.WithLogger(log))
	if err != nil {
		return nil, err
	}

	// approval
	var approvalStore approvalservice.Store
	switch {
	case in.redis != nil:
		approvalStore = approvalredis.New(in.redis.Client)
	case in.db != nil:
		approvalStore = approvalpg.New(in.db)
	default:
		approvalStore = approvalmemory.NewInMemoryStore()
	}
	approvals, err := approvalservice.New(approvalStore,
		approvalservice.WithLogger(log),
		approvalservice.WithMetrics(approvalmetrics.New()),
		approvalservice.WithChangeApplier(applier),
		approvalservice.WithAuditRecorder(auditQueue),
		approvalservice.WithNotifier(dispatcher),
		approvalservice.WithReporter(reporter),
		approvalservice.WithRequiredApprovals(cfg.Approval.RequiredApprovals),
		approvalservice.WithRejectThreshold(cfg.Approval.RejectThreshold),
		approvalservice.WithMaxRetries(cfg.Approval.MaxRetries),
	)
	if err != nil {
		return nil, err
	}

	var limiter rlmiddleware.Limiter = bucket.NewInMemoryBucketStore()
	if in.redis != nil {
		limiter = bucket.NewRedisStore(in.redis.Client)
	}
	rateLimit := rlmiddleware.New(limiter, log,
		rlmiddleware.WithMetrics(rlmetrics.New()),
		rlmiddleware.WithDisabled(cfg.RateLimit.Disabled),
	)
	approvalPolicy := rlmodels.ApprovalRequests
	approvalPolicy.Limit = cfg.RateLimit.ApprovalLimit
	approvalPolicy.Window = cfg.RateLimit.ApprovalWindow

	// review
	var reviewStore reviewservice.Store = reviewmemory.NewInMemoryStore()
	if in.db != nil {
		reviewStore = reviewpg.New(in.db)
	}
	reviews, err := reviewservice.New(reviewStore,
		reviewservice.WithLogger(log),
		reviewservice.WithMetrics(reviewmetrics.New()),
		reviewservice.WithAuditRecorder(auditQueue),
		reviewservice.WithNotifier(dispatcher),
		reviewservice.WithReporter(reporter),
		reviewservice.WithReviewers(reviewadapters.NewAccountsAdapter(accountStore)),
	)
	if err != nil {
		return nil, err
	}

	// forms
	var formsStore interface {
		formsservice.Store
		seed.Store
	} = formsmemory.NewInMemoryStore()
	if in.db != nil {
		formsStore = formspg.New(in.db)
	}
	forms, err := formsservice.New(formsStore,
		formsservice.WithLogger(log),
		formsservice.WithMetrics(formsmetrics.New()),
		formsservice.WithAuditRecorder(auditQueue),
	)
	if err != nil {
		return nil, err
	}

	log.InfoContext(ctx, "services ready",
		"postgres", in.db != nil,
		"redis", in.redis != nil,
		"kafka_anchor", worker != nil,
	)

	return &app{
		dispatcher:   dispatcher,
		anchorWorker: worker,
		auditQueue:   auditQueue,
		formsStore:   formsStore,
		handlers: []registrar{
			audithandler.New(audit, validator, log),
			approvalhandler.New(approvals, validator, log,
				approvalhandler.WithCreateLimit(rateLimit.Limit(approvalPolicy))),
			reviewhandler.New(reviews, validator, log),
			formshandler.New(forms, validator, log),
		},
	}, nil
}

func seedForms(ctx context.Context, path string, store seed.Store, log *slog.Logger) error {
	f, err := seed.LoadFile(path)
	if err != nil {
		return fmt.Errorf("load form seed: %w", err)
	}
	n, err := seed.Apply(ctx, store, f, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("apply form seed: %w", err)
	}
	log.InfoContext(ctx, "form seed applied", "path", path, "groups_created", n)
	return nil
}
