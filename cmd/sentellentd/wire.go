package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"Sentellent-Agent/internal/agent"
	"Sentellent-Agent/internal/auth"
	"Sentellent-Agent/internal/config"
	"Sentellent-Agent/internal/events"
	"Sentellent-Agent/internal/llm"
	"Sentellent-Agent/internal/llm/anthropic"
	"Sentellent-Agent/internal/llm/execbridge"
	"Sentellent-Agent/internal/llm/openai"
	"Sentellent-Agent/internal/observability/alerting"
	"Sentellent-Agent/internal/router"
	"Sentellent-Agent/internal/state"
	"Sentellent-Agent/internal/storage/cache"
	redisstore "Sentellent-Agent/internal/storage/redis"
	"Sentellent-Agent/internal/storage/sqlstore"
	"Sentellent-Agent/internal/tools"
	"Sentellent-Agent/pkg/logger"
)

// app 汇总一次进程运行所需的全部组件。
type app struct {
	cfg      *config.Config
	store    state.Store
	vault    *tools.Vault
	mailbox  *tools.Mailbox
	calendar *tools.Calendar
	registry *tools.Registry
	agent    *agent.Service
	queue    events.Queue
	alerts   alerting.Dispatcher
	closers  []func() error
	logger   *slog.Logger
}

// openStore 按驱动打开会话存储，同时返回凭据后端。
func openStore(ctx context.Context, cfg *config.Config) (state.Store, tools.CredentialBackend, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return state.NewMemoryStore(), tools.NewMemoryBackend(), nil
	case sqlstore.DriverSQLite, sqlstore.DriverMySQL:
		if cfg.Storage.Driver == sqlstore.DriverSQLite {
			if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
				return nil, nil, err
			}
		}
		store, err := sqlstore.Open(ctx, sqlstore.Config{
			Driver:          cfg.Storage.Driver,
			DSN:             cfg.Storage.DSN,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

// newProvider 根据配置创建大模型客户端。
func newProvider(cfg *config.Config) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "", "none":
		return llm.Disabled{}, nil
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		})
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		})
	case "exec":
		command := cfg.LLM.Exec.Command
		if _, err := os.Stat(execbridge.ResolvePath(cfg.LLM.Exec.WorkingDir, command)); err == nil {
			command = execbridge.ResolvePath(cfg.LLM.Exec.WorkingDir, command)
		}
		return execbridge.NewClient(command, cfg.LLM.Exec.Args, cfg.LLM.Exec.WorkingDir)
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

// newAlerts 组装告警渠道，未启用时返回 nil。
func newAlerts(cfg *config.Config, mail tools.MailService) alerting.Dispatcher {
	if !cfg.Alerting.Enabled {
		return nil
	}
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Audit()}}
	if cfg.Alerting.SlackWebhookURL != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender: alerting.NewWebhookSender(cfg.Alerting.SlackWebhookURL).SlackSender(),
		})
	}
	if cfg.Alerting.DingTalkURL != "" {
		notifiers = append(notifiers, &alerting.DingTalkNotifier{
			Sender: alerting.NewWebhookSender(cfg.Alerting.DingTalkURL),
		})
	}
	if cfg.Alerting.Email != "" {
		to := tools.SplitRecipients(cfg.Alerting.Email)
		if len(to) == 0 || mail == nil {
			logger.L().Warn("alerting.email 无有效收件人，忽略邮件告警", slog.String("email", cfg.Alerting.Email))
		} else {
			notifiers = append(notifiers, &alerting.EmailNotifier{
				Sender:        &tools.AlertMailer{Mail: mail, Account: cfg.Alerting.EmailAccount},
				To:            to,
				SubjectPrefix: "[sentellent]",
			})
		}
	}
	return alerting.NewFanout(notifiers...)
}

// wireApp 按配置装配存储、缓存、事件、工具与编排服务。
func wireApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger.Named("sentellentd")}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	loc, err := time.LoadLocation(cfg.Agent.Timezone)
	if err != nil {
		return nil, fmt.Errorf("加载时区失败: %w", err)
	}

	store, backend, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	a.vault = tools.NewVault(backend, tools.ProviderGoogle)

	var (
		locker     agent.Locker = agent.NewLocalLocker()
		replay     cache.Cache  = cache.NewMemory(cfg.Redis.IdempotencyTTL)
		deliveries tools.DeliveryLog
		rc         *redisstore.Client
	)
	deliveries = cache.NewMemory(cfg.Redis.IdempotencyTTL)
	if cfg.Redis.Address != "" {
		rc, err = redisstore.NewClient(ctx, redisstore.Config{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rc.Close)
		turnLocker, err := redisstore.NewTurnLocker(rc, cfg.Redis.LockTTL)
		if err != nil {
			return nil, err
		}
		responses, err := redisstore.NewResponseCache(rc, cfg.Redis.IdempotencyTTL)
		if err != nil {
			return nil, err
		}
		locker, replay, deliveries = turnLocker, responses, responses
	}

	switch cfg.Events.Driver {
	case "memory":
		a.queue = events.NewMemoryQueue(cfg.Events.BufferSize)
	case "redis":
		if rc == nil {
			return nil, errors.New("events.driver=redis 需要配置 redis.address")
		}
		a.queue, err = events.NewRedisQueue(rc.Raw(), events.RedisQueueConfig{Queue: cfg.Events.Queue})
	case "rabbitmq":
		a.queue, err = events.NewRabbitMQQueue(events.RabbitMQConfig{
			URL:     cfg.Events.RabbitMQURL,
			Queue:   cfg.Events.Queue,
			Durable: true,
		})
	default:
		err = fmt.Errorf("未知的事件驱动: %s", cfg.Events.Driver)
	}
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.queue.Close)

	a.mailbox = tools.NewMailbox()
	a.alerts = newAlerts(cfg, a.mailbox)
	a.calendar = tools.NewCalendar()
	a.registry, err = tools.NewDefault(a.vault, tools.Services{
		Mail:        a.mailbox,
		Calendar:    a.calendar,
		Preferences: store,
	}, tools.WithPageSize(cfg.Agent.PageSize, cfg.Agent.ShowAllLimit), tools.WithDeliveryLog(deliveries))
	if err != nil {
		return nil, err
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	planner := llm.NewPlanner(provider,
		llm.WithTimeout(cfg.LLM.Timeout),
		llm.WithTokenBudget(cfg.LLM.TokenBudget),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
	)

	opts := []agent.Option{
		agent.WithRouter(router.New(router.WithLocation(loc))),
		agent.WithLocker(locker),
		agent.WithCache(replay),
		agent.WithEvents(a.queue),
		agent.WithLimits(cfg.Agent.MaxIterations, cfg.Agent.MaxFallbackRetries),
		agent.WithFallback(!cfg.Fallback.Disabled),
		agent.WithTimeouts(cfg.Agent.TurnTimeout, cfg.Agent.LockWait),
		agent.WithSandboxTimeout(cfg.Fallback.SandboxTimeout),
	}
	if a.alerts != nil {
		opts = append(opts, agent.WithAlerts(a.alerts))
	}
	if planner.Enabled() {
		opts = append(opts, agent.WithModel(planner))
		if cfg.Fallback.UseLLMCodegen {
			opts = append(opts, agent.WithCodeWriter(planner))
		}
	}
	a.agent, err = agent.New(store, a.registry, opts...)
	if err != nil {
		return nil, err
	}

	a.logger.Info("组件装配完成",
		slog.String("storage", cfg.Storage.Driver),
		slog.String("events", cfg.Events.Driver),
		slog.String("llm", planner.Provider()),
		slog.Bool("redis", rc != nil),
		slog.Bool("fallback", !cfg.Fallback.Disabled),
	)
	return a, nil
}

// runAuditor 在后台消费动作事件，直到 ctx 结束。
func (a *app) runAuditor(ctx context.Context) {
	opts := []events.AuditorOption{events.WithWorkers(a.cfg.Events.Workers)}
	if a.alerts != nil {
		opts = append(opts, events.WithAlertDispatcher(a.alerts))
	}
	auditor := events.NewAuditor(a.queue, opts...)
	go func() {
		if err := auditor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, events.ErrQueueClosed) {
			a.logger.Error("事件审计异常退出", slog.Any("error", err))
		}
	}()
}

// authService 根据配置创建 API 认证服务。
func (a *app) authService() (*auth.Service, error) {
	tokens := make([]auth.Token, 0, len(a.cfg.Auth.Tokens))
	for _, t := range a.cfg.Auth.Tokens {
		tokens = append(tokens, auth.Token{Name: t.Name, Secret: t.Token, Users: t.Users, Disabled: t.Disabled})
	}
	return auth.NewService(auth.Config{Mode: auth.Mode(a.cfg.Auth.Mode), Tokens: tokens})
}

// Close 按逆序释放资源。
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("释放资源失败", slog.Any("error", err))
		}
	}
	a.closers = nil
	_ = logger.Sync()
}
