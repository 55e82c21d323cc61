package application

import (
	"log/slog"
	"math/rand"
	"time"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/ports"
)

const (
	RoleAdmin    = "admin"
	RoleStaff    = "staff"
	RoleCustomer = "customer"
	RoleGuest    = "guest"
	RoleSystem   = "system"
)

type Config struct {
	ServiceName        string
	IdempotencyTTL     time.Duration
	MaxConflictRetries int
	LockTTL            time.Duration
	PaymentCallbackURL string
	StalePaymentAge    time.Duration
	SweepBatchSize     int
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	SubjectID      string
	Role           string
	RequestID      string
	IdempotencyKey string
}

// SystemActor is used by webhook handling and scheduled sweeps.
func SystemActor(name string) Actor {
	return Actor{SubjectID: "system:" + name, Role: RoleSystem}
}

func (a Actor) IsStaff() bool {
	return a.Role == RoleAdmin || a.Role == RoleStaff || a.Role == RoleSystem
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

type Dependencies struct {
	Config Config

	Orders      ports.OrderRepository
	Tabs        ports.TabRepository
	Payments    ports.PaymentRepository
	Points      ports.PointsRepository
	RewardRules ports.RewardRuleRepository
	Rewards     ports.RewardRepository
	Settings    ports.SettingsRepository
	Audit       ports.AuditLogRepository
	Idempotency ports.IdempotencyRepository
	Outbox      ports.OutboxRepository

	Inventory     ports.InventoryAdjuster
	Notifier      ports.Notifier
	Gateway       ports.PaymentGateway
	Webhooks      ports.WebhookVerifier
	Locker        ports.Locker
	SettingsCache ports.SettingsCache
	Metrics       ports.Metrics

	Logger *slog.Logger
	Random func() float64
	Clock  func() time.Time
}

type Service struct {
	cfg Config

	orders      ports.OrderRepository
	tabs        ports.TabRepository
	payments    ports.PaymentRepository
	points      ports.PointsRepository
	rewardRules ports.RewardRuleRepository
	rewards     ports.RewardRepository
	settings    ports.SettingsRepository
	audit       ports.AuditLogRepository
	idempotency ports.IdempotencyRepository
	outbox      ports.OutboxRepository

	inventory     ports.InventoryAdjuster
	notifier      ports.Notifier
	gateway       ports.PaymentGateway
	webhooks      ports.WebhookVerifier
	locker        ports.Locker
	settingsCache ports.SettingsCache
	metrics       ports.Metrics

	logger   *slog.Logger
	randomFn func() float64
	nowFn    func() time.Time
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "order-reconciliation-service"
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.MaxConflictRetries <= 0 {
		cfg.MaxConflictRetries = 5
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Second
	}
	if cfg.StalePaymentAge <= 0 {
		cfg.StalePaymentAge = 15 * time.Minute
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 200
	}

	s := &Service{
		cfg:           cfg,
		orders:        deps.Orders,
		tabs:          deps.Tabs,
		payments:      deps.Payments,
		points:        deps.Points,
		rewardRules:   deps.RewardRules,
		rewards:       deps.Rewards,
		settings:      deps.Settings,
		audit:         deps.Audit,
		idempotency:   deps.Idempotency,
		outbox:        deps.Outbox,
		inventory:     deps.Inventory,
		notifier:      deps.Notifier,
		gateway:       deps.Gateway,
		webhooks:      deps.Webhooks,
		locker:        deps.Locker,
		settingsCache: deps.SettingsCache,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
		randomFn:      deps.Random,
		nowFn:         deps.Clock,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("service", cfg.ServiceName, "layer", "application")
	if s.randomFn == nil {
		s.randomFn = rand.Float64
	}
	if s.nowFn == nil {
		s.nowFn = func() time.Time { return time.Now().UTC() }
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	return s
}
