package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/settlement-engine/models"
	"github.com/yeremiapane/settlement-engine/monitoring"
	"github.com/yeremiapane/settlement-engine/utils"
	"gorm.io/gorm"
)

// JobParams identifies one run of a scheduled job for auditing.
type JobParams struct {
	RunID      uuid.UUID `json:"run_id"`
	ConfigKey  string    `json:"config_key"`
	MerchantID *uint     `json:"merchant_id,omitempty"`
	FiredAt    time.Time `json:"fired_at"`
	// TargetDate is the business day the job works on (yesterday).
	TargetDate time.Time `json:"target_date"`
}

type JobFunc func(ctx context.Context, params JobParams) error

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCronExpression accepts six-field expressions, seconds first.
func ValidateCronExpression(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return models.NewInvariantViolation("invalid cron expression %q: %v", expr, err)
	}
	return nil
}

type SchedulerConfig struct {
	PoolSize       int
	ReloadInterval time.Duration
	JobTimeout     time.Duration
}

type registration struct {
	entryID    cron.EntryID
	cronExpr   string
	merchantID *uint
}

// ScheduledEntry is the operator view of one installed job.
type ScheduledEntry struct {
	ConfigKey      string    `json:"config_key"`
	CronExpression string    `json:"cron_expression"`
	Next           time.Time `json:"next"`
	Prev           time.Time `json:"prev"`
}

// DynamicScheduler installs one cron entry per enabled schedule config. The
// registry and the cron entries only change together under mu, so a key never
// has two live entries.
type DynamicScheduler struct {
	db      *gorm.DB
	cron    *cron.Cron
	lock    JobLock
	metrics *monitoring.Metrics
	cfg     SchedulerConfig

	jobs     map[string]JobFunc
	mu       sync.Mutex
	registry map[string]registration

	pool    chan struct{}
	stop    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
	now     func() time.Time
}

func NewDynamicScheduler(db *gorm.DB, lock JobLock, metrics *monitoring.Metrics, cfg SchedulerConfig) *DynamicScheduler {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 3
	}
	if cfg.ReloadInterval <= 0 {
		cfg.ReloadInterval = 5 * time.Minute
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Minute
	}
	if lock == nil {
		lock = LocalJobLock{}
	}

	logger := cronLogger{}
	return &DynamicScheduler{
		db: db,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
		lock:     lock,
		metrics:  metrics,
		cfg:      cfg,
		jobs:     make(map[string]JobFunc),
		registry: make(map[string]registration),
		pool:     make(chan struct{}, cfg.PoolSize),
		stop:     make(chan struct{}),
		now:      time.Now,
	}
}

// RegisterBatchJobs binds the three known config keys to the batch engine.
func (s *DynamicScheduler) RegisterBatchJobs(batch *SettlementBatchService) {
	s.RegisterJob(models.JobSettlementCreate, func(ctx context.Context, p JobParams) error {
		_, err := batch.CreateSettlements(ctx, p.TargetDate)
		return err
	})
	s.RegisterJob(models.JobSettlementConfirm, func(ctx context.Context, p JobParams) error {
		_, err := batch.ConfirmSettlements(ctx, p.TargetDate)
		return err
	})
	s.RegisterJob(models.JobAdjustmentConfirm, func(ctx context.Context, p JobParams) error {
		_, err := batch.ConfirmAdjustments(ctx, p.TargetDate)
		return err
	})
}

func (s *DynamicScheduler) RegisterJob(configKey string, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[configKey] = fn
}

func (s *DynamicScheduler) HasJob(configKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[configKey]
	return ok
}

// Start loads the schedules, starts cron and reloads periodically. Keys that
// fail to install are logged and retried on the next reload; only a failure to
// read the configs stops the start.
func (s *DynamicScheduler) Start(ctx context.Context) error {
	if err := s.ReloadAll(ctx); err != nil {
		var installErr *ScheduleInstallError
		if !errors.As(err, &installErr) {
			return err
		}
		utils.ErrorLogger.WithFields(logrus.Fields{"config_keys": installErr.Keys}).
			Error("Scheduler starting without some schedules")
	}
	s.cron.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.ReloadInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.ReloadAll(ctx); err != nil {
					utils.ErrorLogger.Printf("Schedule reload failed: %v", err)
				}
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
		}
	}()
	utils.InfoLogger.Printf("Scheduler started with %d entries", len(s.Entries()))
	return nil
}

// Stop waits for running jobs to finish.
func (s *DynamicScheduler) Stop() {
	s.stopped.Do(func() {
		close(s.stop)
		<-s.cron.Stop().Done()
		s.wg.Wait()
		utils.InfoLogger.Println("Scheduler stopped")
	})
}

// ReloadAll re-syncs the registry with every stored config. Keys that were
// deleted or disabled lose their entry.
func (s *DynamicScheduler) ReloadAll(ctx context.Context) error {
	var configs []models.ScheduleConfig
	if err := s.db.WithContext(ctx).Order("config_key").Find(&configs).Error; err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(configs))
	var failed []string
	for i := range configs {
		cfg := &configs[i]
		seen[cfg.ConfigKey] = true
		if err := s.apply(cfg); err != nil {
			failed = append(failed, cfg.ConfigKey)
			utils.ErrorLogger.WithFields(logrus.Fields{"config_key": cfg.ConfigKey}).Errorf("Cannot install schedule: %v", err)
		}
	}
	for key := range s.registry {
		if !seen[key] {
			s.remove(key)
		}
	}

	if len(failed) > 0 {
		return &ScheduleInstallError{Keys: failed}
	}
	return nil
}

// ScheduleInstallError lists config keys that could not be installed. The
// other keys were installed normally.
type ScheduleInstallError struct {
	Keys []string
}

func (e *ScheduleInstallError) Error() string {
	return fmt.Sprintf("schedules not installed: %v", e.Keys)
}

// ReloadOne re-syncs a single key after an operator edit.
func (s *DynamicScheduler) ReloadOne(ctx context.Context, configKey string) error {
	var cfg models.ScheduleConfig
	err := s.db.WithContext(ctx).Where("config_key = ?", configKey).First(&cfg).Error

	s.mu.Lock()
	defer s.mu.Unlock()

	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.remove(configKey)
		return models.NewNotFound("schedule config", configKey)
	}
	if err != nil {
		return err
	}
	return s.apply(&cfg)
}

// apply must be called with mu held.
func (s *DynamicScheduler) apply(cfg *models.ScheduleConfig) error {
	if !cfg.Enabled {
		s.remove(cfg.ConfigKey)
		return nil
	}

	fn, ok := s.jobs[cfg.ConfigKey]
	if !ok {
		s.remove(cfg.ConfigKey)
		return fmt.Errorf("no job is bound to %s", cfg.ConfigKey)
	}

	if current, ok := s.registry[cfg.ConfigKey]; ok &&
		current.cronExpr == cfg.CronExpression && sameMerchant(current.merchantID, cfg.MerchantID) {
		return nil
	}

	schedule, err := cronParser.Parse(cfg.CronExpression)
	if err != nil {
		return models.NewInvariantViolation("invalid cron expression %q: %v", cfg.CronExpression, err)
	}

	key := cfg.ConfigKey
	merchantID := cfg.MerchantID
	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{})).Then(cron.FuncJob(func() {
		s.fire(key, merchantID, fn)
	}))

	s.remove(key)
	entryID := s.cron.Schedule(schedule, job)
	s.registry[key] = registration{
		entryID:    entryID,
		cronExpr:   cfg.CronExpression,
		merchantID: merchantID,
	}
	utils.InfoLogger.WithFields(logrus.Fields{
		"config_key": key,
		"cron":       cfg.CronExpression,
		"entry_id":   entryID,
	}).Info("Schedule installed")
	return nil
}

// remove must be called with mu held.
func (s *DynamicScheduler) remove(configKey string) {
	current, ok := s.registry[configKey]
	if !ok {
		return
	}
	s.cron.Remove(current.entryID)
	delete(s.registry, configKey)
	utils.InfoLogger.WithFields(logrus.Fields{"config_key": configKey}).Info("Schedule removed")
}

func sameMerchant(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Entries lists installed jobs ordered by key.
func (s *DynamicScheduler) Entries() []ScheduledEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]ScheduledEntry, 0, len(s.registry))
	for key, reg := range s.registry {
		entry := s.cron.Entry(reg.entryID)
		entries = append(entries, ScheduledEntry{
			ConfigKey:      key,
			CronExpression: reg.cronExpr,
			Next:           entry.Next,
			Prev:           entry.Prev,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ConfigKey < entries[j].ConfigKey })
	return entries
}

func (s *DynamicScheduler) fire(configKey string, merchantID *uint, fn JobFunc) {
	firedAt := s.now()
	params := JobParams{
		RunID:      uuid.New(),
		ConfigKey:  configKey,
		MerchantID: merchantID,
		FiredAt:    firedAt,
		TargetDate: models.DayStart(firedAt).AddDate(0, 0, -1),
	}
	if err := s.Run(context.Background(), params, fn); err != nil {
		utils.ErrorLogger.WithFields(logrus.Fields{
			"config_key": configKey,
			"run_id":     params.RunID,
		}).Errorf("Scheduled job failed: %v", err)
	}
}

// Run executes fn on the bounded pool under the job lock and the job timeout.
func (s *DynamicScheduler) Run(ctx context.Context, params JobParams, fn JobFunc) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	fields := logrus.Fields{
		"config_key":  params.ConfigKey,
		"run_id":      params.RunID,
		"target_date": params.TargetDate.Format("2006-01-02"),
	}

	select {
	case s.pool <- struct{}{}:
		defer func() { <-s.pool }()
	case <-ctx.Done():
		s.countRun(params.ConfigKey, "timeout")
		return fmt.Errorf("no worker available for %s: %w", params.ConfigKey, ctx.Err())
	}

	release, ok, err := s.lock.Acquire(ctx, params.ConfigKey, s.cfg.JobTimeout)
	if err != nil {
		s.countRun(params.ConfigKey, "error")
		return fmt.Errorf("job lock for %s: %w", params.ConfigKey, err)
	}
	if !ok {
		s.countRun(params.ConfigKey, "locked")
		utils.InfoLogger.WithFields(fields).Info("Job is running elsewhere, skipping")
		return nil
	}
	defer release()

	utils.InfoLogger.WithFields(fields).Info("Scheduled job started")
	started := time.Now()
	if err := fn(ctx, params); err != nil {
		s.countRun(params.ConfigKey, "error")
		return err
	}
	fields["duration"] = time.Since(started).String()
	utils.InfoLogger.WithFields(fields).Info("Scheduled job finished")
	s.countRun(params.ConfigKey, "success")
	return nil
}

func (s *DynamicScheduler) countRun(configKey, result string) {
	if s.metrics != nil {
		s.metrics.SchedulerRuns.WithLabelValues(configKey, result).Inc()
	}
}

// cronLogger routes robfig/cron logs into logrus.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	utils.InfoLogger.WithFields(kvFields(keysAndValues)).Debug("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	utils.ErrorLogger.WithFields(kvFields(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func kvFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
