package jobqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/VenueFox/internal/pkg/billing"
	"github.com/ManuelReschke/VenueFox/internal/pkg/env"
)

const reminderBatchSize = 100

// ManagerConfig holds the intervals of the periodic tasks.
type ManagerConfig struct {
	LedgerRetention      time.Duration
	ReminderLead         time.Duration
	PruneInterval        time.Duration
	ReminderInterval     time.Duration
	CounterFlushInterval time.Duration
}

// ManagerConfigFromEnv reads LEDGER_RETENTION_DAYS and REMINDER_LEAD_DAYS.
func ManagerConfigFromEnv() ManagerConfig {
	return ManagerConfig{
		LedgerRetention:      time.Duration(env.GetEnvInt("LEDGER_RETENTION_DAYS", 90)) * 24 * time.Hour,
		ReminderLead:         time.Duration(env.GetEnvInt("REMINDER_LEAD_DAYS", 7)) * 24 * time.Hour,
		PruneInterval:        24 * time.Hour,
		ReminderInterval:     time.Hour,
		CounterFlushInterval: 5 * time.Second,
	}
}

// Manager owns the job queue and the periodic billing housekeeping.
type Manager struct {
	queue  *Queue
	store  billing.Store
	ledger billing.Ledger
	cfg    ManagerConfig

	flushCounters func(ctx context.Context) error
	now           func() time.Time

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewManager wires the periodic tasks. flushCounters may be nil.
func NewManager(queue *Queue, store billing.Store, ledger billing.Ledger, cfg ManagerConfig, flushCounters func(ctx context.Context) error) *Manager {
	return &Manager{
		queue:         queue,
		store:         store,
		ledger:        ledger,
		cfg:           cfg,
		flushCounters: flushCounters,
		now:           time.Now,
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	m.every("ledger prune", m.cfg.PruneInterval, func(ctx context.Context) error {
		_, err := m.PruneLedgerOnce(ctx)
		return err
	})
	m.every("reminder sweep", m.cfg.ReminderInterval, func(ctx context.Context) error {
		_, err := m.SweepRemindersOnce(ctx)
		return err
	})
	if m.flushCounters != nil {
		m.every("counter flush", m.cfg.CounterFlushInterval, m.flushCounters)
	}
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")
	close(m.stopCh)
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
	m.queue.Stop()
	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) every(name string, interval time.Duration, task func(ctx context.Context) error) {
	if interval <= 0 {
		return
	}
	stop := m.stopCh
	ticker := time.NewTicker(interval)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				if err := task(ctx); err != nil {
					log.Errorf("[JobQueue Manager] %s failed: %v", name, err)
				}
				cancel()
			}
		}
	}()
}

// PruneLedgerOnce deletes ledger entries older than the retention window.
func (m *Manager) PruneLedgerOnce(ctx context.Context) (int64, error) {
	if m.ledger == nil || m.cfg.LedgerRetention <= 0 {
		return 0, nil
	}
	n, err := m.ledger.Prune(ctx, m.now().Add(-m.cfg.LedgerRetention))
	if err == nil && n > 0 {
		log.Infof("[JobQueue Manager] Pruned %d ledger entries", n)
	}
	return n, err
}

// SweepRemindersOnce enqueues a reminder for every active subscription whose
// period ends within the lead window and marks it sent. A subscription whose
// job could not be enqueued stays unmarked and is picked up next sweep.
func (m *Manager) SweepRemindersOnce(ctx context.Context) (int, error) {
	now := m.now()
	due, err := m.store.ListReminderCandidates(ctx, now.Add(m.cfg.ReminderLead), reminderBatchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, sub := range due {
		payload := RenewalReminderJobPayload{
			TenantID:       sub.TenantID,
			SubscriptionID: sub.ID,
			Plan:           string(sub.Plan),
			PeriodEnd:      *sub.CurrentPeriodEnd,
		}
		if _, err := m.queue.EnqueueJob(JobTypeRenewalReminder, payload.ToMap()); err != nil {
			log.Warnf("[JobQueue Manager] Reminder for tenant %d not enqueued: %v", sub.TenantID, err)
			continue
		}
		if err := m.store.MarkReminderSent(ctx, sub.ID, sub.Version, now); err != nil {
			if errors.Is(err, billing.ErrConflict) {
				log.Infof("[JobQueue Manager] Subscription %d changed during the sweep, reminder left unmarked for its new period", sub.ID)
				continue
			}
			log.Errorf("[JobQueue Manager] Failed to mark reminder for subscription %d: %v", sub.ID, err)
			continue
		}
		sent++
	}
	if sent > 0 {
		log.Infof("[JobQueue Manager] Enqueued %d renewal reminders", sent)
	}
	return sent, nil
}
