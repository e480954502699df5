package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MealPay/app/models"
)

// FailedEventLister lists failed-but-acknowledged webhook events.
type FailedEventLister interface {
	FailedEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error)
}

const sweepBatchSize = 100

// Manager runs the retry queue and periodically requeues failed events whose
// retry was never scheduled (for example while Redis was unreachable).
type Manager struct {
	queue       *Queue
	lister      FailedEventLister
	interval    time.Duration
	sweepTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

// NewManager creates a manager for queue. An interval of 0 disables the sweep.
func NewManager(queue *Queue, lister FailedEventLister, interval time.Duration) *Manager {
	return &Manager{
		queue:    queue,
		lister:   lister,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and the failed event sweep.
func (m *Manager) Start(handler ReprocessFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	m.queue.Start(handler)

	if m.interval > 0 && m.lister != nil {
		m.sweepTicker = time.NewTicker(m.interval)
		m.wg.Add(1)
		go m.sweepWorker()
	}
	log.Info("[RetryQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}
	close(m.stopCh)
	m.running = false
	m.wg.Wait()
	m.queue.Stop()

	log.Info("[RetryQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) sweepWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.sweepTicker.C:
			if _, err := m.SweepOnce(context.Background()); err != nil {
				log.Errorf("[RetryQueue Manager] Failed event sweep error: %v", err)
			}
		}
	}
}

// SweepOnce schedules failed events that still have attempts left and are not
// queued yet. It returns the number of newly scheduled events.
func (m *Manager) SweepOnce(ctx context.Context) (int, error) {
	events, err := m.lister.FailedEvents(ctx, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	scheduled := 0
	for _, ev := range events {
		// Attempts counts the original delivery, so it is also the number of
		// the next reprocess run.
		if ev.Attempts > m.queue.MaxAttempts() {
			continue
		}
		created, err := m.queue.schedule(ctx, ev.Provider, ev.EventID, ev.Attempts)
		if err != nil {
			return scheduled, err
		}
		if created {
			scheduled++
		}
	}
	if scheduled > 0 {
		log.Infof("[RetryQueue Manager] Requeued %d failed events", scheduled)
	}
	return scheduled, nil
}
