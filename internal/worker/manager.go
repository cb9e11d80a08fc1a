package worker

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"socialgraph/internal/logging"
	"socialgraph/internal/model"
	"socialgraph/internal/queue"
)

const (
	// DefaultWorkerCount is the default number of worker goroutines
	DefaultWorkerCount = 2

	// DefaultBatchSize is the number of messages to read per batch
	DefaultBatchSize = 10

	// DefaultBlockTimeout is how long to block waiting for new messages
	DefaultBlockTimeout = 5 * time.Second

	// DefaultHandlerTimeout bounds the handling of one event
	DefaultHandlerTimeout = 10 * time.Second

	// DefaultPendingInterval is how often a worker retries its unacknowledged messages
	DefaultPendingInterval = 30 * time.Second
)

// EventHandler handles one decoded event.
type EventHandler interface {
	HandleEvent(ctx context.Context, event queue.Event) error
}

// Manager orchestrates worker goroutines that consume from Redis Streams.
type Manager struct {
	consumer queue.Consumer
	handler  EventHandler
	cfg      ManagerConfig
	log      zerolog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// ManagerConfig holds configuration for the worker manager.
type ManagerConfig struct {
	Stream          string
	Group           string
	Consumer        string        // consumer name prefix, suffixed with the worker number
	WorkerCount     int           // Number of worker goroutines
	BatchSize       int64         // Messages per read
	BlockTimeout    time.Duration // Block time for XREADGROUP
	HandlerTimeout  time.Duration
	PendingInterval time.Duration
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Stream:          queue.StreamEvents,
		Group:           queue.ConsumerGroupEvents,
		Consumer:        "worker",
		WorkerCount:     DefaultWorkerCount,
		BatchSize:       DefaultBatchSize,
		BlockTimeout:    DefaultBlockTimeout,
		HandlerTimeout:  DefaultHandlerTimeout,
		PendingInterval: DefaultPendingInterval,
	}
}

func NewManager(consumer queue.Consumer, handler EventHandler, cfg ManagerConfig) *Manager {
	def := DefaultManagerConfig()
	if cfg.Stream == "" {
		cfg.Stream = def.Stream
	}
	if cfg.Group == "" {
		cfg.Group = def.Group
	}
	if cfg.Consumer == "" {
		cfg.Consumer = def.Consumer
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = def.BlockTimeout
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = def.HandlerTimeout
	}
	if cfg.PendingInterval <= 0 {
		cfg.PendingInterval = def.PendingInterval
	}

	return &Manager{
		consumer: consumer,
		handler:  handler,
		cfg:      cfg,
		log:      logging.Component("worker_manager"),
	}
}

// Start begins the worker goroutines.
// Call Stop() to gracefully shut down.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	if err := m.consumer.EnsureGroup(m.ctx, m.cfg.Stream, m.cfg.Group); err != nil {
		m.cancel()
		return err
	}

	for i := 0; i < m.cfg.WorkerCount; i++ {
		workerID := i + 1
		m.wg.Add(1)
		go m.runWorker(workerID, m.consumerName(workerID))
	}

	m.log.Info().
		Int("workers", m.cfg.WorkerCount).
		Str("stream", m.cfg.Stream).
		Str("group", m.cfg.Group).
		Msg("Workers started")
	return nil
}

// Stop gracefully shuts down all workers.
// Blocks until all workers have finished.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.log.Info().Msg("All workers stopped")
}

// runWorker is the main loop for a single worker goroutine.
func (m *Manager) runWorker(workerID int, consumerName string) {
	defer m.wg.Done()
	log := m.log.With().Int("worker", workerID).Str("consumer", consumerName).Logger()
	log.Debug().Msg("Worker started")

	// Messages delivered before a crash or left unacked after a transient failure.
	m.processPending(log, consumerName)
	lastPending := time.Now()

	for {
		select {
		case <-m.ctx.Done():
			log.Debug().Msg("Worker shutting down")
			return
		default:
		}

		m.processMessages(log, consumerName)

		if time.Since(lastPending) >= m.cfg.PendingInterval {
			m.processPending(log, consumerName)
			lastPending = time.Now()
		}
	}
}

// processPending retries this consumer's unacknowledged messages until a pass makes
// no progress.
func (m *Manager) processPending(log zerolog.Logger, consumerName string) {
	for m.ctx.Err() == nil {
		messages, err := m.consumer.ReadPending(m.ctx, m.cfg.Stream, m.cfg.Group, consumerName, m.cfg.BatchSize)
		if err != nil {
			log.Warn().Err(err).Msg("Error reading pending messages")
			return
		}
		if len(messages) == 0 {
			return
		}

		log.Info().Int("count", len(messages)).Msg("Processing pending messages")
		if acked := m.handleMessages(log, messages); acked == 0 {
			return
		}
	}
}

// processMessages reads and handles a batch of new messages.
func (m *Manager) processMessages(log zerolog.Logger, consumerName string) {
	messages, err := m.consumer.Read(m.ctx, m.cfg.Stream, m.cfg.Group, consumerName, m.cfg.BatchSize, m.cfg.BlockTimeout)
	if err != nil {
		if m.ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Msg("Error reading stream")
		// Back off on error
		select {
		case <-m.ctx.Done():
		case <-time.After(time.Second):
		}
		return
	}
	if len(messages) == 0 {
		return
	}
	m.handleMessages(log, messages)
}

// handleMessages processes a batch and acknowledges what should not be retried. A
// transient storage failure leaves the message pending so it is redelivered; every
// other failure is acknowledged to avoid poison-message loops.
func (m *Manager) handleMessages(log zerolog.Logger, messages []queue.Message) int {
	acked := 0
	for _, msg := range messages {
		if msg.ParseErr != nil {
			log.Error().Err(msg.ParseErr).Str("msg_id", msg.ID).Msg("Dropping malformed message")
		} else {
			ctx, cancel := context.WithTimeout(m.ctx, m.cfg.HandlerTimeout)
			err := m.handler.HandleEvent(ctx, msg.Event)
			cancel()

			if err != nil && errors.Is(err, model.ErrTransientStorage) {
				log.Warn().Err(err).Str("msg_id", msg.ID).Str("event_type", msg.Event.Type).Msg("Leaving message pending")
				continue
			}
		}

		if err := m.consumer.Ack(m.ctx, m.cfg.Stream, m.cfg.Group, msg.ID); err != nil {
			log.Error().Err(err).Str("msg_id", msg.ID).Msg("ACK failed")
			continue
		}
		acked++
	}
	return acked
}

func (m *Manager) consumerName(workerID int) string {
	return m.cfg.Consumer + "-" + strconv.Itoa(workerID)
}
