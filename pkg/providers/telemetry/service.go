package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphan267/arqut-relay/pkg/logger"
	"github.com/tphan267/arqut-relay/pkg/models"
	"github.com/tphan267/arqut-relay/pkg/providers"
	"github.com/tphan267/arqut-relay/pkg/relay"
	"github.com/tphan267/arqut-relay/pkg/storage/repositories"
)

const (
	flushInterval = time.Second
	flushBatch    = 64
	// events kept in memory when no database is configured
	memoryEvents = 256
)

// Service consumes relay events, keeps counters and persists the event log
type Service struct {
	registry  *providers.Registry
	logger    *logger.Logger
	repo      *repositories.EventRepository
	retention int

	mu           sync.RWMutex
	startedAt    time.Time
	counts       map[relay.EventKind]uint64
	payloads     map[relay.PayloadKind]uint64
	delivered    uint64
	live         int
	peak         int
	recent       []*models.ConnectionEvent
	pending      []*models.ConnectionEvent
	nextMemoryID uint

	running atomic.Bool
	stopped chan struct{}
}

// NewService creates a new telemetry service
func NewService() *Service {
	return &Service{
		counts:   make(map[relay.EventKind]uint64),
		payloads: make(map[relay.PayloadKind]uint64),
		stopped:  make(chan struct{}),
	}
}

// Name returns the service name
func (s *Service) Name() string {
	return "telemetry"
}

// Initialize sets up the service
func (s *Service) Initialize(ctx context.Context, registry *providers.Registry) error {
	s.registry = registry
	s.logger = registry.Logger().WithPrefix("Telemetry")
	s.startedAt = time.Now()

	if cfg := registry.Config(); cfg != nil {
		s.retention = cfg.EventRetention
	}
	if db := registry.DB(); db != nil {
		s.repo = db.EventRepo()
	} else {
		s.logger.Info("No database configured, keeping the last %d events in memory", memoryEvents)
	}
	return nil
}

// IsRunnable returns true, the service drains the relay event stream
func (s *Service) IsRunnable() bool {
	return true
}

// Start consumes relay events until the stream closes or ctx ends
func (s *Service) Start(ctx context.Context) error {
	relayProvider, err := s.registry.GetRelay()
	if err != nil {
		close(s.stopped)
		return err
	}

	s.running.Store(true)
	defer close(s.stopped)
	defer s.flush()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	events := relayProvider.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.flush()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if s.Record(ev) >= flushBatch {
				s.flush()
			}
		}
	}
}

// Stop waits for the event stream to drain
func (s *Service) Stop(ctx context.Context) error {
	if !s.running.Load() {
		return nil
	}
	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record updates counters with ev and queues it for persistence. It returns
// the number of queued events.
func (s *Service) Record(ev relay.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[ev.Kind]++
	switch ev.Kind {
	case relay.EventOpen:
		s.live++
		if s.live > s.peak {
			s.peak = s.live
		}
	case relay.EventClose:
		if s.live > 0 {
			s.live--
		}
	case relay.EventRelay:
		s.payloads[ev.Payload]++
		s.delivered += uint64(ev.Delivered)
	}

	row := &models.ConnectionEvent{
		Kind:         string(ev.Kind),
		ConnectionID: uint64(ev.ConnectionID),
		SessionID:    ev.SessionID,
		RemoteAddr:   ev.RemoteAddr,
		PayloadKind:  string(ev.Payload),
		Delivered:    ev.Delivered,
		Reason:       ev.Reason,
		CreatedAt:    ev.Time,
	}

	if s.repo == nil {
		s.nextMemoryID++
		row.ID = s.nextMemoryID
		s.recent = append(s.recent, row)
		if len(s.recent) > memoryEvents {
			s.recent = s.recent[len(s.recent)-memoryEvents:]
		}
		return 0
	}

	s.pending = append(s.pending, row)
	return len(s.pending)
}

func (s *Service) flush() {
	if s.repo == nil {
		return
	}

	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := s.repo.Add(batch...); err != nil {
		s.logger.Error("Failed to store %d events: %v", len(batch), err)
		return
	}
	if s.retention > 0 {
		if n, err := s.repo.Prune(s.retention); err != nil {
			s.logger.Warn("Failed to prune events: %v", err)
		} else if n > 0 {
			s.logger.Debug("Pruned %d events", n)
		}
	}
}

// Stats returns counters since startup, plus the stored events per kind
func (s *Service) Stats() providers.Stats {
	stored, err := s.storedByKind()
	if err != nil {
		s.logger.Warn("Failed to count stored events: %v", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := providers.Stats{
		StartedAt:       s.startedAt,
		Uptime:          time.Since(s.startedAt).Round(time.Second).String(),
		LiveConnections: s.live,
		PeakConnections: s.peak,
		Events:          make(map[string]uint64, len(s.counts)),
		Payloads:        make(map[string]uint64, len(s.payloads)),
		Delivered:       s.delivered,
		Stored:          stored,
	}
	for k, v := range s.counts {
		stats.Events[string(k)] = v
	}
	for k, v := range s.payloads {
		stats.Payloads[string(k)] = v
	}
	if relayProvider, err := s.registry.GetRelay(); err == nil {
		stats.LiveConnections = relayProvider.ConnectionCount()
		stats.DroppedEvents = relayProvider.DroppedEvents()
	}
	return stats
}

// RecentEvents returns stored events newest first; kind filters when non-empty
func (s *Service) RecentEvents(limit int, kind string) ([]*models.ConnectionEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	if s.repo != nil {
		s.flush()
		return s.repo.Recent(limit, kind)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ConnectionEvent, 0, limit)
	for i := len(s.recent) - 1; i >= 0 && len(out) < limit; i-- {
		if kind == "" || s.recent[i].Kind == kind {
			out = append(out, s.recent[i])
		}
	}
	return out, nil
}

// ConnectionEvents returns the stored events of one connection, oldest first
func (s *Service) ConnectionEvents(connectionID uint64) ([]*models.ConnectionEvent, error) {
	if s.repo != nil {
		s.flush()
		return s.repo.ForConnection(connectionID)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ConnectionEvent
	for _, ev := range s.recent {
		if ev.ConnectionID == connectionID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// ClearEvents deletes the stored event log. Counters are kept.
func (s *Service) ClearEvents() error {
	if s.repo != nil {
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
		return s.repo.Clear()
	}

	s.mu.Lock()
	s.recent = nil
	s.mu.Unlock()
	return nil
}

func (s *Service) storedByKind() (map[string]int64, error) {
	if s.repo != nil {
		s.flush()
		return s.repo.CountByKind()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, ev := range s.recent {
		counts[ev.Kind]++
	}
	return counts, nil
}

// Verify that Service implements both Service and TelemetryProvider interfaces
var _ providers.Service = (*Service)(nil)
var _ providers.TelemetryProvider = (*Service)(nil)
