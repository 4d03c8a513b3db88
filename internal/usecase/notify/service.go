package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"catchup-pipeline/internal/infra/notifier"
)

// Circuit breaker constants
const (
	circuitBreakerThreshold = 5                // Consecutive failures before opening
	circuitBreakerTimeout   = 5 * time.Minute  // Duration to keep circuit breaker open
	channelSendTimeout      = 30 * time.Second // Timeout for one channel send
)

// Service fans one breaking alert out to every enabled channel.
type Service interface {
	// Dispatch sends alert to all enabled channels and waits for the
	// outcome. It returns nil when at least one channel delivered, so a
	// single broken webhook does not re-queue an alert that reached
	// users elsewhere.
	Dispatch(ctx context.Context, alert *notifier.Alert) error

	// GetChannelHealth returns circuit breaker state per channel for the
	// /stats endpoint.
	GetChannelHealth() []ChannelHealthStatus
}

// ChannelHealthStatus represents the health status of a notification channel.
type ChannelHealthStatus struct {
	Name               string     `json:"name"`
	Enabled            bool       `json:"enabled"`
	CircuitBreakerOpen bool       `json:"circuit_breaker_open"`
	DisabledUntil      *time.Time `json:"disabled_until,omitempty"`
}

// service is the concrete implementation of Service.
type service struct {
	channels      []Channel
	workerPool    chan struct{}             // Semaphore limiting concurrent sends
	channelHealth map[string]*channelHealth // Circuit breaker state per channel
	healthMu      sync.RWMutex
	logger        *slog.Logger
}

// channelHealth tracks circuit breaker state for one channel.
type channelHealth struct {
	consecutiveFailures int
	disabledUntil       time.Time
	mu                  sync.Mutex
}

// NewService creates a notification service over the given channels.
// maxConcurrent bounds parallel sends across all channels.
func NewService(channels []Channel, maxConcurrent int, logger *slog.Logger) Service {
	svc := &service{
		channels:      channels,
		workerPool:    make(chan struct{}, maxConcurrent),
		channelHealth: make(map[string]*channelHealth),
		logger:        logger,
	}
	for _, ch := range channels {
		svc.channelHealth[ch.Name()] = &channelHealth{}
	}
	return svc
}

func validateAlert(alert *notifier.Alert) error {
	if alert == nil || alert.StoryID == "" || alert.Headline == "" {
		return ErrInvalidAlert
	}
	return nil
}

// Dispatch implements Service.
func (s *service) Dispatch(ctx context.Context, alert *notifier.Alert) error {
	if err := validateAlert(alert); err != nil {
		return err
	}

	enabled := make([]Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		if ch.IsEnabled() {
			enabled = append(enabled, ch)
		}
	}
	SetChannelsEnabled(float64(len(enabled)))
	if len(enabled) == 0 {
		return ErrNoChannels
	}

	var wg sync.WaitGroup
	results := make(chan error, len(enabled))
	for _, ch := range enabled {
		channel := ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.sendToChannel(ctx, channel, alert)
		}()
	}
	wg.Wait()
	close(results)

	delivered := 0
	var errs []error
	for err := range results {
		if err == nil {
			delivered++
		} else {
			errs = append(errs, err)
		}
	}
	if delivered > 0 {
		return nil
	}
	return fmt.Errorf("all channels failed: %w", errors.Join(errs...))
}

// sendToChannel delivers to one channel behind the worker pool and its
// circuit breaker.
func (s *service) sendToChannel(ctx context.Context, channel Channel, alert *notifier.Alert) (err error) {
	// Panic in one channel must not take down the dispatcher.
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in notification channel",
				slog.String("channel", channel.Name()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("channel %s panicked", channel.Name())
		}
	}()

	IncrementActiveGoroutines()
	defer DecrementActiveGoroutines()

	if !s.isChannelHealthy(channel.Name()) {
		RecordCircuitBreakerOpen(channel.Name())
		return fmt.Errorf("%s: %w", channel.Name(), ErrCircuitBreakerOpen)
	}

	select {
	case s.workerPool <- struct{}{}:
		defer func() { <-s.workerPool }()
	case <-ctx.Done():
		return ctx.Err()
	}

	sendCtx, cancel := context.WithTimeout(ctx, channelSendTimeout)
	defer cancel()

	RecordDispatch(channel.Name())
	start := time.Now()
	sendErr := channel.Send(sendCtx, alert)

	if sendErr != nil {
		RecordFailure(channel.Name(), time.Since(start))
		s.recordChannelFailure(channel.Name())
		s.logger.Warn("channel send failed",
			slog.String("channel", channel.Name()),
			slog.String("story_id", alert.StoryID),
			slog.Any("error", sendErr))
		return fmt.Errorf("%s: %w", channel.Name(), sendErr)
	}

	RecordSuccess(channel.Name(), time.Since(start))
	s.recordChannelSuccess(channel.Name())
	return nil
}

// isChannelHealthy reports whether the channel's circuit breaker allows a
// send; an expired open window closes the breaker.
func (s *service) isChannelHealthy(name string) bool {
	s.healthMu.RLock()
	health, ok := s.channelHealth[name]
	s.healthMu.RUnlock()
	if !ok {
		return true
	}

	health.mu.Lock()
	defer health.mu.Unlock()
	if health.disabledUntil.IsZero() {
		return true
	}
	if time.Now().After(health.disabledUntil) {
		health.disabledUntil = time.Time{}
		health.consecutiveFailures = 0
		return true
	}
	return false
}

func (s *service) recordChannelFailure(name string) {
	s.healthMu.RLock()
	health, ok := s.channelHealth[name]
	s.healthMu.RUnlock()
	if !ok {
		return
	}

	health.mu.Lock()
	defer health.mu.Unlock()
	health.consecutiveFailures++
	if health.consecutiveFailures >= circuitBreakerThreshold {
		health.disabledUntil = time.Now().Add(circuitBreakerTimeout)
		s.logger.Warn("channel circuit breaker opened",
			slog.String("channel", name),
			slog.Time("disabled_until", health.disabledUntil))
	}
}

func (s *service) recordChannelSuccess(name string) {
	s.healthMu.RLock()
	health, ok := s.channelHealth[name]
	s.healthMu.RUnlock()
	if !ok {
		return
	}

	health.mu.Lock()
	defer health.mu.Unlock()
	health.consecutiveFailures = 0
	health.disabledUntil = time.Time{}
}

// GetChannelHealth implements Service.
func (s *service) GetChannelHealth() []ChannelHealthStatus {
	statuses := make([]ChannelHealthStatus, 0, len(s.channels))
	for _, ch := range s.channels {
		status := ChannelHealthStatus{
			Name:    ch.Name(),
			Enabled: ch.IsEnabled(),
		}

		s.healthMu.RLock()
		health, ok := s.channelHealth[ch.Name()]
		s.healthMu.RUnlock()
		if ok {
			health.mu.Lock()
			if !health.disabledUntil.IsZero() && time.Now().Before(health.disabledUntil) {
				status.CircuitBreakerOpen = true
				until := health.disabledUntil
				status.DisabledUntil = &until
			}
			health.mu.Unlock()
		}
		statuses = append(statuses, status)
	}
	return statuses
}
