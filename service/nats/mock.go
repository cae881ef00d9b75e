package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu            sync.RWMutex
	deposits      []*DepositEvent
	metricsEvents []*MetricsEvent
	publishError  error
	closed        bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishDeposit records the event and returns any configured error.
func (m *MockPublisher) PublishDeposit(ctx context.Context, event *DepositEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.deposits = append(m.deposits, event)
	return nil
}

// PublishMetrics records the event and returns any configured error.
func (m *MockPublisher) PublishMetrics(ctx context.Context, event *MetricsEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.metricsEvents = append(m.metricsEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Deposits returns a copy of the recorded deposit events.
func (m *MockPublisher) Deposits() []*DepositEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*DepositEvent, len(m.deposits))
	copy(out, m.deposits)
	return out
}

// MetricsEvents returns a copy of the recorded metrics events.
func (m *MockPublisher) MetricsEvents() []*MetricsEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*MetricsEvent, len(m.metricsEvents))
	copy(out, m.metricsEvents)
	return out
}

// SetPublishError configures the mock to return an error on publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
