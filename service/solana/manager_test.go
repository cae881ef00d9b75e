package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// trackingEndpoint builds an endpoint whose client appends the endpoint
// name to calls on every GetSlot invocation and returns err.
func trackingEndpoint(name string, priority int, calls *[]string, err error) *Endpoint {
	client := &MockRPCClient{
		GetSlotFunc: func(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
			*calls = append(*calls, name)
			return 100, err
		},
	}
	return NewEndpoint(EndpointConfig{
		Name:              name,
		URL:               "http://" + name + ".example",
		Priority:          priority,
		RequestsPerSecond: 1000,
	}, client)
}

func slotOp(t *testing.T) func(ctx context.Context, client RPCClient) error {
	t.Helper()
	return func(ctx context.Context, client RPCClient) error {
		_, err := client.GetSlot(ctx, rpc.CommitmentConfirmed)
		return err
	}
}

func TestExecuteWithRetry_PrefersLowestPriority(t *testing.T) {
	var calls []string
	eps := []*Endpoint{
		trackingEndpoint("tertiary", 3, &calls, nil),
		trackingEndpoint("primary", 1, &calls, nil),
		trackingEndpoint("secondary", 2, &calls, nil),
	}
	m := NewManagerWithEndpoints(eps, testLogger())

	err := m.ExecuteWithRetry(context.Background(), "getSlot", 3, func(ctx context.Context, client RPCClient) error {
		_, err := client.GetSlot(ctx, rpc.CommitmentConfirmed)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"primary"}, calls)
}

func TestExecuteWithRetry_SkipsUnhealthyEndpoint(t *testing.T) {
	var calls []string
	eps := []*Endpoint{
		trackingEndpoint("primary", 1, &calls, nil),
		trackingEndpoint("secondary", 2, &calls, nil),
		trackingEndpoint("tertiary", 3, &calls, nil),
	}
	eps[0].markUnhealthy(time.Minute)
	m := NewManagerWithEndpoints(eps, testLogger())

	err := m.ExecuteWithRetry(context.Background(), "getSlot", 3, slotOp(t))
	require.NoError(t, err)

	// The benched primary is never attempted while healthy endpoints
	// remain; secondary goes first.
	assert.Equal(t, []string{"secondary"}, calls)
}

func TestExecuteWithRetry_FailsOverInPriorityOrder(t *testing.T) {
	var calls []string
	boom := errors.New("connection refused")
	eps := []*Endpoint{
		trackingEndpoint("primary", 1, &calls, boom),
		trackingEndpoint("secondary", 2, &calls, boom),
		trackingEndpoint("tertiary", 3, &calls, nil),
	}
	m := NewManagerWithEndpoints(eps, testLogger())

	err := m.ExecuteWithRetry(context.Background(), "getSlot", 3, slotOp(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"primary", "secondary", "tertiary"}, calls)
}

func TestExecuteWithRetry_RateLimitedMovesToNextEndpoint(t *testing.T) {
	var calls []string
	eps := []*Endpoint{
		trackingEndpoint("primary", 1, &calls, errors.New("429 Too Many Requests")),
		trackingEndpoint("secondary", 2, &calls, nil),
	}
	m := NewManagerWithEndpoints(eps, testLogger(), WithRateLimitBackoff(time.Millisecond))

	err := m.ExecuteWithRetry(context.Background(), "getSlot", 3, slotOp(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"primary", "secondary"}, calls)

	// A 429 is not a health failure.
	assert.True(t, eps[0].Healthy())
}

func TestExecuteWithRetry_ExhaustedReturnsSentinel(t *testing.T) {
	var calls []string
	boom := errors.New("connection refused")
	eps := []*Endpoint{
		trackingEndpoint("primary", 1, &calls, boom),
		trackingEndpoint("secondary", 2, &calls, boom),
	}
	m := NewManagerWithEndpoints(eps, testLogger())

	err := m.ExecuteWithRetry(context.Background(), "getSlot", 4, slotOp(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllEndpointsFailed)
	assert.Len(t, calls, 4)
}

func TestEndpoint_UnhealthyAfterConsecutiveFailures(t *testing.T) {
	var calls []string
	ep := trackingEndpoint("primary", 1, &calls, errors.New("boom"))

	for i := 0; i < unhealthyAfter-1; i++ {
		tipped := ep.recordFailure(unhealthyAfter, reprobeDelay)
		assert.False(t, tipped)
		assert.True(t, ep.Healthy())
	}
	tipped := ep.recordFailure(unhealthyAfter, reprobeDelay)
	assert.True(t, tipped)
	assert.False(t, ep.Healthy())

	// Benched, not retryable until the re-probe delay elapses.
	assert.False(t, ep.retryable(time.Now()))
	assert.True(t, ep.retryable(time.Now().Add(reprobeDelay+time.Second)))

	// A success resets the streak and restores health.
	ep.recordSuccess(5 * time.Millisecond)
	assert.True(t, ep.Healthy())
}

func TestExecuteWithRetry_ContextCancellation(t *testing.T) {
	var calls []string
	eps := []*Endpoint{trackingEndpoint("primary", 1, &calls, nil)}
	m := NewManagerWithEndpoints(eps, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.ExecuteWithRetry(ctx, "getSlot", 3, slotOp(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, calls)
}

func TestCheckEndpointHealth_RestoresUnhealthyEndpoint(t *testing.T) {
	var calls []string
	ep := trackingEndpoint("primary", 1, &calls, nil)
	ep.markUnhealthy(time.Minute)
	m := NewManagerWithEndpoints([]*Endpoint{ep}, testLogger())

	require.NoError(t, m.CheckEndpointHealth(context.Background(), "primary"))
	assert.True(t, ep.Healthy())
	assert.Equal(t, 1, m.HealthyCount())
}

func TestCheckEndpointHealth_UnknownEndpoint(t *testing.T) {
	m := NewManagerWithEndpoints(nil, testLogger())
	err := m.CheckEndpointHealth(context.Background(), "nonexistent")
	require.Error(t, err)
}

func TestCheckEndpointHealth_ProbeFailureBenches(t *testing.T) {
	var calls []string
	ep := trackingEndpoint("primary", 1, &calls, errors.New("timeout"))
	m := NewManagerWithEndpoints([]*Endpoint{ep}, testLogger())

	err := m.CheckEndpointHealth(context.Background(), "primary")
	require.Error(t, err)
	assert.False(t, ep.Healthy())
}

func TestConnection_PreferredEndpoint(t *testing.T) {
	var calls []string
	primary := trackingEndpoint("primary", 1, &calls, nil)
	secondary := trackingEndpoint("secondary", 2, &calls, nil)
	m := NewManagerWithEndpoints([]*Endpoint{primary, secondary}, testLogger())

	client, err := m.Connection(context.Background(), "secondary")
	require.NoError(t, err)
	assert.Same(t, secondary.Client(), client)

	// Preferred but unhealthy falls through to the best healthy one.
	secondary.markUnhealthy(time.Minute)
	client, err = m.Connection(context.Background(), "secondary")
	require.NoError(t, err)
	assert.Same(t, primary.Client(), client)
}

func TestSnapshot_ReportsEndpointState(t *testing.T) {
	var calls []string
	primary := trackingEndpoint("primary", 1, &calls, nil)
	primary.recordSuccess(10 * time.Millisecond)
	primary.recordSuccess(20 * time.Millisecond)
	m := NewManagerWithEndpoints([]*Endpoint{primary}, testLogger())

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "primary", snap[0].Name)
	assert.True(t, snap[0].Healthy)
	assert.Equal(t, uint64(2), snap[0].SuccessCount)
	assert.Equal(t, 15*time.Millisecond, snap[0].AverageLatency)
}
