package askdb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAskAsync_CompletesAndReturnsResult(t *testing.T) {
	decider := &scriptedDecider{decisions: []Decision{
		{ToolCalls: []ToolCall{{Name: ToolNameExecuteSQL, Arguments: map[string]interface{}{}}}},
		{Answer: "Async answer."},
	}}
	agent := newTestAgent(t, decider)

	id, err := agent.AskAsync(context.Background(), Query{Text: "later"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := agent.AsyncStatus(id)
		return err == nil && status.IsComplete
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := agent.AsyncResult(id)
	require.NoError(t, err)
	assert.Equal(t, "Async answer.", resp.Response)
	assert.Equal(t, ToolNameExecuteSQL, resp.ToolsUsed)
}

func TestAskAsync_EmptyQuery(t *testing.T) {
	agent := newTestAgent(t, &scriptedDecider{})
	_, err := agent.AskAsync(context.Background(), Query{})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeValidation))
}

func TestAsyncResult_UnknownAndInProgress(t *testing.T) {
	agent := newTestAgent(t, &scriptedDecider{decisions: []Decision{{Answer: "x"}}})

	_, err := agent.AsyncResult("no-such-id")
	assert.Error(t, err)

	_, err = agent.AsyncStatus("no-such-id")
	assert.Error(t, err)
}

func TestCancelAsync(t *testing.T) {
	started := make(chan struct{})
	blocking := ToolFunc(func(ctx context.Context, _ map[string]interface{}) (ResultPayload, error) {
		close(started)
		<-ctx.Done()
		return ResultPayload{}, ctx.Err()
	})
	decider := &scriptedDecider{decisions: []Decision{
		{ToolCalls: []ToolCall{{Name: ToolNameExecuteSQL, Arguments: map[string]interface{}{}}}},
	}}
	reg := NewRegistry()
	require.NoError(t, reg.Register(ToolSpec{Name: ToolNameExecuteSQL}, blocking))

	cfg := DefaultConfig()
	cfg.EnableEventBus = false
	agent, err := New(context.Background(), WithDecider(decider), WithRegistry(reg), WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(agent.Close)

	id, err := agent.AskAsync(context.Background(), Query{Text: "slow"})
	require.NoError(t, err)
	<-started

	cancelled, err := agent.CancelAsync(id)
	require.NoError(t, err)
	assert.True(t, cancelled)

	require.Eventually(t, func() bool {
		_, err := agent.AsyncResult(id)
		return err != nil && HasCode(err, ErrCodeCancelled)
	}, 2*time.Second, 10*time.Millisecond)

	// A second cancel reports the execution already finished.
	cancelled, err = agent.CancelAsync(id)
	require.NoError(t, err)
	assert.False(t, cancelled)

	assert.Contains(t, agent.ListAsyncExecutions(), id)
	removed := agent.CleanupCompletedExecutions(0)
	assert.Equal(t, 1, removed)
	assert.NotContains(t, agent.ListAsyncExecutions(), id)
}

// Status readers and CancelAsync run concurrently with the execution
// goroutine; exercised under -race this catches unsynchronized access to
// the request context.
func TestAsyncStatus_ConcurrentWithExecution(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := ToolFunc(func(ctx context.Context, _ map[string]interface{}) (ResultPayload, error) {
		close(started)
		select {
		case <-release:
			return ResultPayload{}, nil
		case <-ctx.Done():
			return ResultPayload{}, ctx.Err()
		}
	})
	decider := &scriptedDecider{decisions: []Decision{
		{ToolCalls: []ToolCall{{Name: ToolNameExecuteSQL, Arguments: map[string]interface{}{}}}},
		{Answer: "Done."},
	}}
	reg := NewRegistry()
	require.NoError(t, reg.Register(ToolSpec{Name: ToolNameExecuteSQL}, slow))

	cfg := DefaultConfig()
	cfg.EnableEventBus = false
	agent, err := New(context.Background(), WithDecider(decider), WithRegistry(reg), WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(agent.Close)

	id, err := agent.AskAsync(context.Background(), Query{Text: "slow"})
	require.NoError(t, err)
	<-started

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				status, err := agent.AsyncStatus(id)
				assert.NoError(t, err)
				assert.NotEmpty(t, status.CurrentState)
				agent.ListAsyncExecutions()
				agent.AsyncResult(id)
			}
		}()
	}

	close(release)
	wg.Wait()

	require.Eventually(t, func() bool {
		status, err := agent.AsyncStatus(id)
		return err == nil && status.IsComplete
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := agent.AsyncResult(id)
	require.NoError(t, err)
	assert.Equal(t, "Done.", resp.Response)
}
