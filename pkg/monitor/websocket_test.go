package monitor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dhruv465/Website-Builder-sub000/internal/testutil"
	"github.com/dhruv465/Website-Builder-sub000/pkg/models"
	"github.com/dhruv465/Website-Builder-sub000/pkg/monitor"
)

// Exercises the production websocket dialer against an in-process
// backend: event delivery, heartbeat and reconnection after a drop.
func TestOverWebSocket(t *testing.T) {
	backend := testutil.NewBackend()
	backend.AutoPong = true
	defer backend.Close()

	conn := monitor.NewConnection(monitor.Config{
		BaseURL:            backend.URL(),
		HeartbeatInterval:  20 * time.Millisecond,
		PongTimeout:        200 * time.Millisecond,
		ReconnectBaseDelay: time.Millisecond,
		ReconnectMaxDelay:  8 * time.Millisecond,
	})
	m := monitor.NewMonitor(conn, nil, nil)
	defer m.Close()

	assert.NoError(t, m.Attach(testWorkflowID))
	assert.True(t, backend.WaitForConnection(2*time.Second))
	assert.Eventually(t, func() bool { return m.State() == monitor.StateConnected },
		2*time.Second, 2*time.Millisecond)

	backend.Push(map[string]interface{}{"type": "agent.status", "agent": "planner", "status": "executing"})
	backend.Push(map[string]interface{}{"type": "workflow.status", "data": map[string]interface{}{
		"status":              "running",
		"progress_percentage": 50,
	}})

	assert.Eventually(t, func() bool {
		snap, ok := m.Snapshot()
		return ok && snap.Status == models.RunningWorkflowStatus && snap.ProgressPercentage == 50
	}, 2*time.Second, 2*time.Millisecond)

	// Heartbeat pings flow to the backend.
	_, sawPing := backend.WaitForCommand("ping", 2*time.Second)
	assert.True(t, sawPing)

	// Drop the socket server-side; the channel reconnects on its own.
	backend.CloseActive()
	assert.Eventually(t, func() bool {
		return backend.Connects() >= 2 && m.State() == monitor.StateConnected
	}, 2*time.Second, 2*time.Millisecond)

	// State assembled before the drop survives the reconnect.
	snap, ok := m.Snapshot()
	assert.True(t, ok)
	assert.Equal(t, models.RunningWorkflowStatus, snap.Status)

	backend.Push(map[string]interface{}{"type": "workflow.complete"})
	assert.Eventually(t, func() bool {
		snap, ok := m.Snapshot()
		return ok && snap.Status == models.CompletedWorkflowStatus
	}, 2*time.Second, 2*time.Millisecond)
}
