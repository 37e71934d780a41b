package monitor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/dhruv465/Website-Builder-sub000/pkg/models"
	"github.com/dhruv465/Website-Builder-sub000/pkg/monitor"
)

type fakeAPI struct {
	mu        sync.Mutex
	created   []monitor.CreateWorkflowRequest
	cancelled []string
	nextID    string
	createErr error
	cancelErr error
}

func (a *fakeAPI) CreateWorkflow(ctx context.Context, req monitor.CreateWorkflowRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createErr != nil {
		return "", a.createErr
	}
	a.created = append(a.created, req)
	return a.nextID, nil
}

func (a *fakeAPI) UpdateWorkflow(ctx context.Context, workflowID string, req monitor.CreateWorkflowRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.created = append(a.created, req)
	return a.nextID, nil
}

func (a *fakeAPI) GetWorkflowStatus(ctx context.Context, workflowID string) (models.WorkflowSnapshot, error) {
	return models.WorkflowSnapshot{WorkflowID: workflowID}, nil
}

func (a *fakeAPI) CancelWorkflow(ctx context.Context, workflowID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancelErr != nil {
		return a.cancelErr
	}
	a.cancelled = append(a.cancelled, workflowID)
	return nil
}

func newTestMonitor(t *testing.T, api monitor.WorkflowAPI) (*monitor.Monitor, *fakeDialer) {
	t.Helper()
	d := &fakeDialer{autoPong: true}
	conn := monitor.NewConnection(testConfig(d))
	m := monitor.NewMonitor(conn, api, nil)
	t.Cleanup(m.Close)
	return m, d
}

func waitConnected(t *testing.T, m *monitor.Monitor) {
	t.Helper()
	assert.Eventually(t, func() bool { return m.State() == monitor.StateConnected },
		2*time.Second, 2*time.Millisecond)
}

func TestStartWorkflow(t *testing.T) {
	api := &fakeAPI{nextID: testWorkflowID}
	m, _ := newTestMonitor(t, api)

	id, err := m.StartWorkflow(context.Background(), monitor.CreateWorkflowRequest{Prompt: "build me a bakery site"})
	assert.NoError(t, err)
	assert.Equal(t, testWorkflowID, id)
	waitConnected(t, m)

	snap, ok := m.Snapshot()
	assert.True(t, ok)
	assert.Equal(t, testWorkflowID, snap.WorkflowID)
	assert.Equal(t, models.PendingWorkflowStatus, snap.Status)
}

func TestStartWorkflowAPIError(t *testing.T) {
	api := &fakeAPI{createErr: errors.New("quota exceeded")}
	m, d := newTestMonitor(t, api)

	_, err := m.StartWorkflow(context.Background(), monitor.CreateWorkflowRequest{Prompt: "p"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, 0, d.dialCount())
	_, ok := m.Snapshot()
	assert.False(t, ok)
}

func TestStartWorkflowInvalidServerID(t *testing.T) {
	// The backend hands back a malformed identifier: rejected client-side
	// before any dial.
	api := &fakeAPI{nextID: "wf-not-a-uuid"}
	m, d := newTestMonitor(t, api)

	_, err := m.StartWorkflow(context.Background(), monitor.CreateWorkflowRequest{Prompt: "p"})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, monitor.ErrInvalidWorkflowID))
	assert.Equal(t, 0, d.dialCount())
}

func TestSnapshotFollowsMessages(t *testing.T) {
	m, d := newTestMonitor(t, &fakeAPI{nextID: testWorkflowID})
	assert.NoError(t, m.Attach(testWorkflowID))
	waitConnected(t, m)

	var mu sync.Mutex
	var seen []models.WorkflowSnapshot
	defer m.Subscribe(func(snap models.WorkflowSnapshot) {
		mu.Lock()
		seen = append(seen, snap)
		mu.Unlock()
	})()

	tr := d.latest()
	tr.push([]byte(`{"type":"agent.status","agent":"planner","status":"executing"}`))
	tr.push([]byte(`{"type":"log.entry","log":{"timestamp":"2026-03-01T12:00:00Z","level":"info","agent":"planner","message":"Planning"}}`))
	tr.push([]byte(`{"type":"workflow.complete"}`))

	assert.Eventually(t, func() bool {
		snap, ok := m.Snapshot()
		return ok && snap.Status == models.CompletedWorkflowStatus
	}, 2*time.Second, 2*time.Millisecond)

	snap, _ := m.Snapshot()
	assert.Equal(t, 100, snap.ProgressPercentage)
	assert.Len(t, snap.Logs, 1)

	agents := m.AgentStatuses()
	assert.Contains(t, agents, "planner")
	assert.Equal(t, models.ExecutingAgentState, agents["planner"].Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 3, "one notification per applied message")
}

func TestCancelWorkflow(t *testing.T) {
	api := &fakeAPI{nextID: testWorkflowID}
	m, d := newTestMonitor(t, api)
	assert.NoError(t, m.Attach(testWorkflowID))
	waitConnected(t, m)

	assert.NoError(t, m.CancelWorkflow(context.Background()))

	// Optimistic local mark, in-band command and API call all happen.
	snap, ok := m.Snapshot()
	assert.True(t, ok)
	assert.Equal(t, models.CancelledWorkflowStatus, snap.Status)

	api.mu.Lock()
	assert.Equal(t, []string{testWorkflowID}, api.cancelled)
	api.mu.Unlock()

	assert.Eventually(t, func() bool {
		for _, cmd := range d.latest().sentCommands() {
			if cmd.Type == "workflow.cancel" && cmd.WorkflowID == testWorkflowID {
				return true
			}
		}
		return false
	}, 2*time.Second, 2*time.Millisecond)
}

func TestCancelWorkflowAPIErrorStillMarks(t *testing.T) {
	api := &fakeAPI{nextID: testWorkflowID, cancelErr: errors.New("backend down")}
	m, _ := newTestMonitor(t, api)
	assert.NoError(t, m.Attach(testWorkflowID))
	waitConnected(t, m)

	err := m.CancelWorkflow(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")

	snap, _ := m.Snapshot()
	assert.Equal(t, models.CancelledWorkflowStatus, snap.Status)
}

func TestCancelWithoutWorkflow(t *testing.T) {
	m, _ := newTestMonitor(t, &fakeAPI{})
	err := m.CancelWorkflow(context.Background())
	assert.True(t, errors.Is(err, monitor.ErrNoActiveWorkflow))
}

func TestCancelCorrectedByLaterStatus(t *testing.T) {
	m, d := newTestMonitor(t, &fakeAPI{nextID: testWorkflowID})
	assert.NoError(t, m.Attach(testWorkflowID))
	waitConnected(t, m)

	assert.NoError(t, m.CancelWorkflow(context.Background()))

	// The backend finished anyway; its authoritative status wins.
	d.latest().push([]byte(`{"type":"workflow.status","data":{"status":"completed","progress_percentage":100}}`))
	assert.Eventually(t, func() bool {
		snap, ok := m.Snapshot()
		return ok && snap.Status == models.CompletedWorkflowStatus
	}, 2*time.Second, 2*time.Millisecond)
}

func TestReset(t *testing.T) {
	m, d := newTestMonitor(t, &fakeAPI{nextID: testWorkflowID})
	assert.NoError(t, m.Attach(testWorkflowID))
	waitConnected(t, m)
	tr := d.latest()

	m.Reset()
	assert.Equal(t, monitor.StateDisconnected, m.State())
	_, ok := m.Snapshot()
	assert.False(t, ok)

	// Late frames from the torn-down channel never resurrect state.
	tr.push([]byte(`{"type":"workflow.complete"}`))
	time.Sleep(50 * time.Millisecond)
	_, ok = m.Snapshot()
	assert.False(t, ok)
}

func TestStartWorkflowResetsPrevious(t *testing.T) {
	api := &fakeAPI{nextID: testWorkflowID}
	m, d := newTestMonitor(t, api)
	assert.NoError(t, m.Attach("0f8fad5b-d9cb-469f-a165-70867728950e"))
	waitConnected(t, m)
	first := d.latest()

	id, err := m.StartWorkflow(context.Background(), monitor.CreateWorkflowRequest{Prompt: "p"})
	assert.NoError(t, err)
	assert.Equal(t, testWorkflowID, id)
	waitConnected(t, m)

	select {
	case <-first.closed:
	default:
		t.Fatal("previous transport still open")
	}
	snap, ok := m.Snapshot()
	assert.True(t, ok)
	assert.Equal(t, testWorkflowID, snap.WorkflowID)
}

func TestPongNotSurfacedToSnapshotSubscribers(t *testing.T) {
	m, d := newTestMonitor(t, &fakeAPI{nextID: testWorkflowID})
	assert.NoError(t, m.Attach(testWorkflowID))
	waitConnected(t, m)

	var mu sync.Mutex
	var notifications int
	defer m.Subscribe(func(models.WorkflowSnapshot) {
		mu.Lock()
		notifications++
		mu.Unlock()
	})()

	tr := d.latest()
	tr.push([]byte(`{"type":"pong"}`))
	tr.push([]byte(`{"type":"workflow.complete"}`))

	assert.Eventually(t, func() bool {
		snap, ok := m.Snapshot()
		return ok && snap.Status == models.CompletedWorkflowStatus
	}, 2*time.Second, 2*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, notifications, "pong frames carry no workflow state")
}
