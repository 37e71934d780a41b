package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/dhruv465/Website-Builder-sub000/pkg/models"
)

// ErrNoActiveWorkflow is returned by operations that need a running
// workflow when none has been started or attached.
var ErrNoActiveWorkflow = errors.New("no active workflow")

// CreateWorkflowRequest describes the site-generation run to start.
type CreateWorkflowRequest struct {
	Prompt  string                 `json:"prompt"`
	SiteID  string                 `json:"site_id,omitempty"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// WorkflowAPI is the request/response collaborator that creates, updates
// and cancels workflows out of band. The monitoring channel itself never
// creates workflows; it only observes them.
type WorkflowAPI interface {
	CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (string, error)
	UpdateWorkflow(ctx context.Context, workflowID string, req CreateWorkflowRequest) (string, error)
	GetWorkflowStatus(ctx context.Context, workflowID string) (models.WorkflowSnapshot, error)
	CancelWorkflow(ctx context.Context, workflowID string) error
}

type snapshotSub struct {
	id int
	fn func(models.WorkflowSnapshot)
}

// Monitor binds one Connection and one WorkflowAPI into the consumer
// surface: current snapshot, per-agent view, subscribe, and the
// start/cancel/reset operations. One Monitor tracks one workflow at a
// time; starting a new workflow tears down the previous channel first.
type Monitor struct {
	conn   *Connection
	api    WorkflowAPI
	logger Logger

	mu       sync.RWMutex
	snapshot *models.WorkflowSnapshot

	subMu     sync.Mutex
	nextSubID int
	subs      []snapshotSub

	unsubscribe func()
}

// NewMonitor wires a Monitor to a Connection. The api collaborator may be
// nil, in which case StartWorkflow is unavailable and CancelWorkflow only
// sends the in-band command.
func NewMonitor(conn *Connection, api WorkflowAPI, logger Logger) *Monitor {
	if logger == nil {
		logger = nopLogger{}
	}
	m := &Monitor{
		conn:   conn,
		api:    api,
		logger: logger,
	}
	m.unsubscribe = conn.Subscribe(m.handleMessage)
	return m
}

// Connection exposes the underlying channel, mainly for state-change
// subscriptions.
func (m *Monitor) Connection() *Connection {
	return m.conn
}

// State returns the connection lifecycle state.
func (m *Monitor) State() State {
	return m.conn.State()
}

// Snapshot returns a copy of the current workflow snapshot, if a workflow
// is active.
func (m *Monitor) Snapshot() (models.WorkflowSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snapshot == nil {
		return models.WorkflowSnapshot{}, false
	}
	return m.snapshot.Clone(), true
}

// AgentStatuses returns the observed agents keyed by name.
func (m *Monitor) AgentStatuses() map[string]models.AgentStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.AgentStatus)
	if m.snapshot == nil {
		return out
	}
	for _, a := range m.snapshot.Agents {
		out[a.Name] = a.Clone()
	}
	return out
}

// Subscribe registers a handler invoked with a fresh snapshot copy after
// every applied message. The returned func cancels the subscription.
func (m *Monitor) Subscribe(fn func(models.WorkflowSnapshot)) func() {
	m.subMu.Lock()
	m.nextSubID++
	id := m.nextSubID
	m.subs = append(m.subs, snapshotSub{id: id, fn: fn})
	m.subMu.Unlock()
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// StartWorkflow creates a new workflow run through the API and opens the
// monitoring channel for it. Any previously monitored workflow is reset
// first. Returns the new workflow identifier.
func (m *Monitor) StartWorkflow(ctx context.Context, req CreateWorkflowRequest) (string, error) {
	if m.api == nil {
		return "", errors.New("no workflow API configured")
	}
	m.Reset()

	workflowID, err := m.api.CreateWorkflow(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "create workflow")
	}
	if err := m.attach(workflowID); err != nil {
		return "", err
	}
	m.logger.Infof("Started workflow %s", workflowID)
	return workflowID, nil
}

// UpdateWorkflow requests changes to an existing site through the API and
// monitors the resulting run.
func (m *Monitor) UpdateWorkflow(ctx context.Context, workflowID string, req CreateWorkflowRequest) (string, error) {
	if m.api == nil {
		return "", errors.New("no workflow API configured")
	}
	m.Reset()

	id, err := m.api.UpdateWorkflow(ctx, workflowID, req)
	if err != nil {
		return "", errors.Wrap(err, "update workflow")
	}
	if err := m.attach(id); err != nil {
		return "", err
	}
	m.logger.Infof("Updated workflow %s, monitoring run %s", workflowID, id)
	return id, nil
}

// Attach opens the monitoring channel for a workflow that already exists,
// e.g. one started elsewhere or rejoined after a restart.
func (m *Monitor) Attach(workflowID string) error {
	m.Reset()
	return m.attach(workflowID)
}

func (m *Monitor) attach(workflowID string) error {
	snap := NewSnapshot(workflowID)
	m.mu.Lock()
	m.snapshot = &snap
	m.mu.Unlock()

	if err := m.conn.Connect(workflowID); err != nil {
		m.mu.Lock()
		m.snapshot = nil
		m.mu.Unlock()
		return err
	}
	return nil
}

// CancelWorkflow sends the in-band cancel command and calls the external
// cancellation endpoint. The local snapshot is optimistically marked
// cancelled regardless of delivery outcome; if that was wrong, a later
// workflow.status or workflow.error message corrects it. The returned
// error reflects the API call only — the in-band command is fire and
// forget by contract.
func (m *Monitor) CancelWorkflow(ctx context.Context) error {
	m.mu.RLock()
	var workflowID string
	if m.snapshot != nil {
		workflowID = m.snapshot.WorkflowID
	}
	m.mu.RUnlock()
	if workflowID == "" {
		return ErrNoActiveWorkflow
	}

	if err := m.conn.Send(CancelCommand(workflowID)); err != nil {
		m.logger.Errorf("Failed to send cancel command for workflow %s: %v", workflowID, err)
	}

	var apiErr error
	if m.api != nil {
		apiErr = m.api.CancelWorkflow(ctx, workflowID)
	}

	m.mu.Lock()
	var marked models.WorkflowSnapshot
	notify := false
	if m.snapshot != nil && m.snapshot.WorkflowID == workflowID {
		m.snapshot.Status = models.CancelledWorkflowStatus
		m.snapshot.UpdatedAt = time.Now()
		marked = m.snapshot.Clone()
		notify = true
	}
	m.mu.Unlock()
	if notify {
		m.notify(marked)
	}

	if apiErr != nil {
		return errors.Wrapf(apiErr, "cancel workflow %s", workflowID)
	}
	return nil
}

// Reset disconnects the channel and discards the snapshot. Safe to call at
// any point; no timer or notification fires afterwards.
func (m *Monitor) Reset() {
	m.conn.Disconnect()
	m.mu.Lock()
	m.snapshot = nil
	m.mu.Unlock()
}

// Close releases the message subscription and tears down the channel.
func (m *Monitor) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.Reset()
}

func (m *Monitor) handleMessage(msg Message) {
	m.mu.Lock()
	if m.snapshot == nil {
		m.mu.Unlock()
		return
	}
	next := Reduce(*m.snapshot, msg, time.Now())
	m.snapshot = &next
	applied := next.Clone()
	m.mu.Unlock()

	if msg.Type == PongMessage {
		return
	}
	m.notify(applied)
}

func (m *Monitor) notify(snap models.WorkflowSnapshot) {
	m.subMu.Lock()
	subs := append([]snapshotSub(nil), m.subs...)
	m.subMu.Unlock()
	for _, s := range subs {
		m.safeNotify(s, snap)
	}
}

func (m *Monitor) safeNotify(s snapshotSub, snap models.WorkflowSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorf("Snapshot subscriber panicked: %v", r)
		}
	}()
	s.fn(snap)
}
