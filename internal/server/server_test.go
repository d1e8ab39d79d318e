package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/piotask/internal/integration"
	"github.com/dshills/piotask/internal/monitor"
	"github.com/dshills/piotask/internal/observability"
	"github.com/dshills/piotask/internal/pio"
	"github.com/dshills/piotask/internal/project"
	"github.com/dshills/piotask/internal/serial"
	"github.com/dshills/piotask/internal/state"
	"github.com/dshills/piotask/internal/task"
)

type nopHost struct{}

func (nopHost) Executions() []task.Execution { return nil }

func (nopHost) Dispatch(context.Context, string) error { return nil }

type settings struct{}

func (settings) AutoCloseSerialMonitor() bool { return true }

func (settings) ReopenSerialMonitorDelay() time.Duration { return 0 }

type fakeManager struct {
	mu         sync.Mutex
	tasks      []*task.ProjectTask
	envs       []string
	session    uint64
	refreshErr error
	lastErr    error
	cmdErr     error
	ran        []string
	commands   []string
	forced     []bool
	active     string
	loaded     []string
	selector   *serial.Selector
	controller *monitor.Controller
}

func (m *fakeManager) Tasks() []*task.ProjectTask { return m.tasks }

func (m *fakeManager) Envs() []string { return m.envs }

func (m *fakeManager) SessionToken() uint64 { return m.session }

func (m *fakeManager) LastRefreshError() error { return m.lastErr }

func (m *fakeManager) Refresh(_ context.Context, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forced = append(m.forced, force)
	if m.refreshErr != nil {
		return m.refreshErr
	}
	if force {
		m.session++
	}
	return nil
}

func (m *fakeManager) RunTaskByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID == id {
			m.ran = append(m.ran, id)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", project.ErrTaskNotFound, id)
}

func (m *fakeManager) ExecuteCommand(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmdErr != nil {
		return m.cmdErr
	}
	m.commands = append(m.commands, name)
	return nil
}

func (m *fakeManager) LoadEnvTasks(_ context.Context, env string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(m.envs, env) {
		return fmt.Errorf("%w: %q", project.ErrUnknownEnv, env)
	}
	m.loaded = append(m.loaded, env)
	return nil
}

func (m *fakeManager) ActiveEnv(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == "" && len(m.envs) > 0 {
		return m.envs[0], nil
	}
	return m.active, nil
}

func (m *fakeManager) SetActiveEnv(_ context.Context, env string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if env != "" && !slices.Contains(m.envs, env) {
		return fmt.Errorf("%w: %q", project.ErrUnknownEnv, env)
	}
	m.active = env
	return nil
}

func (m *fakeManager) Selector() *serial.Selector { return m.selector }

func (m *fakeManager) Controller() *monitor.Controller { return m.controller }

type fakeLister struct {
	ports []pio.Port
	err   error
}

func (l fakeLister) ListPorts(context.Context) ([]pio.Port, error) {
	return l.ports, l.err
}

type harness struct {
	manager *fakeManager
	store   *state.MemoryStore
	wb      *Workbench
	bus     *integration.EventBus
	ts      *httptest.Server
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	store := state.NewMemoryStore()
	bus := integration.NewEventBus()
	h := &harness{
		store: store,
		bus:   bus,
		wb:    NewWorkbench(bus, nil),
		manager: &fakeManager{
			tasks:      pio.DefaultTasks(),
			envs:       []string{"uno"},
			selector:   serial.New(store, "/proj"),
			controller: monitor.New(nopHost{}, settings{}),
		},
	}
	srv := New(h.manager, h.wb, bus, opts...)
	h.ts = httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		h.ts.Close()
		h.manager.controller.Dispose()
		bus.Close()
	})
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer res.Body.Close()

	var out map[string]any
	data, _ := io.ReadAll(res.Body)
	if len(data) > 0 && data[0] == '{' {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return res.StatusCode, out
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodGet, "/healthz", nil)
	if status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", status, body)
	}

	h.manager.lastErr = &project.RefreshError{Session: 2, Err: errors.New("pio missing")}
	_, body = h.do(t, http.MethodGet, "/healthz", nil)
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
}

func TestListTasks(t *testing.T) {
	h := newHarness(t)

	_, body := h.do(t, http.MethodGet, "/v1/tasks", nil)
	if body["shown"] != false {
		t.Errorf("shown before registration = %v", body["shown"])
	}

	h.wb.ShowTasks(3, pio.EnvTasks("uno", nil), true)
	status := h.wb.CreateStatusItem()
	status.SetText("ttyUSB0")

	_, body = h.do(t, http.MethodGet, "/v1/tasks", nil)
	if body["shown"] != true || body["session"] != float64(3) || body["multiEnv"] != true {
		t.Errorf("view = %v", body)
	}
	if body["status"] != "ttyUSB0" {
		t.Errorf("status = %v", body["status"])
	}
	tasks, _ := body["tasks"].([]any)
	if len(tasks) != len(pio.EnvTasks("uno", nil)) {
		t.Errorf("tasks = %d", len(tasks))
	}
}

func TestRunTask(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodPost, "/v1/tasks/run", map[string]string{"id": "Upload"})
	if status != http.StatusAccepted || body["key"] != "PlatformIO: Upload" {
		t.Fatalf("run = %d %v", status, body)
	}
	if len(h.manager.ran) != 1 {
		t.Errorf("ran = %v", h.manager.ran)
	}

	if status, _ := h.do(t, http.MethodPost, "/v1/tasks/run", map[string]string{}); status != http.StatusBadRequest {
		t.Errorf("missing id status = %d", status)
	}
	if status, body := h.do(t, http.MethodPost, "/v1/tasks/run", map[string]string{"id": "Nope"}); status != http.StatusNotFound || body["code"] != "task_not_found" {
		t.Errorf("unknown id = %d %v", status, body)
	}
}

func TestCommand(t *testing.T) {
	h := newHarness(t)

	if status, _ := h.do(t, http.MethodPost, "/v1/commands/build", nil); status != http.StatusAccepted {
		t.Fatalf("status = %d", status)
	}
	if len(h.manager.commands) != 1 || h.manager.commands[0] != "build" {
		t.Errorf("commands = %v", h.manager.commands)
	}

	h.manager.cmdErr = fmt.Errorf("%w: Build in %q", project.ErrNoMatchingTask, "uno")
	status, body := h.do(t, http.MethodPost, "/v1/commands/build", nil)
	if status != http.StatusNotFound || body["code"] != "no_matching_task" {
		t.Errorf("no match = %d %v", status, body)
	}
}

func TestEnv(t *testing.T) {
	h := newHarness(t)
	h.manager.envs = []string{"uno", "esp32"}

	status, body := h.do(t, http.MethodGet, "/v1/env", nil)
	if status != http.StatusOK || body["env"] != "uno" {
		t.Fatalf("GET /v1/env = %d %v", status, body)
	}

	status, body = h.do(t, http.MethodPut, "/v1/env", map[string]string{"env": " esp32 "})
	if status != http.StatusOK || body["env"] != "esp32" {
		t.Fatalf("PUT /v1/env = %d %v", status, body)
	}
	if h.manager.active != "esp32" {
		t.Errorf("active = %q, want esp32", h.manager.active)
	}

	status, body = h.do(t, http.MethodPut, "/v1/env", map[string]string{"env": "nano"})
	if status != http.StatusNotFound || body["code"] != "unknown_env" {
		t.Errorf("unknown env = %d %v", status, body)
	}

	if status, body := h.do(t, http.MethodPut, "/v1/env", nil); status != http.StatusOK || body["env"] != "uno" {
		t.Errorf("reset env = %d %v", status, body)
	}
}

func TestLoadEnv(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodPost, "/v1/envs/uno/load", nil)
	if status != http.StatusAccepted || body["env"] != "uno" {
		t.Fatalf("load = %d %v", status, body)
	}
	if !slices.Equal(h.manager.loaded, []string{"uno"}) {
		t.Errorf("loaded = %v", h.manager.loaded)
	}

	status, body = h.do(t, http.MethodPost, "/v1/envs/nano/load", nil)
	if status != http.StatusNotFound || body["code"] != "unknown_env" {
		t.Errorf("unknown env = %d %v", status, body)
	}
}

func TestRefresh(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodPost, "/v1/refresh?force=true", nil)
	if status != http.StatusOK || body["session"] != float64(1) {
		t.Fatalf("refresh = %d %v", status, body)
	}
	if status, _ := h.do(t, http.MethodPost, "/v1/refresh?force=maybe", nil); status != http.StatusBadRequest {
		t.Errorf("bad force status = %d", status)
	}

	h.manager.refreshErr = &project.RefreshError{Session: 1, Err: errors.New("boom")}
	if status, body := h.do(t, http.MethodPost, "/v1/refresh", nil); status != http.StatusBadGateway || body["code"] != "refresh_failed" {
		t.Errorf("failed refresh = %d %v", status, body)
	}
	if got := h.manager.forced; len(got) != 2 || !got[0] || got[1] {
		t.Errorf("forced = %v, want [true false]", got)
	}
}

func TestPort(t *testing.T) {
	h := newHarness(t)

	_, body := h.do(t, http.MethodGet, "/v1/port", nil)
	if body["port"] != "" || body["label"] != serial.AutoLabel {
		t.Errorf("initial port = %v", body)
	}

	status, body := h.do(t, http.MethodPut, "/v1/port", map[string]string{"port": " /dev/ttyACM0 "})
	if status != http.StatusOK || body["port"] != "/dev/ttyACM0" || body["label"] != "ttyACM0" {
		t.Fatalf("set port = %d %v", status, body)
	}
	if v, ok, _ := h.store.Get("/proj", state.SlotCustomPort); !ok || v != "/dev/ttyACM0" {
		t.Errorf("persisted = %q %v", v, ok)
	}

	h.store.Err = errors.New("disk full")
	if status, _ := h.do(t, http.MethodPut, "/v1/port", map[string]string{"port": ""}); status != http.StatusInternalServerError {
		t.Errorf("failed write status = %d", status)
	}
	if got := h.manager.selector.Port(); got != "/dev/ttyACM0" {
		t.Errorf("port after failed write = %q", got)
	}

	h.store.Err = nil
	_, body = h.do(t, http.MethodPut, "/v1/port", map[string]string{"port": ""})
	if body["label"] != serial.AutoLabel {
		t.Errorf("auto label = %v", body["label"])
	}
}

func TestListPorts(t *testing.T) {
	h := newHarness(t)
	if status, _ := h.do(t, http.MethodGet, "/v1/ports", nil); status != http.StatusNotImplemented {
		t.Errorf("unconfigured status = %d", status)
	}

	h = newHarness(t, WithPortLister(fakeLister{ports: []pio.Port{{Port: "/dev/ttyUSB0", Description: "CP2102"}}}))
	res, err := http.Get(h.ts.URL + "/v1/ports")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	var ports []pio.Port
	if err := json.NewDecoder(res.Body).Decode(&ports); err != nil {
		t.Fatal(err)
	}
	if len(ports) != 1 || ports[0].Port != "/dev/ttyUSB0" {
		t.Errorf("ports = %+v", ports)
	}

	h = newHarness(t, WithPortLister(fakeLister{err: errors.New("no pio")}))
	if status, _ := h.do(t, http.MethodGet, "/v1/ports", nil); status != http.StatusBadGateway {
		t.Errorf("failing lister status = %d", status)
	}
}

func TestMonitorState(t *testing.T) {
	h := newHarness(t)
	h.manager.controller.Begin(pio.DefaultTasks()[1])

	_, body := h.do(t, http.MethodGet, "/v1/monitor", nil)
	active, _ := body["active"].(map[string]any)
	if active["id"] != "Upload" {
		t.Errorf("active = %v", body["active"])
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	metrics.MonitorSuspended.Inc()

	h := newHarness(t, WithGatherer(reg))
	res, err := http.Get(h.ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(data), "piotask_monitor_suspended_total 1") {
		t.Errorf("metrics output missing counter:\n%s", data)
	}
}

func TestEvents(t *testing.T) {
	h := newHarness(t)

	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.bus.SubscriptionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	h.wb.Notify(project.LevelWarning, "No Build task")
	ended := &fakeExecution{id: "e1", task: pio.DefaultTasks()[1]}
	h.bus.Publish(integration.EventTaskEnded, task.ProcessEnded{Execution: ended, ExitCode: 2})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second map[string]any
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatal(err)
	}

	if first["type"] != integration.EventNotification {
		t.Errorf("first type = %v", first["type"])
	}
	payload, _ := second["payload"].(map[string]any)
	exec, _ := payload["execution"].(map[string]any)
	if second["type"] != integration.EventTaskEnded || payload["exitCode"] != float64(2) || exec["id"] != "e1" {
		t.Errorf("second = %v", second)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for h.bus.SubscriptionCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := h.bus.SubscriptionCount(); n != 0 {
		t.Errorf("subscriptions after disconnect = %d", n)
	}
}

type fakeExecution struct {
	id   string
	task *task.ProjectTask
}

func (e *fakeExecution) ID() string { return e.id }

func (e *fakeExecution) ProviderType() string { return task.ProviderType }

func (e *fakeExecution) Task() *task.ProjectTask { return e.task }

func (e *fakeExecution) Terminate() error { return nil }
