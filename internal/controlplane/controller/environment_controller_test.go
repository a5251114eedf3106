package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"sandboxd/internal/controlplane/hub"
	netmgr "sandboxd/internal/controlplane/network"
	"sandboxd/internal/controlplane/security"
	"sandboxd/internal/controlplane/service"
	pkgerrors "sandboxd/pkg/errors"
	"sandboxd/pkg/utils/response"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	dnetwork "github.com/docker/docker/api/types/network"
	"github.com/gin-gonic/gin"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubDocker answers every engine call successfully.
type stubDocker struct {
	mu      sync.Mutex
	network map[string]string
}

func (s *stubDocker) ContainerCreate(_ context.Context, _ *container.Config, _ *container.HostConfig, _ *dnetwork.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	return container.CreateResponse{ID: "ctr-" + name}, nil
}

func (s *stubDocker) ContainerStart(context.Context, string, container.StartOptions) error {
	return nil
}

func (s *stubDocker) ContainerStop(context.Context, string, container.StopOptions) error {
	return nil
}

func (s *stubDocker) ContainerRemove(context.Context, string, container.RemoveOptions) error {
	return nil
}

func (s *stubDocker) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (s *stubDocker) ContainerExecCreate(context.Context, string, container.ExecOptions) (types.IDResponse, error) {
	return types.IDResponse{ID: "exec-1"}, nil
}

func (s *stubDocker) ContainerExecAttach(context.Context, string, container.ExecStartOptions) (types.HijackedResponse, error) {
	return types.HijackedResponse{}, nil
}

func (s *stubDocker) NetworkList(_ context.Context, _ dnetwork.ListOptions) ([]dnetwork.Summary, error) {
	return nil, nil
}

func (s *stubDocker) NetworkCreate(_ context.Context, name string, _ dnetwork.CreateOptions) (dnetwork.CreateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.network == nil {
		s.network = make(map[string]string)
	}
	s.network[name] = "net-" + name
	return dnetwork.CreateResponse{ID: "net-" + name}, nil
}

func (s *stubDocker) NetworkRemove(context.Context, string) error {
	return nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	docker := &stubDocker{}
	h := hub.NewHub(nil)
	mgr := netmgr.NewManager(docker, "sandboxd", security.IsolationIsolated, nil)
	environments := service.NewEnvironmentService(docker, mgr, h, nil, security.DefaultPolicy(), service.EnvironmentServiceOptions{})
	ctrl := NewEnvironmentController(environments)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("user_id", "u1")
		c.Next()
	})
	router.POST("/environments", ctrl.Create)
	router.GET("/environments", ctrl.List)
	router.GET("/environments/:id", ctrl.Get)
	router.DELETE("/environments/:id", ctrl.Terminate)
	return router
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestCreateEnvironmentEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := do(router, http.MethodPost, "/environments", `{"name":"scratch","spec":{"image":"python:3.12-alpine"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp.Code != pkgerrors.Success {
		t.Fatalf("code = %d, want success", resp.Code)
	}
	data := resp.Data.(map[string]interface{})
	if data["status"] != "running" {
		t.Fatalf("status = %v, want running", data["status"])
	}
	if data["userId"] != "u1" {
		t.Fatalf("userId = %v, want u1", data["userId"])
	}
}

func TestCreateEnvironmentRejectsBlockedImage(t *testing.T) {
	router := newTestRouter(t)

	w := do(router, http.MethodPost, "/environments", `{"spec":{"image":"node:latest"}}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403, body %s", w.Code, w.Body.String())
	}
	if resp := decode(t, w); resp.Code != pkgerrors.PolicyViolation {
		t.Fatalf("code = %d, want PolicyViolation", resp.Code)
	}
}

func TestCreateEnvironmentRejectsMalformedBody(t *testing.T) {
	router := newTestRouter(t)
	if w := do(router, http.MethodPost, "/environments", `{not json`); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetUnknownEnvironment(t *testing.T) {
	router := newTestRouter(t)
	w := do(router, http.MethodGet, "/environments/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if resp := decode(t, w); resp.Code != pkgerrors.EnvironmentNotFound {
		t.Fatalf("code = %d, want EnvironmentNotFound", resp.Code)
	}
}

func TestTerminateEnvironmentEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := do(router, http.MethodPost, "/environments", `{"spec":{"image":"python:3.12-alpine"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}
	id := decode(t, w).Data.(map[string]interface{})["id"].(string)

	if w := do(router, http.MethodDelete, "/environments/"+id, ""); w.Code != http.StatusOK {
		t.Fatalf("terminate status = %d, body %s", w.Code, w.Body.String())
	}

	w = do(router, http.MethodGet, "/environments/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if got := decode(t, w).Data.(map[string]interface{})["status"]; got != "stopped" {
		t.Fatalf("status = %v, want stopped", got)
	}
}

func TestListEnvironmentsEndpoint(t *testing.T) {
	router := newTestRouter(t)
	for i := 0; i < 2; i++ {
		if w := do(router, http.MethodPost, "/environments", `{"spec":{"image":"python:3.12-alpine"}}`); w.Code != http.StatusCreated {
			t.Fatalf("create status = %d", w.Code)
		}
	}
	w := do(router, http.MethodGet, "/environments", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	items := decode(t, w).Data.(map[string]interface{})["items"].([]interface{})
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
}
