package controller

import (
	"sandboxd/internal/controlplane/model"
	"sandboxd/internal/controlplane/security"
	"sandboxd/internal/controlplane/service"
	"sandboxd/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// EnvironmentController handles environment lifecycle HTTP endpoints.
type EnvironmentController struct {
	environments *service.EnvironmentService
}

// NewEnvironmentController creates a new EnvironmentController.
func NewEnvironmentController(environments *service.EnvironmentService) *EnvironmentController {
	return &EnvironmentController{environments: environments}
}

// Create launches a new sandbox environment.
func (h *EnvironmentController) Create(c *gin.Context) {
	var req CreateEnvironmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	env, err := h.environments.Create(c.Request.Context(), service.CreateEnvironmentRequest{
		UserID:          callerID(c),
		Name:            req.Name,
		Spec:            req.Spec,
		PolicyOverrides: req.PolicyOverrides,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, env)
}

// Get returns one environment.
func (h *EnvironmentController) Get(c *gin.Context) {
	environmentID := c.Param("id")
	if environmentID == "" {
		response.BadRequest(c, "Invalid environment id")
		return
	}
	env, err := h.environments.Get(environmentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, env)
}

// List returns the caller's environments. Admins may pass ?user= to inspect
// another user, or omit it for everything.
func (h *EnvironmentController) List(c *gin.Context) {
	userID := callerID(c)
	if isAdmin(c) {
		userID = c.Query("user")
	}
	response.Success(c, ListEnvironmentsResponse{
		Items: h.environments.List(userID),
	})
}

// Terminate tears one environment down.
func (h *EnvironmentController) Terminate(c *gin.Context) {
	environmentID := c.Param("id")
	if environmentID == "" {
		response.BadRequest(c, "Invalid environment id")
		return
	}
	if err := h.environments.Terminate(c.Request.Context(), environmentID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"environmentId": environmentID, "status": string(model.EnvironmentStopped)})
}

// CreateTerminal opens an interactive session in a running environment.
func (h *EnvironmentController) CreateTerminal(c *gin.Context) {
	environmentID := c.Param("id")
	if environmentID == "" {
		response.BadRequest(c, "Invalid environment id")
		return
	}
	var req CreateTerminalRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	session, err := h.environments.StartTerminal(c.Request.Context(), environmentID, req.Cmd)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, TerminalResponse{
		SessionID:     session.ID,
		EnvironmentID: session.EnvironmentID,
		StartedAt:     session.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// CloseTerminal ends an interactive session.
func (h *EnvironmentController) CloseTerminal(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		response.BadRequest(c, "Invalid session id")
		return
	}
	h.environments.CloseTerminal(sessionID)
	response.Success(c, gin.H{"sessionId": sessionID})
}

func callerID(c *gin.Context) string {
	if v, ok := c.Get("user_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func isAdmin(c *gin.Context) bool {
	v, ok := c.Get("user_role")
	return ok && v == "admin"
}

// CreateEnvironmentRequest defines the environment creation payload.
type CreateEnvironmentRequest struct {
	Name            string              `json:"name"`
	Spec            model.ContainerSpec `json:"spec" binding:"required"`
	PolicyOverrides *security.Overrides `json:"policyOverrides"`
}

// ListEnvironmentsResponse defines the environment list payload.
type ListEnvironmentsResponse struct {
	Items []*model.Environment `json:"items"`
}

// CreateTerminalRequest defines the terminal creation payload.
type CreateTerminalRequest struct {
	Cmd []string `json:"cmd"`
}

// TerminalResponse defines the terminal creation response payload.
type TerminalResponse struct {
	SessionID     string `json:"session_id"`
	EnvironmentID string `json:"environment_id"`
	StartedAt     string `json:"started_at"`
}
