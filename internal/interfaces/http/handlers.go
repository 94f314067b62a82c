package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/approval-core/internal/application/service"
	"github.com/garyjia/approval-core/internal/application/workflow"
	"github.com/garyjia/approval-core/internal/domain/entity"
	"github.com/garyjia/approval-core/pkg/utils"
)

// ActorHeader carries the identity of the caller
const ActorHeader = "X-User-ID"

const actorKey = "actor"

// Services groups the application services exposed over HTTP
type Services struct {
	Orchestrator      workflow.Orchestrator
	Definitions       service.DefinitionService
	WorkItems         service.WorkItemService
	WorkItemLifecycle service.WorkItemLifecycle
	Tasks             service.TaskService
	TaskLifecycle     service.TaskLifecycle
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	services  Services
	readiness func() error
	version   string
	logger    Logger
}

// NewHandlers creates a new Handlers instance. readiness may be nil.
func NewHandlers(services Services, readiness func() error, version string, logger Logger) *Handlers {
	return &Handlers{
		services:  services,
		readiness: readiness,
		version:   version,
		logger:    logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Error     string `json:"error,omitempty"`
}

// ListWorkItemsRequest represents query parameters for listing work items
type ListWorkItemsRequest struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

// SubmitRequest is the body of POST /api/work-items/:id/submit
type SubmitRequest struct {
	ContentRef string `json:"content_ref"`
}

// StartWorkflowRequest is the body of POST /api/workflows
type StartWorkflowRequest struct {
	WorkItemID           string `json:"work_item_id" binding:"required"`
	WorkflowDefinitionID string `json:"workflow_definition_id" binding:"required"`
}

// DecisionRequest is the body of approve and reject calls
type DecisionRequest struct {
	Comment string `json:"comment"`
}

// DelegateRequest is the body of POST /api/tasks/:id/delegate
type DelegateRequest struct {
	To string `json:"to" binding:"required"`
}

// ReassignRequest is the body of POST /api/tasks/:id/reassign
type ReassignRequest struct {
	NewApprover string `json:"new_approver" binding:"required"`
	Reason      string `json:"reason"`
}

// CommentRequest is the body of POST /api/tasks/:id/comments
type CommentRequest struct {
	Comment string `json:"comment" binding:"required"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
	}

	if h.readiness != nil {
		if err := h.readiness(); err != nil {
			response.Status = "unhealthy"
			response.Error = err.Error()
			c.JSON(http.StatusServiceUnavailable, Response{Success: false, Data: response})
			return
		}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    response,
	})
}

// requireActor rejects requests without a valid X-User-ID header
func (h *Handlers) requireActor(c *gin.Context) {
	actor := c.GetHeader(ActorHeader)
	if err := utils.ValidateIdentifier(ActorHeader, actor); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
			Success: false,
			Error:   err.Error(),
		})
		return
	}
	c.Set(actorKey, actor)
	c.Next()
}

func actorOf(c *gin.Context) string {
	return c.GetString(actorKey)
}

// CreateDefinition handles POST /api/workflow-definitions
func (h *Handlers) CreateDefinition(c *gin.Context) {
	var req service.CreateDefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	details, err := h.services.Definitions.Create(c.Request.Context(), req, actorOf(c))
	if err != nil {
		h.fail(c, err, "create definition")
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: details})
}

// GetDefinition handles GET /api/workflow-definitions/:id
func (h *Handlers) GetDefinition(c *gin.Context) {
	details, err := h.services.Definitions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "get definition")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: details})
}

// CreateWorkItem handles POST /api/work-items
func (h *Handlers) CreateWorkItem(c *gin.Context) {
	var req service.CreateWorkItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	req.Title = utils.SanitizeString(req.Title)
	req.Description = utils.SanitizeString(req.Description)

	item, err := h.services.WorkItems.Create(c.Request.Context(), req, actorOf(c))
	if err != nil {
		h.fail(c, err, "create work item")
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: item})
}

// ListWorkItems handles GET /api/work-items
func (h *Handlers) ListWorkItems(c *gin.Context) {
	var req ListWorkItemsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	items, err := h.services.WorkItems.List(c.Request.Context(), entity.WorkItemStatus(req.Status), req.Limit, req.Offset)
	if err != nil {
		h.fail(c, err, "list work items")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: items})
}

// GetWorkItem handles GET /api/work-items/:id
func (h *Handlers) GetWorkItem(c *gin.Context) {
	item, err := h.services.WorkItems.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "get work item")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: item})
}

// SubmitWorkItem handles POST /api/work-items/:id/submit
func (h *Handlers) SubmitWorkItem(c *gin.Context) {
	var req SubmitRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
	}

	item, version, err := h.services.WorkItemLifecycle.Submit(c.Request.Context(), c.Param("id"), req.ContentRef, actorOf(c))
	if err != nil {
		h.fail(c, err, "submit work item")
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"work_item": item,
			"version":   version,
		},
	})
}

// ReworkWorkItem handles POST /api/work-items/:id/rework
func (h *Handlers) ReworkWorkItem(c *gin.Context) {
	h.transitionWorkItem(c, "send work item to rework", h.services.WorkItemLifecycle.SendToRework)
}

// ArchiveWorkItem handles POST /api/work-items/:id/archive
func (h *Handlers) ArchiveWorkItem(c *gin.Context) {
	h.transitionWorkItem(c, "archive work item", h.services.WorkItemLifecycle.Archive)
}

func (h *Handlers) transitionWorkItem(c *gin.Context, operation string,
	fn func(ctx context.Context, workItemID, actor string) (*entity.WorkItem, error)) {
	item, err := fn(c.Request.Context(), c.Param("id"), actorOf(c))
	if err != nil {
		h.fail(c, err, operation)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: item})
}

// ListWorkItemVersions handles GET /api/work-items/:id/versions
func (h *Handlers) ListWorkItemVersions(c *gin.Context) {
	versions, err := h.services.WorkItems.ListVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "list work item versions")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: versions})
}

// ListWorkItemWorkflows handles GET /api/work-items/:id/workflows
func (h *Handlers) ListWorkItemWorkflows(c *gin.Context) {
	instances, err := h.services.WorkItems.ListWorkflows(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "list work item workflows")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: instances})
}

// GetWorkflowProgress handles GET /api/work-items/:id/workflow-progress
func (h *Handlers) GetWorkflowProgress(c *gin.Context) {
	progress, err := h.services.WorkItems.GetWorkflowProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "get workflow progress")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: progress})
}

// StartWorkflow handles POST /api/workflows
func (h *Handlers) StartWorkflow(c *gin.Context) {
	var req StartWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	instance, err := h.services.Orchestrator.StartWorkflow(c.Request.Context(), req.WorkItemID, req.WorkflowDefinitionID, actorOf(c))
	if err != nil {
		h.fail(c, err, "start workflow")
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: instance})
}

// GetWorkflow handles GET /api/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	progress, err := h.services.WorkItems.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "get workflow")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: progress})
}

// CancelWorkflow handles POST /api/workflows/:id/cancel
func (h *Handlers) CancelWorkflow(c *gin.Context) {
	instance, err := h.services.Orchestrator.CancelWorkflow(c.Request.Context(), c.Param("id"), actorOf(c))
	if err != nil {
		h.fail(c, err, "cancel workflow")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: instance})
}

// ListTasks handles GET /api/tasks?approverId=&status=
func (h *Handlers) ListTasks(c *gin.Context) {
	approverID := c.Query("approverId")
	if approverID == "" {
		approverID = c.GetHeader(ActorHeader)
	}
	if err := utils.ValidateIdentifier("approverId", approverID); err != nil {
		badRequest(c, err.Error())
		return
	}

	status := entity.TaskStatus(c.Query("status"))
	if status != "" && !validTaskStatus(status) {
		badRequest(c, "invalid task status: "+string(status))
		return
	}

	tasks, err := h.services.Tasks.ListByApprover(c.Request.Context(), approverID, status)
	if err != nil {
		h.fail(c, err, "list tasks")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: tasks})
}

// GetTask handles GET /api/tasks/:id
func (h *Handlers) GetTask(c *gin.Context) {
	details, err := h.services.Tasks.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "get task")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: details})
}

// ApproveTask handles POST /api/tasks/:id/approve
func (h *Handlers) ApproveTask(c *gin.Context) {
	h.decide(c, entity.DecisionApproved)
}

// RejectTask handles POST /api/tasks/:id/reject
func (h *Handlers) RejectTask(c *gin.Context) {
	h.decide(c, entity.DecisionRejected)
}

func (h *Handlers) decide(c *gin.Context, decision entity.DecisionKind) {
	var req DecisionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
	}

	outcome, err := h.services.Orchestrator.HandleApprovalDecision(c.Request.Context(),
		c.Param("id"), actorOf(c), decision, utils.SanitizeString(req.Comment))
	if err != nil {
		h.fail(c, err, "decide task")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: outcome})
}

// DelegateTask handles POST /api/tasks/:id/delegate
func (h *Handlers) DelegateTask(c *gin.Context) {
	var req DelegateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := utils.ValidateIdentifier("to", req.To); err != nil {
		badRequest(c, err.Error())
		return
	}

	task, err := h.services.TaskLifecycle.Delegate(c.Request.Context(), c.Param("id"), actorOf(c), req.To)
	if err != nil {
		h.fail(c, err, "delegate task")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: task})
}

// AcceptTask handles POST /api/tasks/:id/accept
func (h *Handlers) AcceptTask(c *gin.Context) {
	task, err := h.services.TaskLifecycle.AcceptDelegation(c.Request.Context(), c.Param("id"), actorOf(c))
	if err != nil {
		h.fail(c, err, "accept delegation")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: task})
}

// ExpireTask handles POST /api/tasks/:id/expire
func (h *Handlers) ExpireTask(c *gin.Context) {
	task, err := h.services.TaskLifecycle.Expire(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "expire task")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: task})
}

// ReassignTask handles POST /api/tasks/:id/reassign
func (h *Handlers) ReassignTask(c *gin.Context) {
	var req ReassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := utils.ValidateIdentifier("new_approver", req.NewApprover); err != nil {
		badRequest(c, err.Error())
		return
	}

	task, err := h.services.TaskLifecycle.Reassign(c.Request.Context(), c.Param("id"),
		req.NewApprover, utils.SanitizeString(req.Reason), actorOf(c))
	if err != nil {
		h.fail(c, err, "reassign task")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: task})
}

// AddComment handles POST /api/tasks/:id/comments
func (h *Handlers) AddComment(c *gin.Context) {
	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	comment, err := h.services.Tasks.AddComment(c.Request.Context(), c.Param("id"), utils.SanitizeString(req.Comment), actorOf(c))
	if err != nil {
		h.fail(c, err, "add comment")
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: comment})
}

func validTaskStatus(status entity.TaskStatus) bool {
	switch status {
	case entity.TaskStatusPending, entity.TaskStatusApproved, entity.TaskStatusRejected,
		entity.TaskStatusDelegated, entity.TaskStatusExpired, entity.TaskStatusCancelled:
		return true
	}
	return false
}
