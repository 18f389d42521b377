package handlers

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"clientray/internal/models"
	"clientray/internal/services"
)

type TaskHandler struct {
	service services.TaskService
}

func NewTaskHandler(service services.TaskService) *TaskHandler {
	return &TaskHandler{service: service}
}

// POST /tasks
func (h *TaskHandler) Create(c *gin.Context) {
	var req struct {
		CreatorID   int64               `json:"creator_id" binding:"required"`
		AssigneeID  int64               `json:"assignee_id" binding:"required"`
		LeadID      *int64              `json:"lead_id"`
		AccountID   *int64              `json:"account_id"`
		ProjectID   *int64              `json:"project_id"`
		Title       string              `json:"title" binding:"required"`
		Description string              `json:"description"`
		DueDate     string              `json:"due_date"` // RFC3339
		Priority    models.TaskPriority `json:"priority"` // low|normal|high|urgent

		IsRecurring        bool    `json:"is_recurring"`
		RecurrencePattern  string  `json:"recurrence_pattern"`
		RecurrenceInterval int     `json:"recurrence_interval"`
		RecurrenceEndDate  string  `json:"recurrence_end_date"` // RFC3339
		ExtraAssigneeIDs   []int64 `json:"extra_assignee_ids"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("[task][create][bind][err] %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Printf("[task][create] payload assignee_id=%d title=%q recurring=%v pattern=%q",
		req.AssigneeID, req.Title, req.IsRecurring, req.RecurrencePattern)

	due, ok := parseOptionalTime(c, "due_date", req.DueDate)
	if !ok {
		return
	}
	endDate, ok := parseOptionalTime(c, "recurrence_end_date", req.RecurrenceEndDate)
	if !ok {
		return
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}

	task := &models.Task{
		CreatorID:          req.CreatorID,
		AssigneeID:         req.AssigneeID,
		LeadID:             req.LeadID,
		AccountID:          req.AccountID,
		ProjectID:          req.ProjectID,
		Title:              req.Title,
		Description:        req.Description,
		DueDate:            due,
		Priority:           req.Priority,
		IsRecurring:        req.IsRecurring,
		RecurrencePattern:  req.RecurrencePattern,
		RecurrenceInterval: req.RecurrenceInterval,
		RecurrenceEndDate:  endDate,
		ExtraAssigneeIDs:   req.ExtraAssigneeIDs,
	}

	createdTask, err := h.service.Create(c.Request.Context(), task)
	if err != nil {
		log.Printf("[task][create][err] %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Printf("[task][create][ok] id=%d recurring=%v", createdTask.ID, createdTask.IsRecurring)
	c.JSON(http.StatusCreated, createdTask)
}

// GET /tasks/:id
func (h *TaskHandler) GetByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		log.Printf("[task][getByID][err] invalid id: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	task, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		log.Printf("[task][getByID][err] id=%d: %v", id, err)
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

// GET /tasks
func (h *TaskHandler) GetAll(c *gin.Context) {
	var filter models.TaskFilter
	if v, ok := c.GetQuery("assignee_id"); ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.AssigneeID = &id
		} else {
			log.Printf("[task][list][warn] bad assignee_id=%q: %v", v, err)
		}
	}
	if v, ok := c.GetQuery("creator_id"); ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.CreatorID = &id
		} else {
			log.Printf("[task][list][warn] bad creator_id=%q: %v", v, err)
		}
	}
	if v, ok := c.GetQuery("lead_id"); ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.LeadID = &id
		} else {
			log.Printf("[task][list][warn] bad lead_id=%q: %v", v, err)
		}
	}
	if v, ok := c.GetQuery("account_id"); ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.AccountID = &id
		} else {
			log.Printf("[task][list][warn] bad account_id=%q: %v", v, err)
		}
	}
	if v, ok := c.GetQuery("status"); ok {
		st := models.TaskStatus(v)
		filter.Status = &st
	}
	if v, ok := c.GetQuery("is_recurring"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			filter.IsRecurring = &b
		} else {
			log.Printf("[task][list][warn] bad is_recurring=%q: %v", v, err)
		}
	}

	tasks, err := h.service.GetAll(c.Request.Context(), filter)
	if err != nil {
		log.Printf("[task][list][err] %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tasks"})
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// PUT /tasks/:id
func (h *TaskHandler) Update(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var req struct {
		AssigneeID        int64               `json:"assignee_id" binding:"required"`
		Title             string              `json:"title" binding:"required"`
		Description       string              `json:"description"`
		DueDate           string              `json:"due_date"` // RFC3339
		Priority          models.TaskPriority `json:"priority"`
		Status            models.TaskStatus   `json:"status"`
		RecurrenceEndDate string              `json:"recurrence_end_date"` // RFC3339
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("[task][update][bind][err] %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	due, ok := parseOptionalTime(c, "due_date", req.DueDate)
	if !ok {
		return
	}
	endDate, ok := parseOptionalTime(c, "recurrence_end_date", req.RecurrenceEndDate)
	if !ok {
		return
	}

	updated, err := h.service.Update(c.Request.Context(), id, &models.Task{
		AssigneeID:        req.AssigneeID,
		Title:             req.Title,
		Description:       req.Description,
		DueDate:           due,
		Priority:          req.Priority,
		Status:            req.Status,
		RecurrenceEndDate: endDate,
	})
	if err != nil {
		log.Printf("[task][update][err] id=%d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update task"})
		return
	}
	if updated == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	log.Printf("[task][update][ok] id=%d", id)
	c.JSON(http.StatusOK, updated)
}

// DELETE /tasks/:id
func (h *TaskHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		log.Printf("[task][delete][err] id=%d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete task"})
		return
	}
	log.Printf("[task][delete][ok] id=%d", id)
	c.Status(http.StatusNoContent)
}

// PUT /tasks/:id/recurrence/stop
func (h *TaskHandler) StopRecurrence(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	task, err := h.service.StopRecurrence(c.Request.Context(), id)
	if err != nil {
		log.Printf("[task][stopRecurrence][err] id=%d: %v", id, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Printf("[task][stopRecurrence][ok] id=%d", id)
	c.JSON(http.StatusOK, task)
}

func parseOptionalTime(c *gin.Context, field, value string) (*time.Time, bool) {
	if value == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		log.Printf("[task][err] invalid %s=%q: %v", field, value, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + field + " (RFC3339)"})
		return nil, false
	}
	return &t, true
}
