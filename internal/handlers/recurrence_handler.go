package handlers

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"clientray/internal/recurrence"
	"clientray/internal/scheduler"
	"clientray/internal/services"
)

// RecurrenceHandler is the operator surface of the generation engine: manual
// runs, per-task generation, scheduler status and a read-only occurrence
// preview backed by the same calculator the materializer uses.
type RecurrenceHandler struct {
	service   services.RecurrenceService
	scheduler *scheduler.Controller
}

func NewRecurrenceHandler(service services.RecurrenceService, ctrl *scheduler.Controller) *RecurrenceHandler {
	return &RecurrenceHandler{service: service, scheduler: ctrl}
}

// POST /recurring/run
func (h *RecurrenceHandler) Run(c *gin.Context) {
	log.Printf("[recurring][manualRun] requested")
	generated, err := h.service.RunOnce(c.Request.Context())
	if err != nil {
		log.Printf("[recurring][manualRun][err] %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "recurring pass failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"generated": generated})
}

// POST /recurring/tasks/:id/generate
func (h *RecurrenceHandler) GenerateOne(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	created, err := h.service.GenerateForTask(c.Request.Context(), id)
	if err != nil {
		log.Printf("[recurring][generateOne][err] id=%d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generation failed"})
		return
	}
	log.Printf("[recurring][generateOne][ok] id=%d created=%v", id, created)
	c.JSON(http.StatusOK, gin.H{"generated": created})
}

// GET /recurring/status
func (h *RecurrenceHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Status())
}

// GET /recurring/preview?date=...&pattern=...&interval=...
//
// Shows the date the next instance would get, without touching anything.
func (h *RecurrenceHandler) Preview(c *gin.Context) {
	dateStr := c.Query("date")
	pattern := c.Query("pattern")

	date, err := time.Parse(time.RFC3339, dateStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date (RFC3339)"})
		return
	}
	if !recurrence.Valid(pattern) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown pattern"})
		return
	}
	interval := 1
	if v := c.Query("interval"); v != "" {
		interval, err = strconv.Atoi(v)
		if err != nil || interval < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid interval"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"next": recurrence.Next(date, pattern, interval)})
}
