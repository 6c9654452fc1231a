package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ErlanBelekov/cronkeep/internal/domain"
	"github.com/gin-gonic/gin"
)

// taskUsecaser is the subset of TaskUsecase the handler needs. Defined
// here (point of use) so tests can inject a fake.
type taskUsecaser interface {
	Create(ctx context.Context, name, cronExpr string) (*domain.ScheduledTask, error)
	Delete(ctx context.Context, slug string) error
	Get(ctx context.Context, slug string) (*domain.ScheduledTask, error)
	List(ctx context.Context, offset, limit int) (int, []*domain.ScheduledTask, error)
	ListExecutions(ctx context.Context, slug string, offset, limit int) (int, []*domain.ExecutedTask, error)
}

type TaskHandler struct {
	tasks  taskUsecaser
	logger *slog.Logger
}

func NewTaskHandler(tasks taskUsecaser, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, logger: logger.With("component", "task_handler")}
}

type createTaskRequest struct {
	Name           string `json:"name" binding:"required"`
	CronExpression string `json:"cron_expression" binding:"required"`
}

type pageResponse[T any] struct {
	Count  int `json:"count"`
	Result []T `json:"result"`
}

// POST /tasks
func (h *TaskHandler) Create(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	task, err := h.tasks.Create(c.Request.Context(), req.Name, req.CronExpression)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCron) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": errInvalidCron})
			return
		}
		h.logger.Error("create task", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errTaskCreateFailed})
		return
	}

	c.JSON(http.StatusOK, task)
}

// GET /tasks?offset=&limit=
func (h *TaskHandler) List(c *gin.Context) {
	offset, limit := parsePage(c)

	count, tasks, err := h.tasks.List(c.Request.Context(), offset, limit)
	if err != nil {
		h.logger.Error("list tasks", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	if tasks == nil {
		tasks = []*domain.ScheduledTask{}
	}
	c.JSON(http.StatusOK, pageResponse[*domain.ScheduledTask]{Count: count, Result: tasks})
}

// DELETE /tasks/:slug
func (h *TaskHandler) Delete(c *gin.Context) {
	slug := c.Param("slug")

	if err := h.tasks.Delete(c.Request.Context(), slug); err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errTaskNotFound})
			return
		}
		h.logger.Error("delete task", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errTaskDeleteFailed})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "task deleted"})
}

// GET /tasks/:slug/results?offset=&limit=
func (h *TaskHandler) ListExecutions(c *gin.Context) {
	slug := c.Param("slug")
	offset, limit := parsePage(c)

	count, executions, err := h.tasks.ListExecutions(c.Request.Context(), slug, offset, limit)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errTaskNotFound})
			return
		}
		h.logger.Error("list executions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	if executions == nil {
		executions = []*domain.ExecutedTask{}
	}
	c.JSON(http.StatusOK, pageResponse[*domain.ExecutedTask]{Count: count, Result: executions})
}

func parsePage(c *gin.Context) (offset, limit int) {
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return offset, limit
}
