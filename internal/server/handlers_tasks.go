package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lumenworks/taskpilot/backend/internal/tasks"
)

type taskCreateRequest struct {
	ClientID     string  `json:"client_id"`
	TabID        *int64  `json:"tab_id"`
	ParentTaskID *int64  `json:"parent_task_id"`
	Title        string  `json:"title"`
	Description  *string `json:"description"`
	DueDate      *string `json:"due_date"`
	DueTime      *string `json:"due_time"`
}

type taskUpdateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	DueDate     *string `json:"due_date"`
	DueTime     *string `json:"due_time"`
	TabID       *int64  `json:"tab_id"`
}

type taskCompleteRequest struct {
	IsCompleted bool `json:"is_completed"`
}

func includeCompletedQuery(c *gin.Context, fallback bool) bool {
	raw := c.Query("include_completed")
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func (h *httpHandler) handleTodayTasks(c *gin.Context) {
	sc, ok := h.requestScope(c)
	if !ok {
		return
	}

	result, err := h.tasks.Today(c.Request.Context(), sc)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleAllTasks(c *gin.Context) {
	sc, ok := h.requestScope(c)
	if !ok {
		return
	}

	result, err := h.tasks.All(c.Request.Context(), sc, includeCompletedQuery(c, true))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleTasksByTab(c *gin.Context) {
	sc, ok := h.requestScope(c)
	if !ok {
		return
	}
	tabID, ok := pathID(c)
	if !ok {
		return
	}

	result, err := h.tasks.ByTab(c.Request.Context(), sc, tabID, includeCompletedQuery(c, false))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleCreateTask(c *gin.Context) {
	sc, ok := h.requestScope(c)
	if !ok {
		return
	}

	var request taskCreateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	task, err := h.tasks.Create(c.Request.Context(), sc, tasks.CreateParams{
		ClientID:     request.ClientID,
		TabID:        request.TabID,
		ParentTaskID: request.ParentTaskID,
		Title:        request.Title,
		Description:  request.Description,
		DueDate:      request.DueDate,
		DueTime:      request.DueTime,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.publishChange(sc.UserID(), "task", task.ClientID)
	c.JSON(http.StatusOK, task)
}

func (h *httpHandler) handleUpdateTask(c *gin.Context) {
	sc, ok := h.requestScope(c)
	if !ok {
		return
	}
	taskID, ok := pathID(c)
	if !ok {
		return
	}

	var request taskUpdateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	task, err := h.tasks.Update(c.Request.Context(), sc, taskID, tasks.UpdateParams{
		Title:       request.Title,
		Description: request.Description,
		DueDate:     request.DueDate,
		DueTime:     request.DueTime,
		TabID:       request.TabID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.publishChange(sc.UserID(), "task", task.ClientID)
	c.JSON(http.StatusOK, task)
}

func (h *httpHandler) handleCompleteTask(c *gin.Context) {
	sc, ok := h.requestScope(c)
	if !ok {
		return
	}
	taskID, ok := pathID(c)
	if !ok {
		return
	}

	var request taskCompleteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	task, err := h.tasks.Complete(c.Request.Context(), sc, taskID, request.IsCompleted)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.publishChange(sc.UserID(), "task", task.ClientID)
	c.JSON(http.StatusOK, task)
}

func (h *httpHandler) handleMoveTask(c *gin.Context) {
	sc, ok := h.requestScope(c)
	if !ok {
		return
	}
	taskID, ok := pathID(c)
	if !ok {
		return
	}

	newTabID, err := strconv.ParseInt(c.Query("new_tab_id"), 10, 64)
	if err != nil || newTabID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_new_tab_id"})
		return
	}

	task, err := h.tasks.Move(c.Request.Context(), sc, taskID, newTabID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.publishChange(sc.UserID(), "task", task.ClientID)
	c.JSON(http.StatusOK, task)
}

func (h *httpHandler) handleDeleteTask(c *gin.Context) {
	sc, ok := h.requestScope(c)
	if !ok {
		return
	}
	taskID, ok := pathID(c)
	if !ok {
		return
	}

	affected, err := h.tasks.Delete(c.Request.Context(), sc, taskID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.publishChange(sc.UserID(), "task")
	c.JSON(http.StatusOK, gin.H{
		"message":       "Task deleted successfully",
		"deleted_count": affected,
	})
}
