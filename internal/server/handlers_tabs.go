package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lumenworks/taskpilot/backend/internal/tabs"
)

type tabCreateRequest struct {
	ClientID   string `json:"client_id"`
	Name       string `json:"name"`
	OrderIndex *int   `json:"order_index"`
}

type tabUpdateRequest struct {
	Name       *string `json:"name"`
	OrderIndex *int    `json:"order_index"`
}

func (h *httpHandler) handleListTabs(c *gin.Context) {
	sc, ok := h.requestScope(c)
	if !ok {
		return
	}

	result, err := h.tabs.List(c.Request.Context(), sc)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleCreateTab(c *gin.Context) {
	sc, ok := h.requestScope(c)
	if !ok {
		return
	}

	var request tabCreateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	tab, err := h.tabs.Create(c.Request.Context(), sc, tabs.CreateParams{
		ClientID:   request.ClientID,
		Name:       request.Name,
		OrderIndex: request.OrderIndex,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.publishChange(sc.UserID(), "tab", tab.ClientID)
	c.JSON(http.StatusOK, tab)
}

func (h *httpHandler) handleUpdateTab(c *gin.Context) {
	sc, ok := h.requestScope(c)
	if !ok {
		return
	}
	tabID, ok := pathID(c)
	if !ok {
		return
	}

	var request tabUpdateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	tab, err := h.tabs.Update(c.Request.Context(), sc, tabID, tabs.UpdateParams{
		Name:       request.Name,
		OrderIndex: request.OrderIndex,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.publishChange(sc.UserID(), "tab", tab.ClientID)
	c.JSON(http.StatusOK, tab)
}

func (h *httpHandler) handleDeleteTab(c *gin.Context) {
	sc, ok := h.requestScope(c)
	if !ok {
		return
	}
	tabID, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.tabs.Delete(c.Request.Context(), sc, tabID); err != nil {
		h.respondError(c, err)
		return
	}

	h.publishChange(sc.UserID(), "tab")
	c.JSON(http.StatusOK, gin.H{"message": "Tab deleted successfully"})
}
