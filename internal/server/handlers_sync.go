package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	syncpkg "github.com/lumenworks/taskpilot/backend/internal/sync"
)

const realtimeHeartbeatInterval = 25 * time.Second

type syncPullRequest struct {
	DeviceID   string     `json:"device_id"`
	LastSyncAt *time.Time `json:"last_sync_at"`
}

type syncPushRequest struct {
	DeviceID        string          `json:"device_id"`
	ClientID        string          `json:"client_id"`
	EntityType      string          `json:"entity_type"`
	Data            json.RawMessage `json:"data"`
	ClientUpdatedAt time.Time       `json:"client_updated_at"`
}

type syncResolveRequest struct {
	ClientID   string          `json:"client_id"`
	EntityType string          `json:"entity_type"`
	Resolution string          `json:"resolution"`
	ClientData json.RawMessage `json:"client_data"`
}

func (r syncPushRequest) toItem() (syncpkg.PushItem, error) {
	entityType, err := syncpkg.ParseEntityType(r.EntityType)
	if err != nil {
		return syncpkg.PushItem{}, err
	}
	return syncpkg.PushItem{
		DeviceID:        r.DeviceID,
		ClientID:        r.ClientID,
		EntityType:      entityType,
		Data:            r.Data,
		ClientUpdatedAt: r.ClientUpdatedAt,
	}, nil
}

func (h *httpHandler) handleSyncPull(c *gin.Context) {
	sc, ok := h.requestScope(c)
	if !ok {
		return
	}

	var request syncPullRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.DeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.sync.Pull(c.Request.Context(), sc, request.DeviceID, request.LastSyncAt)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleSyncPush(c *gin.Context) {
	sc, ok := h.requestScope(c)
	if !ok {
		return
	}

	var request syncPushRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	item, err := request.toItem()
	if err != nil {
		h.respondError(c, err)
		return
	}

	outcome, err := h.sync.Push(c.Request.Context(), sc, item)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if !outcome.HasConflict {
		h.publishChange(sc.UserID(), string(item.EntityType), item.ClientID)
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *httpHandler) handleSyncBatchPush(c *gin.Context) {
	sc, ok := h.requestScope(c)
	if !ok {
		return
	}

	var requests []syncPushRequest
	if err := c.ShouldBindJSON(&requests); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	items := make([]syncpkg.PushItem, 0, len(requests))
	for _, request := range requests {
		item, err := request.toItem()
		if err != nil {
			h.respondError(c, err)
			return
		}
		items = append(items, item)
	}

	result, err := h.sync.BatchPush(c.Request.Context(), sc, items)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if len(result.SyncedIDs) > 0 {
		h.publishChange(sc.UserID(), "batch", result.SyncedIDs...)
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleSyncResolve(c *gin.Context) {
	sc, ok := h.requestScope(c)
	if !ok {
		return
	}

	var request syncResolveRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entityType, err := syncpkg.ParseEntityType(request.EntityType)
	if err != nil {
		h.respondError(c, err)
		return
	}
	resolution, err := syncpkg.ParseResolution(request.Resolution)
	if err != nil {
		h.respondError(c, err)
		return
	}

	result, err := h.sync.Resolve(c.Request.Context(), sc, syncpkg.ResolveRequest{
		ClientID:   request.ClientID,
		EntityType: entityType,
		Resolution: resolution,
		ClientData: request.ClientData,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	if result.AppliedResolution == syncpkg.ResolutionKeepClient {
		h.publishChange(sc.UserID(), string(entityType), request.ClientID)
	}
	c.JSON(http.StatusOK, result)
}

type realtimeEventPayload struct {
	Source     string    `json:"source"`
	EntityType string    `json:"entity_type"`
	ClientIDs  []string  `json:"client_ids"`
	Timestamp  time.Time `json:"timestamp"`
}

// handleSyncEvents streams entity-change notifications over SSE so a
// device learns to pull without polling. Heartbeats keep intermediaries
// from closing the idle connection.
func (h *httpHandler) handleSyncEvents(c *gin.Context) {
	sc, ok := h.requestScope(c)
	if !ok {
		return
	}

	stream, cancel := h.dispatcher.Subscribe(c.Request.Context(), sc.UserID())
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(realtimeHeartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case message, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				Source:     realtimeSourceBackend,
				EntityType: message.EntityType,
				ClientIDs:  message.ClientIDs,
				Timestamp:  message.Timestamp,
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
