package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/intervu-backend/internal/config"
	"github.com/stemsi/intervu-backend/internal/response"
	"github.com/stemsi/intervu-backend/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams live session activity to administrators.
type MonitorHandler struct {
	rdb            *redis.Client
	monitorService *service.MonitorService
	log            zerolog.Logger

	refreshEvery   time.Duration
	keepAliveEvery time.Duration
}

func NewMonitorHandler(rdb *redis.Client, monitorService *service.MonitorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
		refreshEvery:   refreshInterval,
		keepAliveEvery: keepAliveInterval,
	}
}

// MonitorSSE godoc
// GET /api/v1/admin/monitor
// Sends a snapshot, then every published session event, with a periodic
// refreshed snapshot and keep-alive pings.
func (h *MonitorHandler) MonitorSSE(c *gin.Context) {
	reqCtx := c.Request.Context()

	snap, err := h.snapshot(reqCtx)
	if err != nil {
		h.log.Error().Err(err).Msg("Monitor snapshot failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.MonitorChannel())
	defer pubsub.Close()
	// Wait for the subscription so no event between snapshot and stream is lost.
	if _, err := pubsub.Receive(reqCtx); err != nil {
		h.log.Error().Err(err).Msg("Monitor subscribe failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	ch := pubsub.Channel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("snapshot", snap)
	c.Writer.Flush()

	keepAliveTicker := time.NewTicker(h.keepAliveEvery)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(h.refreshEvery)
	defer refreshTicker.Stop()

	h.log.Info().Msg("Admin attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Msg("Admin disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward raw JSON directly, no deserialization needed.
			writeSSE(c.Writer, "session", msg.Payload)

		case <-refreshTicker.C:
			snap, err := h.snapshot(reqCtx)
			if err != nil {
				h.log.Warn().Err(err).Msg("Failed to refresh monitor snapshot")
				continue
			}
			c.SSEvent("snapshot", snap)
			c.Writer.Flush()

		case <-keepAliveTicker.C:
			writeSSE(c.Writer, "ping", `{"type":"ping"}`)
		}
	}
}

func (h *MonitorHandler) snapshot(parent context.Context) (*service.MonitorSnapshot, error) {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()
	return h.monitorService.Snapshot(ctx)
}

func writeSSE(w gin.ResponseWriter, event, data string) {
	_, _ = io.WriteString(w, "event: "+event+"\ndata: "+data+"\n\n")
	w.Flush()
}
