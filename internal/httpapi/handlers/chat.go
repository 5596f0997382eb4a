package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/assistant-gateway/internal/ai"
	"github.com/suPer8Hu/assistant-gateway/internal/chat"
	"github.com/suPer8Hu/assistant-gateway/internal/common"
	"github.com/suPer8Hu/assistant-gateway/internal/httpapi/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type createSessionReq struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Mode     string `json:"mode"`
}

func (h *Handler) CreateChatSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createSessionReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	sess, err := h.ChatSvc.CreateSession(c.Request.Context(), uid, req.Provider, req.Model, req.Mode)
	if err != nil {
		h.failChatError(c, "create session", err)
		return
	}

	common.OK(c, gin.H{
		"session_id": sess.SessionID,
		"provider":   sess.Provider,
		"model":      sess.Model,
		"mode":       sess.Mode,
	})
}

type sendMessageReq struct {
	SessionID string `json:"session_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
}

func (h *Handler) SendChatMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	reply, msgID, err := h.ChatSvc.SendMessage(c.Request.Context(), uid, req.SessionID, req.Message)
	if err != nil {
		h.failChatError(c, "send message", err)
		return
	}

	common.OK(c, gin.H{
		"session_id": req.SessionID,
		"reply":      reply,
		"message_id": msgID,
	})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessionID := c.Param("session_id")

	limit, _ := strconv.Atoi(c.Query("limit"))
	beforeIDStr := c.Query("before_id")
	var beforeID uint64
	if beforeIDStr != "" {
		if n, err := strconv.ParseUint(beforeIDStr, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), uid, sessionID, limit, beforeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}

	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

const heartbeatInterval = 15 * time.Second

// sseEvent turns a provider chunk into an SSE event name and payload.
func sseEvent(ch ai.Chunk) (string, gin.H) {
	switch ch.Type {
	case ai.ChunkReasoning:
		return "reasoning", gin.H{"type": "reasoning", "reasoning": ch.Reasoning}
	case ai.ChunkUsage:
		return "usage", gin.H{
			"type":              "usage",
			"input_tokens":      ch.InputTokens,
			"output_tokens":     ch.OutputTokens,
			"cache_read_tokens": ch.CacheReadTokens,
		}
	default:
		return "text", gin.H{"type": "text", "text": ch.Text}
	}
}

// streamErrorMessage is the client-facing text of a stream failure. Anything
// unrecognised gets a generic message; the caller logs the detail.
func streamErrorMessage(err error) (msg string, known bool) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "session not found", true
	case errors.Is(err, chat.ErrUnsupportedProvider):
		return "unsupported ai provider", true
	case errors.Is(err, ai.ErrClarifaiTokenRequired), errors.Is(err, ai.ErrOpenRouterKeyRequired):
		return "api key required for this provider", true
	case ai.IsRateLimit(err):
		return "provider rate limit exceeded", true
	case errors.Is(err, context.DeadlineExceeded):
		return "provider timed out", false
	}
	return "upstream provider error", false
}

func (h *Handler) SendChatMessageStream(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx

	// avoid gin writing a JSON response later
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		// can't stream
		fmt.Fprintf(c.Writer, "event: error\ndata: {\"type\":\"error\",\"message\":\"flusher not supported\"}\n\n")
		return
	}

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			// last-resort: send a simple error that won't break SSE framing
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"type\":\"error\",\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	ctx := c.Request.Context()
	chunks, msgIDCh, errs := h.ChatSvc.SendMessageStream(ctx, uid, req.SessionID, req.Message)

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for chunks != nil {
		select {
		case ch, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			event, payload := sseEvent(ch)
			writeJSON(event, payload)

		case <-ticker.C:
			writeJSON("ping", gin.H{
				"type": "ping",
				"ts":   time.Now().Unix(),
			})

		case <-ctx.Done():
			return
		}
	}

	if err := <-errs; err != nil {
		msg, known := streamErrorMessage(err)
		if !known {
			h.Logger.Warn("stream failed",
				zap.String("request_id", middleware.RequestIDFrom(c)),
				zap.String("session_id", req.SessionID),
				zap.Error(err),
			)
		}
		writeJSON("error", gin.H{
			"type":         "error",
			"message":      msg,
			"rate_limited": ai.IsRateLimit(err),
		})
		return
	}

	writeJSON("done", gin.H{
		"type":       "done",
		"message_id": <-msgIDCh,
	})
}

func (h *Handler) SendChatMessageAsync(c *gin.Context) {
	var req sendMessageReq

	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if h.Rabbit == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50300, "async chat disabled")
		return
	}

	log := h.Logger.With(
		zap.String("request_id", middleware.RequestIDFrom(c)),
		zap.Uint64("user_id", uid),
		zap.String("session_id", req.SessionID),
	)

	// read idempotency key
	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}

	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	// Insert user message immediately (A-mode); a retried request with the
	// same key reuses the stored message.
	if _, _, err := h.ChatSvc.InsertUserMessageOrGetExisting(c.Request.Context(), uid, req.SessionID, req.Message, idempoKeyPtr); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "session not found")
			return
		}
		log.Error("insert user message failed", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	jobID, err := common.NewULID()
	if err != nil {
		log.Error("new job id failed", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	// Create job row (idempotent if key is provided)
	j := &chat.Job{
		ID:             jobID,
		UserID:         uid,
		SessionID:      req.SessionID,
		Prompt:         req.Message,
		IdempotencyKey: idempoKeyPtr,
		Status:         chat.JobQueued,
	}

	created := true
	if idempoKeyPtr == nil {
		// backward-compatible: always new job
		if err := h.ChatSvc.CreateJob(c.Request.Context(), j); err != nil {
			log.Error("create job failed", zap.String("job_id", jobID), zap.Error(err))
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
			return
		}
	} else {
		var job *chat.Job
		job, created, err = h.ChatSvc.CreateJobOrGetExisting(c.Request.Context(), j)
		if err != nil {
			log.Error("create job failed", zap.String("job_id", jobID), zap.String("key", idempoKey), zap.Error(err))
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
			return
		}
		// If existing, use its ID for response/publish decision
		j = job
	}

	// Enqueue only when a new job was created
	if created {
		if err := h.Rabbit.PublishJob(c.Request.Context(), j.ID); err != nil {
			log.Error("publish job failed", zap.String("job_id", j.ID), zap.Error(err))
			common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
			return
		}
	}

	common.OK(c, gin.H{"job_id": j.ID, "created": created})
}

func (h *Handler) GetChatJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}

	j, err := h.ChatSvc.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if j.UserID != uid {
		// hide existence
		common.Fail(c, http.StatusNotFound, 40402, "job not found")
		return
	}

	common.OK(c, gin.H{
		"job": gin.H{
			"id":                j.ID,
			"session_id":        j.SessionID,
			"status":            j.Status,
			"result_message_id": j.ResultMessageID,
			"error":             j.Error,
			"created_at":        j.CreatedAt,
			"updated_at":        j.UpdatedAt,
		},
	})
}
