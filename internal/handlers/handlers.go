package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smnthegr/calamansi-detection/internal/detection"
	"github.com/smnthegr/calamansi-detection/internal/ledger"
)

// MaxUploadSize bounds accepted image uploads.
const MaxUploadSize = 10 << 20

const resultCacheTTL = 10 * time.Minute

// Detector runs one image through the detection pipeline. Satisfied
// by *detection.Pipeline; substituted in tests.
type Detector interface {
	Detect(ctx context.Context, req detection.Request) detection.Outcome
}

// ResultStore is the slice of the ledger the routes consume. Satisfied
// by *ledger.Store.
type ResultStore interface {
	CacheOutcome(ctx context.Context, requestID, payload string, ttl time.Duration) error
	CachedOutcome(ctx context.Context, requestID string) (string, error)
	FindByRequestID(ctx context.Context, requestID string) (*ledger.DetectionAttempt, error)
	Summarize(ctx context.Context) (*ledger.UsageSummary, error)
	DailySuccessCount(ctx context.Context, day time.Time) (int64, error)
}

// Deps bundles everything the routes need.
type Deps struct {
	Detector    Detector
	Store       ResultStore
	Breaker     *detection.CircuitBreaker
	Gate        *detection.Gate
	Auth        gin.HandlerFunc
	DailyBudget int
	Logger      *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"circuit":   deps.Breaker.State(),
			"in_flight": deps.Gate.InFlight(),
			"capacity":  deps.Gate.Capacity(),
		})
	})

	router.POST("/detect", func(c *gin.Context) {
		file, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}
		if contentType := file.Header.Get("Content-Type"); contentType != "" && !strings.HasPrefix(contentType, "image/") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only image uploads are supported"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		req := detection.Request{
			RequestID:          uuid.NewString(),
			SourceID:           c.ClientIP(),
			Image:              data,
			PrimaryThreshold:   parseThreshold(c.PostForm("primary_threshold")),
			SecondaryThreshold: parseThreshold(c.PostForm("secondary_threshold")),
		}

		outcome := deps.Detector.Detect(c.Request.Context(), req)
		body := outcomeBody(req.RequestID, outcome)

		if deps.Store != nil {
			if payload, err := json.Marshal(body); err == nil {
				if err := deps.Store.CacheOutcome(c.Request.Context(), req.RequestID, string(payload), resultCacheTTL); err != nil {
					deps.Logger.Warn("failed to cache outcome", zap.Error(err))
				}
			}
		}

		c.JSON(statusFor(outcome), body)
	})

	router.GET("/result/:id", func(c *gin.Context) {
		requestID := c.Param("id")
		if requestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		if cached, err := deps.Store.CachedOutcome(c.Request.Context(), requestID); err == nil {
			c.Data(http.StatusOK, "application/json", []byte(cached))
			return
		}

		row, err := deps.Store.FindByRequestID(c.Request.Context(), requestID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"request_id":         row.RequestID,
			"status":             row.Status,
			"reason":             row.Reason,
			"confidence":         row.Confidence,
			"processing_time_ms": row.ProcessingMs,
			"created_at":         row.CreatedAt,
		})
	})

	usage := func(c *gin.Context) {
		summary, err := deps.Store.Summarize(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate usage"})
			return
		}
		today, err := deps.Store.DailySuccessCount(c.Request.Context(), time.Now().UTC())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read daily usage"})
			return
		}
		remaining := int64(deps.DailyBudget) - today
		if remaining < 0 {
			remaining = 0
		}
		c.JSON(http.StatusOK, gin.H{
			"summary":          summary,
			"today_successful": today,
			"daily_budget":     deps.DailyBudget,
			"budget_remaining": remaining,
		})
	}
	if deps.Auth != nil {
		router.GET("/metrics/usage", deps.Auth, usage)
	} else {
		router.GET("/metrics/usage", usage)
	}
}

func parseThreshold(value string) *float64 {
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 || parsed > 1 {
		return nil
	}
	return &parsed
}

func outcomeBody(requestID string, outcome detection.Outcome) gin.H {
	body := gin.H{
		"request_id": requestID,
		"status":     string(outcome.Status),
	}
	switch outcome.Status {
	case detection.StatusAccepted:
		body["result"] = outcome.Result
	case detection.StatusRejected:
		body["reason"] = string(outcome.Reason)
		body["message"] = outcome.Message
		if outcome.Confidence > 0 {
			body["confidence"] = outcome.Confidence
		}
	default:
		body["error"] = string(outcome.Kind)
		body["message"] = outcome.Message
	}
	return body
}

// statusFor maps an outcome to its HTTP status. Accepted and rejected
// are both successful business responses.
func statusFor(outcome detection.Outcome) int {
	if outcome.Status != detection.StatusFailed {
		return http.StatusOK
	}
	switch outcome.Kind {
	case detection.KindCapacityExceeded, detection.KindBudgetExceeded,
		detection.KindSourceRateLimited, detection.KindUpstreamRateLimited:
		return http.StatusTooManyRequests
	case detection.KindCircuitOpen, detection.KindUnreachable:
		return http.StatusServiceUnavailable
	case detection.KindTimeout:
		return http.StatusGatewayTimeout
	case detection.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
