package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smnthegr/calamansi-detection/internal/detection"
	"github.com/smnthegr/calamansi-detection/internal/logging"
)

// DetectionAttempt is one persisted audit row.
type DetectionAttempt struct {
	ID           uint      `gorm:"primaryKey"`
	RequestID    string    `gorm:"column:request_id;uniqueIndex;size:64"`
	SourceID     string    `gorm:"column:source_id;index;size:64"`
	Status       string    `gorm:"column:status;size:16"`
	Reason       string    `gorm:"column:reason;size:64"`
	Confidence   float64   `gorm:"column:confidence"`
	ProcessingMs int64     `gorm:"column:processing_ms"`
	Success      bool      `gorm:"column:success;index"`
	CreatedAt    time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (DetectionAttempt) TableName() string {
	return "detection_attempts"
}

// Store implements the detection.Ledger contract on Postgres plus a
// Redis key-value side for window counters and result caching.
type Store struct {
	db     *gorm.DB
	kv     KV
	logger *zap.Logger
}

// NewStore builds the ledger store.
func NewStore(db *gorm.DB, kv KV, logger *zap.Logger) *Store {
	return &Store{db: db, kv: kv, logger: logger.Named("ledger")}
}

// AutoMigrate ensures the audit schema exists.
func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&DetectionAttempt{})
}

// RecordAttempt persists one audit row.
func (s *Store) RecordAttempt(ctx context.Context, attempt detection.Attempt) error {
	row := DetectionAttempt{
		RequestID:    attempt.RequestID,
		SourceID:     attempt.SourceID,
		Status:       attempt.Status,
		Reason:       attempt.Reason,
		Confidence:   attempt.Confidence,
		ProcessingMs: attempt.ProcessingMs,
		Success:      attempt.Success,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return logging.NewOperationError("ledger.record_attempt", attempt.RequestID, err)
	}
	return nil
}

// DailySuccessCount counts successful fan-out completions for the
// calendar day containing the given time (UTC).
func (s *Store) DailySuccessCount(ctx context.Context, day time.Time) (int64, error) {
	day = day.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	var count int64
	err := s.db.WithContext(ctx).
		Model(&DetectionAttempt{}).
		Where("success = ? AND created_at >= ? AND created_at < ?", true, start, end).
		Count(&count).Error
	if err != nil {
		return 0, logging.NewOperationError("ledger.daily_success_count", "", err)
	}
	return count, nil
}

// CheckWindowLimit applies the per-source sliding window. A source
// that reaches twice the window ceiling is escalated to a persistent
// block. Any Redis error fails open.
func (s *Store) CheckWindowLimit(ctx context.Context, sourceID string, window time.Duration, maxRequests int) (detection.WindowDecision, error) {
	blockKey := "ratelimit:block:" + sourceID
	blocked, err := s.kv.Exists(ctx, blockKey)
	if err != nil {
		return detection.WindowDecision{Allowed: true}, logging.NewOperationError("ledger.check_window_limit", "", err)
	}
	if blocked {
		return detection.WindowDecision{Allowed: false, Reason: "source is blocked"}, nil
	}

	countKey := "ratelimit:window:" + sourceID
	count, err := s.kv.Incr(ctx, countKey)
	if err != nil {
		return detection.WindowDecision{Allowed: true}, logging.NewOperationError("ledger.check_window_limit", "", err)
	}
	if count == 1 {
		if err := s.kv.Expire(ctx, countKey, window); err != nil {
			// A counter without a TTL would never roll over and would
			// tighten the limit for this source forever. Drop it and
			// fail open for this window instead.
			s.logger.Warn("failed to set window expiry, dropping counter", zap.Error(err))
			if delErr := s.kv.Del(ctx, countKey); delErr != nil {
				s.logger.Warn("failed to drop unexpiring counter", zap.Error(delErr))
			}
			return detection.WindowDecision{Allowed: true}, logging.NewOperationError("ledger.check_window_limit", "", err)
		}
	}

	if count >= int64(2*maxRequests) {
		if err := s.kv.Set(ctx, blockKey, "1", 0); err != nil {
			s.logger.Warn("failed to persist block", zap.Error(err))
		}
		return detection.WindowDecision{Allowed: false, Reason: "source blocked after repeated abuse"}, nil
	}
	if count > int64(maxRequests) {
		return detection.WindowDecision{Allowed: false, Reason: "window request limit exceeded"}, nil
	}
	return detection.WindowDecision{Allowed: true}, nil
}

// FindByRequestID loads one audit row.
func (s *Store) FindByRequestID(ctx context.Context, requestID string) (*DetectionAttempt, error) {
	var row DetectionAttempt
	if err := s.db.WithContext(ctx).First(&row, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// CacheOutcome stores a rendered outcome payload for fast result
// lookups.
func (s *Store) CacheOutcome(ctx context.Context, requestID, payload string, ttl time.Duration) error {
	return s.kv.Set(ctx, resultKey(requestID), payload, ttl)
}

// CachedOutcome loads a previously cached outcome payload. Returns
// ErrCacheMiss when absent.
func (s *Store) CachedOutcome(ctx context.Context, requestID string) (string, error) {
	return s.kv.Get(ctx, resultKey(requestID))
}

func resultKey(requestID string) string {
	return fmt.Sprintf("detection:result:%s", requestID)
}

// UsageSummary aggregates audit rows for the usage endpoint.
type UsageSummary struct {
	TotalAttempts       int64   `json:"total_attempts"`
	SuccessfulAttempts  int64   `json:"successful_attempts"`
	AcceptedAttempts    int64   `json:"accepted_attempts"`
	SuccessRate         float64 `json:"success_rate"`
	AverageConfidence   float64 `json:"average_confidence"`
	AverageProcessingMs float64 `json:"average_processing_ms"`
}

// Summarize aggregates all audit rows.
func (s *Store) Summarize(ctx context.Context) (*UsageSummary, error) {
	var aggregation struct {
		TotalCount          int64
		SuccessCount        int64
		AcceptedCount       int64
		AverageConfidence   float64
		AverageProcessingMs float64
	}
	err := s.db.WithContext(ctx).
		Model(&DetectionAttempt{}).
		Select(
			"COUNT(*) AS total_count, " +
				"COUNT(*) FILTER (WHERE success) AS success_count, " +
				"COUNT(*) FILTER (WHERE status = 'accepted') AS accepted_count, " +
				"COALESCE(AVG(confidence), 0) AS average_confidence, " +
				"COALESCE(AVG(processing_ms), 0) AS average_processing_ms",
		).
		Scan(&aggregation).Error
	if err != nil {
		return nil, err
	}

	summary := &UsageSummary{
		TotalAttempts:       aggregation.TotalCount,
		SuccessfulAttempts:  aggregation.SuccessCount,
		AcceptedAttempts:    aggregation.AcceptedCount,
		AverageConfidence:   aggregation.AverageConfidence,
		AverageProcessingMs: aggregation.AverageProcessingMs,
	}
	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}
	return summary, nil
}
