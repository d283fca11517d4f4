package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/SebastienMelki/notifyguard/internal/dedup"
)

// NotificationService implements the gateway business logic on top of the
// dedup module. HTTP handlers only decode requests and encode responses.
type NotificationService struct {
	dedup  dedup.Deduplicator
	logger *slog.Logger
}

// NewNotificationService creates a new notification service.
func NewNotificationService(dd dedup.Deduplicator, logger *slog.Logger) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationService{
		dedup:  dd,
		logger: logger.With("component", "notification-service"),
	}
}

// Check classifies a notification.
func (s *NotificationService) Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error) {
	res, err := s.dedup.CheckDuplicate(ctx, dedup.Notification{
		Title:    req.Title,
		Message:  req.Message,
		Category: req.Category,
		Priority: dedup.Priority(req.Priority),
	})
	if err != nil {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}

	s.logger.Debug("notification checked",
		"category", req.Category,
		"priority", req.Priority,
		"is_duplicate", res.IsDuplicate,
		"should_block", res.ShouldBlock,
	)

	return &CheckResponse{
		IsDuplicate: res.IsDuplicate,
		ShouldBlock: res.ShouldBlock,
		Similarity:  res.Similarity,
		MatchedHash: res.MatchedHash,
		WindowMs:    res.Window.Milliseconds(),
	}, nil
}

// Block blocks the content until it is unblocked or ages out.
func (s *NotificationService) Block(_ context.Context, req *ContentRequest) {
	s.dedup.Block(req.Title, req.Message, req.Category)
}

// Unblock forgets the content.
func (s *NotificationService) Unblock(_ context.Context, req *ContentRequest) *UnblockResponse {
	return &UnblockResponse{Existed: s.dedup.Unblock(req.Title, req.Message, req.Category)}
}

// Similarity scores two strings with the requested method.
func (s *NotificationService) Similarity(_ context.Context, req *SimilarityRequest) (*SimilarityResponse, error) {
	method, err := dedup.ParseSimilarityMethod(req.Method)
	if err != nil {
		return nil, err
	}

	threshold := s.dedup.GetConfig().DefaultSimilarityThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	cmp, err := s.dedup.Compare(req.A, req.B, method, threshold)
	if err != nil {
		return nil, fmt.Errorf("compare: %w", err)
	}

	return &SimilarityResponse{
		Method:      method.String(),
		Threshold:   threshold,
		Similarity:  cmp.Similarity,
		IsDuplicate: cmp.IsDuplicate,
	}, nil
}

// GetConfig returns the current policy configuration.
func (s *NotificationService) GetConfig(_ context.Context) *ConfigDTO {
	cfg := configToDTO(s.dedup.GetConfig())
	return &cfg
}

// UpdateConfig applies a partial policy update.
func (s *NotificationService) UpdateConfig(ctx context.Context, patch *ConfigPatch) (*ConfigDTO, error) {
	cfg, err := s.dedup.UpdateConfig(ctx, patch.toUpdate())
	if err != nil {
		s.logger.Warn("policy update failed", "error", err)
		return nil, fmt.Errorf("update config: %w", err)
	}

	s.logger.Info("policy configuration updated",
		"enabled", cfg.Enabled,
		"categories", len(cfg.Categories),
	)

	out := configToDTO(cfg)
	return &out, nil
}

// Stats returns the dedup counters.
func (s *NotificationService) Stats(_ context.Context) *StatsResponse {
	out := statsToResponse(s.dedup.Stats())
	return &out
}
