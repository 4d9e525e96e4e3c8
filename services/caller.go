package services

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const RoleAdmin = "admin"

// Caller identifies the authenticated user behind a request.
type Caller struct {
	UserID string
	Role   string
}

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

// CanAccess reports whether the caller owns ownerID's resources or is an admin.
func (c Caller) CanAccess(ownerID string) bool {
	return c.IsAdmin() || (c.UserID != "" && c.UserID == ownerID)
}

// MetricsRecorder is satisfied by the CloudWatch metrics client.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
}

// recordCount sends a counter in the background so metrics never block or
// fail a request.
func recordCount(metrics MetricsRecorder, logger *zap.Logger, name string, dims map[string]string) {
	if metrics == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metrics.RecordCount(ctx, name, dims); err != nil {
			logger.Debug("Failed to record metric", zap.String("metric", name), zap.Error(err))
		}
	}()
}
