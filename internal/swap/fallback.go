package swap

import (
	"context"
	"log/slog"
	"strings"
)

// FallbackProvider sends requests to Primary and, when Primary is
// unavailable, answers from Degraded instead. Rejections by a reachable
// provider are returned as-is.
type FallbackProvider struct {
	Primary  Provider
	Degraded Provider
	logger   *slog.Logger
}

// NewFallbackProvider wraps primary with a degraded fallback.
func NewFallbackProvider(primary, degraded Provider, logger *slog.Logger) *FallbackProvider {
	return &FallbackProvider{Primary: primary, Degraded: degraded, logger: logger}
}

func (f *FallbackProvider) CreateShift(ctx context.Context, req ShiftRequest) (*Shift, error) {
	sh, err := f.Primary.CreateShift(ctx, req)
	if err == nil || !IsUnavailable(err) {
		return sh, err
	}
	f.logger.Warn("swap provider unavailable, using degraded mode",
		"reference", req.Reference, "err", err)
	sh, derr := f.Degraded.CreateShift(context.WithoutCancel(ctx), req)
	if derr != nil {
		return nil, derr
	}
	sh.Degraded = true
	return sh, nil
}

func (f *FallbackProvider) GetShiftStatus(ctx context.Context, shiftID string) (*Shift, error) {
	if strings.HasPrefix(shiftID, MockIDPrefix) {
		return f.Degraded.GetShiftStatus(ctx, shiftID)
	}
	return f.Primary.GetShiftStatus(ctx, shiftID)
}
