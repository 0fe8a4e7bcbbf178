package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/opensource-finance/rfm/internal/domain"
)

// Reports stores finished reports by input fingerprint.
type Reports struct {
	cache domain.Cache
	ttl   time.Duration
}

// NewReports wraps c. A nil c yields a Reports that always misses.
func NewReports(c domain.Cache, ttl time.Duration) *Reports {
	return &Reports{cache: c, ttl: ttl}
}

func reportKey(fingerprint string) string {
	return "report:" + fingerprint
}

// Get returns the cached report for fingerprint, or nil on a miss. An
// undecodable entry is dropped and reported as a miss.
func (r *Reports) Get(ctx context.Context, fingerprint string) (*domain.Report, error) {
	if r == nil || r.cache == nil || fingerprint == "" {
		return nil, nil
	}

	data, err := r.cache.Get(ctx, reportKey(fingerprint))
	if err != nil || data == nil {
		return nil, err
	}

	var report domain.Report
	if err := json.Unmarshal(data, &report); err != nil {
		zap.L().Warn("dropping unreadable cached report",
			zap.String("fingerprint", fingerprint),
			zap.Error(err),
		)
		_ = r.cache.Delete(ctx, reportKey(fingerprint))
		return nil, nil
	}
	return &report, nil
}

// Put stores report under its fingerprint.
func (r *Reports) Put(ctx context.Context, report *domain.Report) error {
	if r == nil || r.cache == nil || report.Fingerprint == "" {
		return nil
	}

	data, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "failed to encode report")
	}
	return r.cache.Set(ctx, reportKey(report.Fingerprint), data, r.ttl)
}
