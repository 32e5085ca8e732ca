package cleanup

import (
	"context"
	"time"

	"github.com/spendlog/backend/internal/common/clock"
	"github.com/spendlog/backend/internal/common/constants"
	"github.com/spendlog/backend/internal/common/logger"
)

// Sweeper deletes refresh tokens whose lifetime ended before the given
// instant. Used and revoked rows are kept until they expire so reuse of a
// consumed token within its lifetime is still detectable.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

func StartRefreshTokenSweep(ctx context.Context, sweeper Sweeper, clk clock.Clock, log *logger.Logger) {
	ticker := time.NewTicker(constants.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := sweeper.Sweep(ctx, clk.Now())
			if err != nil {
				log.Errorf("refresh token sweep failed: %v", err)
				continue
			}
			if deleted > 0 {
				log.Infof("refresh token sweep: deleted %d expired tokens", deleted)
			}
		}
	}
}
