package platform

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/easbase/backend/internal/models"
)

// StatusGetter is the slice of the management client the poller needs
type StatusGetter interface {
	GetProjectStatus(ctx context.Context, ref string) (models.ProjectStatus, error)
}

const (
	DefaultPollAttempts = 30
	DefaultPollInterval = 10 * time.Second
)

// WaitUntilReady polls the project status until it reports ACTIVE_HEALTHY or
// the attempt budget runs out. The wait between attempts is a channel select,
// so the goroutine yields while other requests are served; worst case latency
// is maxAttempts * interval (5 minutes at defaults). Transient poll failures
// consume an attempt and polling continues.
func WaitUntilReady(ctx context.Context, api StatusGetter, ref string, maxAttempts int, interval time.Duration) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultPollAttempts
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, err := api.GetProjectStatus(ctx, ref)
		if err != nil {
			log.Printf("Poller: status check %d/%d for %s failed: %v", attempt, maxAttempts, ref, err)
		} else if status == models.ProjectStatusHealthy {
			return nil
		}

		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("project %s: %w", ref, ErrProvisionTimeout)
}
