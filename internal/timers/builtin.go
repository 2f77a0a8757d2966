package timers

import (
	"context"
	"fmt"

	"github.com/pixil98/go-guildrpg/internal/game"
	"github.com/pixil98/go-guildrpg/internal/storage"
)

// KindApplyStatus applies a status when the timer fires. Payload keys:
// target_id, target_type, status, and optionally duration and source_id.
const KindApplyStatus = "apply_status"

type applyStatusPayload struct {
	TargetID   storage.Identifier
	TargetType game.TargetType
	Status     string
	Duration   *float64
	SourceID   storage.Identifier
}

// ApplyStatus is the handler for KindApplyStatus.
func ApplyStatus(ctx context.Context, t storage.TenantID, timer Timer, tc *game.TickContext) error {
	statuses := tc.Statuses()
	if statuses == nil {
		return fmt.Errorf("no status engine available")
	}

	var p applyStatusPayload
	for key, dst := range map[string]any{
		"target_id":   &p.TargetID,
		"target_type": &p.TargetType,
		"status":      &p.Status,
		"duration":    &p.Duration,
		"source_id":   &p.SourceID,
	} {
		if _, err := timer.Payload.Get(key, dst); err != nil {
			return err
		}
	}
	if p.TargetID == "" || p.Status == "" {
		return fmt.Errorf("apply_status timer %s: target_id and status are required", timer.ID)
	}

	_, err := statuses.AddStatus(ctx, t, p.TargetID, p.TargetType, p.Status, p.Duration, p.SourceID)
	return err
}
