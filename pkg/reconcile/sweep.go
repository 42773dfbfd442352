// pkg/reconcile/sweep.go

package reconcile

import (
	"context"
	"strconv"
	"time"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/store"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Sweep flags as discontinued every live, non-group finding of the device
// last reported through connectionID whose id is not in seen. Rows owned by
// other connections bound to the same device are left alone. Only the flag
// and date_mod change. It must run only after a complete fetch for the
// device.
func Sweep(ctx context.Context, table store.Table[inventory.Finding], connectionID uint, dev inventory.Device, seen map[uint]bool, now time.Time) (int, error) {
	rows, err := table.Find(ctx, store.Filter{
		"connection_id":  connectionID,
		"device_id":      dev.ID,
		"entity_id":      dev.EntityID,
		"is_deleted":     false,
		"is_discontinue": false,
		"is_group":       false,
	})
	if err != nil {
		return 0, &PersistenceError{Table: table.Name(), Op: "sweep lookup", Key: "device_id=" + strconv.FormatUint(uint64(dev.ID), 10), Err: err}
	}

	flagged := 0
	for _, row := range rows {
		if seen[row.ID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return flagged, err
		}
		if err := table.UpdateColumns(ctx, row.ID, map[string]any{
			"is_discontinue": true,
			"date_mod":       now.UTC(),
		}); err != nil {
			return flagged, &PersistenceError{Table: table.Name(), Op: "discontinue", Key: row.Key, Err: err}
		}
		flagged++
	}

	if flagged > 0 {
		otelzap.Ctx(ctx).Info("Marked findings discontinued",
			zap.String("table", table.Name()),
			zap.Uint("connection_id", connectionID),
			zap.Uint("device_id", dev.ID),
			zap.Int("count", flagged))
	}
	return flagged, nil
}
