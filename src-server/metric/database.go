package metric

import (
	"context"
	"time"

	"slotd/src-server/model"
	"slotd/src-server/utils"
)

func database(as *utils.AppState) (time.Duration, error) {
	start := time.Now()
	if _, err := as.BunDB.NewSelect().
		Model((*model.CachedEvent)(nil)).
		Where("external_id = ?", "").
		Exists(context.Background()); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}
