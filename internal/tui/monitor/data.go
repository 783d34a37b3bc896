package monitor

import (
	"time"

	"github.com/marcus/wander/internal/db"
	"github.com/marcus/wander/internal/models"
)

// FetchData reads one refresh worth of sync state. Every query failure lands
// in Err rather than aborting the refresh; a dashboard with a stale panel
// beats a dead one.
func FetchData(database *db.DB, ownerID string) RefreshDataMsg {
	msg := RefreshDataMsg{
		Watermarks: make(map[models.EntityType]time.Time),
		Timestamp:  time.Now(),
	}

	var err error
	if msg.Pending, err = database.CountPending(ownerID); err != nil {
		msg.Err = err
	}
	if msg.Tombstones, err = database.CountTombstones(ownerID); err != nil {
		msg.Err = err
	}
	if msg.Unsynced, err = database.ListUnsynced(ownerID); err != nil {
		msg.Err = err
	}
	if msg.Uploads, err = database.DueUploads(time.Now()); err != nil {
		msg.Err = err
	}

	dead, err := database.DeadUploads()
	if err != nil {
		msg.Err = err
	}
	msg.DeadCount = len(dead)
	msg.Uploads = append(msg.Uploads, dead...)

	for _, entity := range models.EntityTypes {
		mark, err := database.GetWatermark(ownerID, entity)
		if err != nil {
			msg.Err = err
			continue
		}
		msg.Watermarks[entity] = mark
	}

	return msg
}
