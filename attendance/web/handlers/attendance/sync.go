package attendance

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"punchcard.com/punchcard/attendance/core"
	"punchcard.com/punchcard/utils"
	web "punchcard.com/punchcard/web/common"
)

type SyncResponseDTO struct {
	Acks         []core.SyncAck `json:"acks"`
	LastPushedAt int64          `json:"lastPushedAt"`
}

// Sync accepts a batch of offline snapshots. A non-2xx answer means nothing
// was applied and the device retries the whole batch.
func (ep *Endpoint) Sync(c *gin.Context) {
	actor, ok := ep.base.Identity(c)
	if !ok {
		return
	}

	var body SyncRequestDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		ep.base.BindError(c, err)
		return
	}

	items := utils.Map(body.Records, func(r SyncRecordDTO) core.SyncItem {
		return core.SyncItem{
			ClientID:   r.ClientID,
			UserID:     r.UserID,
			Date:       r.Date,
			ClockIn:    r.ClockIn,
			ClockOut:   r.ClockOut,
			BreakStart: r.BreakStart,
			BreakEnd:   r.BreakEnd,
			Method:     r.Method,
			ShiftID:    r.ShiftID,
		}
	})

	ctx := c.Request.Context()
	acks, err := ep.base.Service.SyncBatch(ctx, actor, items)
	if err != nil {
		ep.base.Error(c, err)
		return
	}

	clock := ep.base.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	now := clock.Now()

	if ep.base.Archiver != nil && len(items) > 0 {
		key := fmt.Sprintf("sync/%s/%d-%d.json", utils.DateKey(now.UTC()), actor.UserID, now.UnixNano())
		if err := ep.base.Archiver.Archive(ctx, key, body); err != nil {
			// the batch is already committed
			ep.base.Log().Warn("failed to archive sync batch", "key", key, "error", err)
		}
	}

	c.JSON(http.StatusOK, web.NewSuccessResponse(SyncResponseDTO{
		Acks:         acks,
		LastPushedAt: now.Unix(),
	}))
}
