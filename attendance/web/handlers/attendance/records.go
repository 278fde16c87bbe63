package attendance

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"punchcard.com/punchcard/attendance/core"
	web "punchcard.com/punchcard/web/common"
)

// Today answers with today's record, or a null data field when there is none.
func (ep *Endpoint) Today(c *gin.Context) {
	actor, ok := ep.base.Identity(c)
	if !ok {
		return
	}

	var userID *int64
	if v := c.Query("userId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, web.NewErrorResponse("Invalid userId"))
			return
		}
		userID = &id
	}

	rec, err := ep.base.Service.TodayRecord(c.Request.Context(), actor, userID)
	if err != nil {
		ep.base.Error(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusOK, web.NewSuccessResponse(nil))
		return
	}
	c.JSON(http.StatusOK, web.NewSuccessResponse(rec))
}

func (ep *Endpoint) Recent(c *gin.Context) {
	actor, ok := ep.base.Identity(c)
	if !ok {
		return
	}

	var query RecentQueryDTO
	if err := c.ShouldBindQuery(&query); err != nil {
		ep.base.BindError(c, err)
		return
	}

	records, err := ep.base.Service.Recent(c.Request.Context(), actor, query.UserID, query.Days)
	if err != nil {
		ep.base.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, web.NewSearchResponse(records, int64(len(records))))
}

func (ep *Endpoint) Override(c *gin.Context) {
	actor, ok := ep.base.Identity(c)
	if !ok {
		return
	}

	var body OverrideDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		ep.base.BindError(c, err)
		return
	}

	rec, err := ep.base.Service.AdminOverride(c.Request.Context(), actor, c.Param("id"), core.OverrideFields{
		ClockIn:    body.ClockIn,
		ClockOut:   body.ClockOut,
		BreakStart: body.BreakStart,
		BreakEnd:   body.BreakEnd,
		Approved:   body.Approved,
		Clear:      body.Clear,
	})
	if err != nil {
		ep.base.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, web.NewSuccessResponse(rec))
}
