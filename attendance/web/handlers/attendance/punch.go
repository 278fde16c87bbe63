package attendance

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"punchcard.com/punchcard/attendance/core"
	"punchcard.com/punchcard/attendance/model"
	"punchcard.com/punchcard/security"
	web "punchcard.com/punchcard/web/common"
)

type punchFunc func(ctx context.Context, actor security.Identity, in core.PunchInput) (*model.AttendanceRecord, error)

func (ep *Endpoint) punch(c *gin.Context, status int, fn punchFunc) {
	actor, ok := ep.base.Identity(c)
	if !ok {
		return
	}

	var body PunchDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		ep.base.BindError(c, err)
		return
	}

	rec, err := fn(c.Request.Context(), actor, core.PunchInput{
		OnBehalfOf: body.UserID,
		Badge:      body.Badge,
		Date:       body.Date,
		Time:       body.Time,
		Method:     body.Method,
		Token:      body.Token,
	})
	if err != nil {
		ep.base.Error(c, err)
		return
	}

	c.JSON(status, web.NewSuccessResponse(rec))
}

func (ep *Endpoint) ClockIn(c *gin.Context) {
	ep.punch(c, http.StatusCreated, ep.base.Service.ClockIn)
}

func (ep *Endpoint) ClockOut(c *gin.Context) {
	ep.punch(c, http.StatusOK, ep.base.Service.ClockOut)
}

func (ep *Endpoint) BreakStart(c *gin.Context) {
	ep.punch(c, http.StatusOK, ep.base.Service.BreakStart)
}

func (ep *Endpoint) BreakEnd(c *gin.Context) {
	ep.punch(c, http.StatusOK, ep.base.Service.BreakEnd)
}
