package attendance

import (
	"github.com/gin-gonic/gin"
	"punchcard.com/punchcard/attendance/model"
	common "punchcard.com/punchcard/attendance/web/common"
)

type Endpoint struct {
	base *common.Handler
}

func Register(r *gin.RouterGroup, h *common.Handler) {
	endpoint := &Endpoint{base: h}
	r.POST("/attendance/clock-in", endpoint.ClockIn)
	r.POST("/attendance/clock-out", endpoint.ClockOut)
	r.POST("/attendance/break/start", endpoint.BreakStart)
	r.POST("/attendance/break/end", endpoint.BreakEnd)

	r.GET("/attendance/today", endpoint.Today)
	r.GET("/attendance/records", endpoint.Recent)
	r.PUT("/attendance/records/:id", endpoint.Override)

	r.POST("/attendance/sync", endpoint.Sync)
}

// PunchDTO is the body of every punch endpoint. Date and time default to the
// server's current local date and time.
type PunchDTO struct {
	UserID *int64           `json:"userId,omitempty" binding:"omitempty,gt=0"`
	Badge  string           `json:"badge,omitempty" binding:"omitempty,max=64"`
	Date   string           `json:"date,omitempty" binding:"omitempty,datetime=2006-01-02"`
	Time   *model.TimeOfDay `json:"time,omitempty"`
	Method model.Method     `json:"method,omitempty" binding:"omitempty,oneof=token-scan manual admin-override"`
	Token  string           `json:"token,omitempty" binding:"omitempty,max=512"`
}

type OverrideDTO struct {
	ClockIn    *model.TimeOfDay `json:"clockIn,omitempty"`
	ClockOut   *model.TimeOfDay `json:"clockOut,omitempty"`
	BreakStart *model.TimeOfDay `json:"breakStart,omitempty"`
	BreakEnd   *model.TimeOfDay `json:"breakEnd,omitempty"`
	Approved   *bool            `json:"approved,omitempty"`
	Clear      []string         `json:"clear,omitempty" binding:"omitempty,dive,oneof=clockOut breakStart breakEnd"`
}

type RecentQueryDTO struct {
	UserID *int64 `form:"userId" binding:"omitempty,gt=0"`
	Days   int    `form:"days" binding:"omitempty,min=1,max=92"`
}

type SyncRecordDTO struct {
	ClientID   string           `json:"clientId" binding:"required,max=64"`
	UserID     int64            `json:"userId" binding:"required,gt=0"`
	Date       string           `json:"date" binding:"required,datetime=2006-01-02"`
	ClockIn    model.TimeOfDay  `json:"clockIn"`
	ClockOut   *model.TimeOfDay `json:"clockOut,omitempty"`
	BreakStart *model.TimeOfDay `json:"breakStart,omitempty"`
	BreakEnd   *model.TimeOfDay `json:"breakEnd,omitempty"`
	Method     model.Method     `json:"method" binding:"required,oneof=token-scan manual admin-override"`
	ShiftID    *string          `json:"shiftId,omitempty" binding:"omitempty,max=64"`
}

type SyncRequestDTO struct {
	Records []SyncRecordDTO `json:"records" binding:"required,max=500,dive"`
}
