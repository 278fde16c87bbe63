package tokens

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	common "punchcard.com/punchcard/attendance/web/common"
	"punchcard.com/punchcard/security"
	web "punchcard.com/punchcard/web/common"
)

type Endpoint struct {
	base *common.Handler
}

func Register(r *gin.RouterGroup, h *common.Handler) {
	endpoint := &Endpoint{base: h}
	r.GET("/tokens/current", endpoint.Current)
}

type CurrentQueryDTO struct {
	Action   string `form:"action" binding:"omitempty,oneof=punch shift"`
	TargetID string `form:"targetId" binding:"required_if=Action shift,max=64,excludesall=0x7C"`
}

type TokenDTO struct {
	Value          string `json:"value"`
	IssuedAtBucket int64  `json:"issuedAtBucket"`
	Action         string `json:"action"`
	TargetID       string `json:"targetId,omitempty"`
	IntervalMs     int64  `json:"intervalMs"`
	// ValidUntil is the end of the grace window at the current interval.
	ValidUntil int64 `json:"validUntil"`
}

// Current issues the code a kiosk display should be showing right now.
func (ep *Endpoint) Current(c *gin.Context) {
	actor, ok := ep.base.Identity(c)
	if !ok {
		return
	}
	if !actor.CanProxy() {
		c.JSON(http.StatusForbidden, web.NewErrorResponse("only kiosk or admin sessions may display scan codes"))
		return
	}

	var query CurrentQueryDTO
	if err := c.ShouldBindQuery(&query); err != nil {
		ep.base.BindError(c, err)
		return
	}
	action := security.Action(query.Action)
	if action == "" {
		action = security.ActionPunch
	}

	token, err := ep.base.Issuer.Issue(action, query.TargetID)
	if err != nil {
		ep.base.Error(c, err)
		return
	}

	clock := ep.base.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	interval := ep.base.Issuer.Schedule().Interval(clock.Now()).Milliseconds()

	c.JSON(http.StatusOK, web.NewSuccessResponse(TokenDTO{
		Value:          token.Value,
		IssuedAtBucket: token.IssuedAtBucket,
		Action:         string(token.Action),
		TargetID:       token.TargetID,
		IntervalMs:     interval,
		ValidUntil:     token.IssuedAtBucket + 2*interval,
	}))
}
