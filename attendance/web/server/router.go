package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	common "punchcard.com/punchcard/attendance/web/common"
	"punchcard.com/punchcard/attendance/web/handlers/attendance"
	"punchcard.com/punchcard/attendance/web/handlers/tokens"
	"punchcard.com/punchcard/web/middlewares"
)

const APIPrefix = "/api/v1"

// NewRouter wires the public and authenticated routes.
func NewRouter(jwtSecret []byte, h *common.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.Logging(h.Log()))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	protected := r.Group(APIPrefix)
	protected.Use(middlewares.Authentication(jwtSecret))
	{
		protected.GET("/whoami", func(c *gin.Context) {
			identity, _ := middlewares.CurrentIdentity(c)
			c.JSON(http.StatusOK, gin.H{"data": identity})
		})
		attendance.Register(protected, h)
		tokens.Register(protected, h)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "not found"})
	})
	return r
}
