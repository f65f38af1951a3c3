package broker

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mini-broker/lifecycle"
)

// adminHandler serves the read-only admin API:
//
//	GET /healthz   200 while Running, 503 otherwise
//	GET /status    Stats
//	GET /workers   WorkerInfo
func (b *Broker) adminHandler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		state := b.Status()
		if state != lifecycle.StateRunning {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": state.String()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, b.Stats())
	})
	r.GET("/workers", func(c *gin.Context) {
		c.JSON(http.StatusOK, b.Workers())
	})
	return r
}
