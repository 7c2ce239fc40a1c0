package controller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sutd_chunkdfs/helper"
)

// Router exposes the controller's registry read-only over HTTP.
func (c *Controller) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/chunk-servers", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, c.ChunkServers())
	})

	router.GET("/clients", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, c.Clients())
	})

	router.GET("/files/:name", func(ctx *gin.Context) {
		name := ctx.Param("name")
		routes, err := c.RouteDownload(name)
		if errors.Is(err, helper.ErrFileNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"file": name, "chunk_servers": routes})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}
