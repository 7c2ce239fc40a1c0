package chunkserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sutd_chunkdfs/helper"
)

func (cs *ChunkServer) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok", "identity": cs.identity})
	})

	router.GET("/files", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, cs.store.FileMap())
	})

	router.DELETE("/files/:name", func(ctx *gin.Context) {
		cs.removeRoute(ctx, 0)
	})

	router.DELETE("/files/:name/:chunk", func(ctx *gin.Context) {
		chunk, err := strconv.Atoi(ctx.Param("chunk"))
		if err != nil || chunk < 1 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "chunk must be a positive number"})
			return
		}
		cs.removeRoute(ctx, chunk)
	})

	router.GET("/info", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, cs.Info(ctx.Request.Context()))
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

func (cs *ChunkServer) removeRoute(ctx *gin.Context, chunk int) {
	err := cs.Remove(ctx.Param("name"), chunk)
	switch {
	case errors.Is(err, helper.ErrFileNotFound), errors.Is(err, helper.ErrChunkNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		ctx.JSON(http.StatusOK, gin.H{"available_space": cs.store.AvailableSpace()})
	}
}
