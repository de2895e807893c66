package rest_api

import (
	"net/http"
	"net/netip"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmeggitt/netrange_summary.git/aggregator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// View is the part of a run the API reads from. It may still be in progress.
type View interface {
	Ranked(key aggregator.RankKey, limit int) []*aggregator.NetworkRecord
	Errors() aggregator.ErrorLog
	Summary() aggregator.Summary
	Lookup(addr netip.Addr) (*aggregator.NetworkRecord, bool)
	RateInterval() time.Duration
}

// DataRoute holds what the route handlers need
type DataRoute struct {
	View         View
	DefaultLimit int
}

// NewRouter creates the API. A nil gatherer leaves out the metrics route.
func NewRouter(route DataRoute, gatherer prometheus.Gatherer) (*gin.Engine, error) {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.Use(allowCORSMiddleware)
	setupRoutes(router, route, gatherer)
	return router, nil
}

func setupRoutes(router *gin.Engine, route DataRoute, gatherer prometheus.Gatherer) {
	api := router.Group("/api")
	{
		api.GET("/networks", route.GetNetworks)
		api.GET("/errors", route.GetErrors)
		api.GET("/summary", route.GetSummary)
		api.GET("/lookup/:addr", route.GetLookup)
	}

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	router.NoRoute(func(ctx *gin.Context) {
		ctx.JSON(http.StatusNotFound, gin.H{})
	})
}
