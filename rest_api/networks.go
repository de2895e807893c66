package rest_api

import (
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmeggitt/netrange_summary.git/aggregator"
)

type statsResponse struct {
	Total             int       `json:"total"`
	FirstSeen         time.Time `json:"firstSeen"`
	LastSeen          time.Time `json:"lastSeen"`
	ShortestInterval  *int64    `json:"shortestInterval"`
	LongestInterval   *int64    `json:"longestInterval"`
	Rate              float64   `json:"rate"`
	LeastMagnitude    int       `json:"leastMagnitude"`
	GreatestMagnitude int       `json:"greatestMagnitude"`
	MagnitudeSum      int       `json:"magnitudeSum"`
	MagnitudeCount    int       `json:"magnitudeCount"`
	AverageMagnitude  float64   `json:"averageMagnitude"`
}

type networkResponse struct {
	Rank   int                    `json:"rank,omitempty"`
	Blocks []string               `json:"blocks"`
	Start  netip.Addr             `json:"start"`
	End    netip.Addr             `json:"end"`
	Info   aggregator.NetworkInfo `json:"info"`
	Stats  statsResponse          `json:"stats"`
}

// Intervals are unknown until a network is seen twice
func optionalInterval(seconds int64) *int64 {
	if seconds < 0 {
		return nil
	}
	return &seconds
}

func (state DataRoute) makeNetworkResponse(rank int, record *aggregator.NetworkRecord) networkResponse {
	stats := record.Stats

	blocks := make([]string, 0, len(record.Blocks))
	for _, block := range record.Blocks {
		blocks = append(blocks, block.String())
	}

	return networkResponse{
		Rank:   rank,
		Blocks: blocks,
		Start:  record.Start,
		End:    record.End,
		Info:   record.Info,
		Stats: statsResponse{
			Total:             stats.Total,
			FirstSeen:         stats.FirstSeen,
			LastSeen:          stats.LastSeen,
			ShortestInterval:  optionalInterval(stats.ShortestInterval),
			LongestInterval:   optionalInterval(stats.LongestInterval),
			Rate:              stats.Rate(state.View.RateInterval()),
			LeastMagnitude:    stats.LeastMagnitude,
			GreatestMagnitude: stats.GreatestMagnitude,
			MagnitudeSum:      stats.MagnitudeSum,
			MagnitudeCount:    stats.MagnitudeCount,
			AverageMagnitude:  stats.AverageMagnitude,
		},
	}
}

func (state DataRoute) GetNetworks(ctx *gin.Context) {
	key, err := aggregator.ParseRankKey(ctx.DefaultQuery("by", string(aggregator.ByTotal)))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit := state.DefaultLimit
	if value, ok := ctx.GetQuery("limit"); ok {
		if limit, err = strconv.Atoi(value); err != nil || limit < 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
	}

	records := state.View.Ranked(key, limit)
	networks := make([]networkResponse, 0, len(records))
	for i, record := range records {
		networks = append(networks, state.makeNetworkResponse(i+1, record))
	}

	ctx.JSON(http.StatusOK, networks)
}

func (state DataRoute) GetLookup(ctx *gin.Context) {
	addr, err := netip.ParseAddr(ctx.Param("addr"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "could not read address"})
		return
	}

	record, ok := state.View.Lookup(addr)
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "no known network contains " + addr.String()})
		return
	}

	ctx.JSON(http.StatusOK, state.makeNetworkResponse(0, record))
}

func (state DataRoute) GetErrors(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, state.View.Errors())
}

func (state DataRoute) GetSummary(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, state.View.Summary())
}
