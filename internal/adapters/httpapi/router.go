// Package httpapi exposes a small diagnostics surface for the headless
// client: current room phase, roster, and stream selection.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// StatusDTO is the read-only view served to diagnostics consumers.
type StatusDTO struct {
	RoomID        string   `json:"room_id"`
	Phase         string   `json:"phase"`
	HostID        string   `json:"host_id"`
	Participants  []string `json:"participants"`
	DistinctCount int      `json:"distinct_count"`
	ReportedCount int      `json:"reported_count"`
	SourceTitle   string   `json:"source_title,omitempty"`
	InfoHash      string   `json:"info_hash,omitempty"`
}

// SnapshotFunc produces a status snapshot; it must be safe to call from
// the HTTP goroutine (the caller routes it through the room serializer).
type SnapshotFunc func() StatusDTO

func SetupRouter(mode string, snapshot SnapshotFunc) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, snapshot())
	})

	log.Info().Str("module", "adapters.httpapi").Msg("router setup")
	return r
}
