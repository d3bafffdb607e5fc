package ops

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all ops routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", handleHealth())

	api := router.Group("/api")
	api.GET("/sessions", handleSessions(opts.Sessions))
	api.GET("/sessions/stream", handleSessionStream(opts.Sessions, opts.PollInterval))
	api.GET("/guilds/:guild/events", handleGuildEvents(opts.Events))
	api.GET("/schedule", handleSchedule(opts.Jobs))
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleSessions(sessions SessionLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		list := sessions.Sessions()
		c.JSON(http.StatusOK, gin.H{"count": len(list), "sessions": list})
	}
}

// eventView is the public shape of a stored event. The pass is left out.
type eventView struct {
	ID        uint      `json:"id"`
	ChannelID string    `json:"channel_id"`
	CreatedBy string    `json:"created_by"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Codes     int       `json:"codes"`
	Claimed   int       `json:"claimed"`
}

func handleGuildEvents(events EventLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		evs, err := events.ListGuild(ctx, c.Param("guild"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]eventView, 0, len(evs))
		for _, ev := range evs {
			total, claimed, err := events.CodeStats(ctx, ev.ID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			out = append(out, eventView{
				ID:        ev.ID,
				ChannelID: ev.ChannelID,
				CreatedBy: ev.CreatedBy,
				StartDate: ev.StartDate,
				EndDate:   ev.EndDate,
				Codes:     total,
				Claimed:   claimed,
			})
		}
		c.JSON(http.StatusOK, gin.H{"guild": c.Param("guild"), "events": out})
	}
}

func handleSchedule(jobs JobLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jobs == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "scheduler not available"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs.Pending()})
	}
}
