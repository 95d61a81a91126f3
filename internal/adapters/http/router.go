package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/adapters/signal"
	"github.com/dkeye/Beacon/internal/app"
	"github.com/dkeye/Beacon/internal/app/orch"
	"github.com/dkeye/Beacon/internal/auth"
	"github.com/dkeye/Beacon/internal/config"
	"github.com/dkeye/Beacon/internal/domain"
	handlers "github.com/dkeye/Beacon/internal/transport/http"
)

const identityKey = "identity"

// RequirePermission authenticates an API caller and checks one (action, resource) grant.
func RequirePermission(resolver orch.IdentityResolver, action, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := resolver.Resolve(c.Request.Context(), auth.BearerToken(c.GetHeader("Authorization")))
		if err != nil {
			c.AbortWithStatusJSON(signal.HandshakeStatus(err), gin.H{"error": domain.ErrorCode(err)})
			return
		}
		if !identity.Can(action, resource) {
			log.Warn().
				Str("module", "adapters.http").
				Str("user", string(identity.UserID)).
				Str("need", action+":"+resource).
				Msg("permission denied")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// SetupRouter wires the websocket endpoint, the internal API and health routes.
// A nil gatherer leaves /metrics unmounted.
func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, stats *app.Stats, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := &handlers.Handlers{Orch: o, Stats: stats}
	ctrl := signal.NewSignalWSController(o, cfg)
	log.Info().Str("module", "adapters.http").Strs("client_events", ctrl.Events()).Msg("router setup")

	r.GET("/healthz", h.Health)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.GET("/ws", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	write := api.Group("", RequirePermission(o.Resolver, "dispatch", "events"))
	write.POST("/rooms/:name/events", h.DispatchRoom)
	write.POST("/connections/:id/events", h.DispatchConnection)
	write.DELETE("/connections/:id", h.KickConnection)
	write.DELETE("/rooms/:name", h.EvictRoom)

	read := api.Group("", RequirePermission(o.Resolver, "read", "rooms"))
	read.GET("/rooms", h.ListRooms)
	read.GET("/rooms/:name/members", h.RoomMembers)
	read.GET("/stats", h.StatsSnapshot)

	return r
}
