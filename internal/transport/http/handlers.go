package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/app"
	"github.com/dkeye/Beacon/internal/app/orch"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
)

// Handlers serve the internal API used by business services outside the process.
type Handlers struct {
	Orch  *orch.Orchestrator
	Stats *app.Stats
}

type EventRequest struct {
	Event string          `json:"event" binding:"required"`
	Data  json.RawMessage `json:"data"`
	Lang  string          `json:"lang"`
}

func (r EventRequest) envelope(target core.Target) core.Envelope {
	env := core.Envelope{Event: r.Event, Target: target, Lang: r.Lang}
	if len(r.Data) > 0 {
		env.Payload = r.Data
	}
	return env
}

func apiError(c *gin.Context, status int, err error) {
	code := domain.ErrorCode(err)
	if errors.Is(err, core.ErrInvalidEnvelope) {
		code = "invalid_envelope"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

func (h *Handlers) DispatchRoom(c *gin.Context) {
	h.dispatch(c, core.ToRoom(domain.RoomName(c.Param("name"))))
}

func (h *Handlers) DispatchConnection(c *gin.Context) {
	h.dispatch(c, core.ToConnection(core.ConnectionID(c.Param("id"))))
}

func (h *Handlers) dispatch(c *gin.Context, target core.Target) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload", "message": err.Error()})
		return
	}
	res, err := h.Orch.Dispatch(c.Request.Context(), req.envelope(target))
	if err != nil {
		apiError(c, http.StatusBadRequest, err)
		return
	}
	if res.Failed == nil {
		res.Failed = []core.DeliveryFailure{}
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) ListRooms(c *gin.Context) {
	rooms := h.Orch.Rooms.List()
	if rooms == nil {
		rooms = []domain.RoomInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handlers) RoomMembers(c *gin.Context) {
	name := domain.RoomName(c.Param("name"))
	if err := name.Validate(); err != nil {
		apiError(c, http.StatusBadRequest, err)
		return
	}
	members := h.Orch.MembersOf(name)
	if members == nil {
		members = []core.ConnectionID{}
	}
	c.JSON(http.StatusOK, gin.H{"room": name, "members": members})
}

func (h *Handlers) KickConnection(c *gin.Context) {
	id := core.ConnectionID(c.Param("id"))
	if !h.Orch.Kick(id, "kicked via api") {
		apiError(c, http.StatusNotFound, domain.ErrConnectionNotFound)
		return
	}
	log.Info().Str("module", "transport.http").Str("conn", string(id)).Msg("kicked")
	c.Status(http.StatusNoContent)
}

func (h *Handlers) EvictRoom(c *gin.Context) {
	name := domain.RoomName(c.Param("name"))
	if err := name.Validate(); err != nil {
		apiError(c, http.StatusBadRequest, err)
		return
	}
	n := h.Orch.EvictRoom(name)
	log.Info().Str("module", "transport.http").Str("room", string(name)).Int("kicked", n).Msg("room evicted")
	c.JSON(http.StatusOK, gin.H{"room": name, "kicked": n})
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": h.Orch.Registry.Count(),
		"rooms":       h.Orch.Rooms.Len(),
	})
}

func (h *Handlers) StatsSnapshot(c *gin.Context) {
	if h.Stats == nil {
		c.JSON(http.StatusOK, app.StatsSnapshot{})
		return
	}
	c.JSON(http.StatusOK, h.Stats.Snapshot())
}
