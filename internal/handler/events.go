package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/fixly/ticket-service/internal/events"
	"github.com/fixly/ticket-service/internal/realtime"
	"github.com/fixly/ticket-service/internal/service"
	"github.com/gin-gonic/gin"
)

const keepAlive = 25 * time.Second

type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (*realtime.Subscription, error)
}

// EventsHandler streams broadcast events to browsers as Server-Sent Events.
type EventsHandler struct {
	svc  service.TicketServicer
	subs Subscriber
}

func NewEventsHandler(svc service.TicketServicer, subs Subscriber) *EventsHandler {
	return &EventsHandler{svc: svc, subs: subs}
}

// Stream sends the caller's organization feed and personal notifications.
func (h *EventsHandler) Stream(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	h.stream(c, events.OrgChannel(actor.OrganizationID), events.UserChannel(actor.UserID))
}

// StreamTicket sends the events of one ticket of the caller's organization.
func (h *EventsHandler) StreamTicket(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	if _, err := h.svc.Find(c.Request.Context(), actor, id); err != nil {
		writeError(c, err)
		return
	}
	h.stream(c, events.TicketChannel(id))
}

func (h *EventsHandler) stream(c *gin.Context, channels ...string) {
	ctx := c.Request.Context()
	sub, err := h.subs.Subscribe(ctx, channels...)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
		return
	}
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(eventName(msg.Payload), string(msg.Payload))
			return true
		case <-ticker.C:
			c.SSEvent("ping", "")
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func eventName(payload []byte) string {
	var env struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(payload, &env); err != nil || env.Event == "" {
		return "message"
	}
	return env.Event
}
