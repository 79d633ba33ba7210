package http

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const watchWriteWait = 10 * time.Second

// watch streams state records over a websocket: the current snapshot first,
// then every later record in order. Records trimmed from the machine's history
// before they were sent are skipped.
func (h *handler) watch(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("watch upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	machine := h.runner.Machine()
	info := machine.Snapshot()
	for {
		_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
		if err := conn.WriteJSON(info); err != nil {
			h.logger.Debug("watch client gone: %v", err)
			return
		}
		info, err = machine.Next(ctx, info.Seq)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}
