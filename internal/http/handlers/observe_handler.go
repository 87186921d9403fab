package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"cropledger/internal/domain"
	applog "cropledger/internal/log"
	"cropledger/internal/repos"
)

type ObserveHandler struct {
	Ledger    *repos.Ledger
	Heartbeat time.Duration
}

// Stream sends the current records of one kind as a server-sent event,
// then one event per committed batch. ?max=N ends the stream after N events.
func (h *ObserveHandler) Stream(c *fiber.Ctx) error {
	kind, ok := domain.ParseKind(c.Params("kind"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown kind"})
	}
	maxEvents := c.QueryInt("max", 0)
	who := owner(c)
	beat := h.Heartbeat
	if beat <= 0 {
		beat = 15 * time.Second
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	applog.Info(c, "observe.open", map[string]any{"kind": string(kind)})

	ctx, cancel := context.WithCancel(context.Background())
	snaps := h.Ledger.Observe(ctx, kind, who)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		tick := time.NewTicker(beat)
		defer tick.Stop()
		sent := 0
		for {
			select {
			case recs, open := <-snaps:
				if !open {
					return
				}
				b, err := json.Marshal(recs)
				if err != nil {
					applog.Error(nil, "observe.encode", err, map[string]any{"owner": who})
					return
				}
				fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", b)
				if err := w.Flush(); err != nil {
					return
				}
				sent++
				if maxEvents > 0 && sent >= maxEvents {
					return
				}
			case <-tick.C:
				// a failed write is how a dropped client is noticed
				fmt.Fprint(w, ": ping\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
	return nil
}
