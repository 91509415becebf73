package main

import (
	"encoding/json"
	"time"

	"github.com/joeycumines/go-httploop/eventloop"
	"github.com/joeycumines/go-httploop/httpserver"
	"github.com/joeycumines/go-httploop/internal/logging"
)

// demoHandler is a minimal request router exercising the Request/Response
// surface: a synchronous JSON endpoint, a deliberately delayed endpoint
// driven through a Deferred, and a catch-all 404. Routing itself is a
// handler-level concern the spec treats as an external collaborator, not
// something the server package implements.
func demoHandler(loop *eventloop.Loop, logger *logging.Logger) httpserver.Handler {
	return func(req *httpserver.Request, resp *httpserver.Response) *eventloop.Deferred {
		switch {
		case req.Path() == "/" && req.Method() == "GET":
			sendJSONValue(resp, map[string]any{
				"service": "httploopd",
				"request": req.ID(),
			})
			return nil

		case req.Path() == "/echo" && req.Method() == "POST":
			resp.Set("Content-Type", "application/octet-stream")
			resp.Send(req.Body())
			return nil

		case req.Path() == "/delayed" && req.Method() == "GET":
			d := eventloop.NewDeferred()
			loop.SetTimeout(50*time.Millisecond, func() {
				sendJSONValue(resp, map[string]any{"delayed": true})
				d.Resolve()
			})
			return d

		case req.Path() == "/panic":
			panic("demo: intentional handler panic")

		default:
			resp.SendStatus(404)
			return nil
		}
	}
}

// sendJSONValue marshals v and sends it via Response.SendJSON, which
// itself only sends pre-serialized text. A marshal failure is treated as a
// handler failure: a 500 with no body rather than malformed JSON.
func sendJSONValue(resp *httpserver.Response, v any) {
	buf, err := json.Marshal(v)
	if err != nil {
		resp.Status(500)
		resp.End(nil)
		return
	}
	resp.SendJSON(string(buf))
}
