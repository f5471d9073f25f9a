package handlers

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"

	"browsermcp/internal/infra/logging"
	"browsermcp/internal/mcp"
	"browsermcp/internal/transport/sse"
)

const maxFormFileBytes = 4 << 20

func plain(c *fiber.Ctx, status int, msg string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(status).SendString(msg)
}

// SSE opens a session and streams its events until the client leaves.
func (h *Handlers) SSE(c *fiber.Ctx) error {
	sess := h.Sessions.Open(c.IP())

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		h.Sessions.Stream(w, sess)
	})
	return nil
}

// Messages accepts one JSON-RPC message for an open session. The reply, if
// any, is delivered on the session's event stream.
func (h *Handlers) Messages(c *fiber.Ctx) error {
	raw := c.Query("session_id")
	if raw == "" {
		return plain(c, fiber.StatusBadRequest, "session_id is required")
	}
	id, err := sse.ParseSessionID(raw)
	if err != nil {
		return plain(c, fiber.StatusBadRequest, "Invalid session ID")
	}
	sess, err := h.Sessions.Get(id)
	if err != nil || sess.Closed() {
		return plain(c, fiber.StatusNotFound, "Could not find session")
	}

	body, err := messageBody(c)
	if errors.Is(err, errMissingData) {
		return plain(c, fiber.StatusBadRequest, missingDataMsg)
	}
	if err != nil {
		return plain(c, fiber.StatusBadRequest, "Could not read form data")
	}

	h.touch(c.UserContext(), sess)

	req, errResp := mcp.ParseMessage(body)
	if errResp != nil {
		logging.Warn("could not parse message", "session_id", sess.ID, "code", errResp.Error.Code)
		go h.deliver(h.baseCtx(), sess, errResp)
		return plain(c, fiber.StatusBadRequest, "Could not parse message")
	}

	go func() {
		ctx := h.baseCtx()
		if resp := h.MCP.HandleRequest(ctx, sess.ID, req); resp != nil {
			h.deliver(ctx, sess, resp)
		}
	}()
	return plain(c, fiber.StatusAccepted, "Accepted")
}

const missingDataMsg = "Missing 'data' field in form"

var errMissingData = errors.New("missing data field")

// messageBody returns a private copy of the message, read either from the
// raw body or from the multipart field "data".
func messageBody(c *fiber.Ctx) ([]byte, error) {
	if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		return append([]byte(nil), c.Body()...), nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return nil, errMissingData
	}
	if v := form.Value["data"]; len(v) > 0 {
		return []byte(v[0]), nil
	}
	if files := form.File["data"]; len(files) > 0 {
		f, err := files[0].Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, maxFormFileBytes))
	}
	return nil, errMissingData
}

func (h *Handlers) touch(ctx context.Context, sess *sse.Session) {
	sess.Touch()
	if h.Browser != nil {
		h.Browser.Touch(sess.ID)
	}
	if h.Store != nil {
		if err := h.Store.Touch(ctx, sess.ID, sess.LastActivity()); err != nil {
			logging.Debug("session store touch failed", "session_id", sess.ID, "error", err)
		}
	}
}

func (h *Handlers) deliver(ctx context.Context, sess *sse.Session, resp *mcp.Response) {
	timeout := h.Sessions.Options().EnqueueTimeout
	if err := sess.Send(ctx, mcp.Marshal(resp), timeout); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logging.Warn("session queue full, dropping message", "session_id", sess.ID, "timeout", timeout.String())
			return
		}
		logging.Debug("message not delivered", "session_id", sess.ID, "error", err)
	}
}
