package web

import (
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-fleet/pkg/audioio"
)

// micHandler accepts browser microphone audio: binary frames of
// little-endian PCM16 at the capture rate. Frames arriving while no
// session is capturing are discarded.
func (s *Server) micHandler() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		if s.deps.Mic == nil {
			c.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "microphone input disabled"))
			return
		}
		s.logger.Debug("microphone stream connected", "remote", c.IP())

		var dropped int
		for {
			mt, data, err := c.ReadMessage()
			if err != nil {
				break
			}
			if mt != websocket.BinaryMessage || len(data) < 2 {
				continue
			}
			if len(data)%2 == 1 {
				data = data[:len(data)-1]
			}
			if err := s.deps.Mic.Push(data); err != nil {
				if !errors.Is(err, audioio.ErrNotCapturing) {
					s.logger.Warn("microphone push", "error", err)
				}
				dropped++
			}
		}
		s.logger.Debug("microphone stream closed", "dropped_frames", dropped)
	})
}
