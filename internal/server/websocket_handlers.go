package server

import (
	"log/slog"

	"chapterhub/internal/featureflags"
	"chapterhub/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// AdminFeedHandler handles GET /api/admin/ws, the admin live feed. Every
// relayed outbox event is pushed to every connected admin.
func (s *Server) AdminFeedHandler() fiber.Handler {
	feed := websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("userID").(uint)

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			slog.Warn("live feed registration refused",
				slog.Uint64("user_id", uint64(userID)),
				slog.String("error", err.Error()),
			)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		slog.Info("live feed connected", slog.Uint64("user_id", uint64(userID)))
		client.Serve()
	})

	return func(c *fiber.Ctx) error {
		p := principal(c)
		if !p.IsAdmin() {
			return models.RespondError(c, models.NewForbiddenError("Admin access required"))
		}
		if s.hub == nil || !s.featureFlags.Enabled(featureflags.AdminLiveFeed, p.ID) {
			return models.RespondWithError(c, fiber.StatusServiceUnavailable,
				fiber.NewError(fiber.StatusServiceUnavailable, "live feed is unavailable"))
		}
		if !websocket.IsWebSocketUpgrade(c) {
			return models.RespondWithError(c, fiber.StatusUpgradeRequired,
				fiber.NewError(fiber.StatusUpgradeRequired, "websocket upgrade required"))
		}
		return feed(c)
	}
}
