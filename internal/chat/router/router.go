package router

import (
	"context"

	"chat_sync_service/internal/chat/app"
	"chat_sync_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes 注册 chat sync 路由
func RegisterRoutes(r *fiber.App, chatWebsocket *app.ChatWebsocketHandler) {
	r.Get("/", ConnectCheck)
	r.Post("/debug", DebugLogFlag)

	r.Get("/ws", middlewares.JWTMiddleware(), upgradeRequired, websocket.New(func(c *websocket.Conn) {
		// 每個連線一個 sync engine
		chatWebsocket.HandleConnection(context.Background(), c)
	}))
}

func upgradeRequired(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}
