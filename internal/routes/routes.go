package routes

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/kirana/internal/config"
	"github.com/example/kirana/internal/handlers"
	"github.com/example/kirana/internal/middleware"
	"github.com/example/kirana/internal/repository"
	"github.com/example/kirana/internal/services"
)

// Register wires up all HTTP routes.
func Register(app *fiber.App, db *gorm.DB, cfg *config.Config) {
	orderRepo := repository.NewOrderRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)

	gateway := services.NewRazorpayClient(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret, cfg.GatewayTimeout)
	telegramService := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat)
	checkoutService := services.NewCheckoutService(orderRepo, catalogRepo, gateway, telegramService)

	authHandler := handlers.NewAuthHandler(db, cfg)
	productHandler := handlers.NewProductHandler(catalogRepo)
	orderHandler := handlers.NewOrderHandler(orderRepo)
	paymentHandler := handlers.NewPaymentHandler(checkoutService, cfg.RazorpayKeyID)

	api := app.Group("/api")

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)

	account := auth.Group("", middleware.AuthMiddleware(cfg))
	account.Get("/profile", authHandler.Profile)
	account.Put("/profile", authHandler.UpdateProfile)

	// Public catalog
	products := api.Group("/products")
	products.Get("/", productHandler.ListProducts)
	products.Get("/:id", productHandler.GetProduct)

	orders := api.Group("/orders")

	// Webhook carries its own HMAC signature instead of a bearer token.
	orders.Post("/payment/webhook", paymentHandler.Webhook)

	protected := orders.Group("", middleware.AuthMiddleware(cfg))
	protected.Post("/payment/create", paymentHandler.CreatePayment)
	protected.Post("/payment/verify", paymentHandler.VerifyPayment)
	protected.Get("/my-orders", orderHandler.ListOrders)
	protected.Get("/:id", orderHandler.GetOrder)
}
