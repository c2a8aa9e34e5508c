package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"boatmarket/internal/config"
	"boatmarket/internal/events"
	"boatmarket/internal/middleware"
	"boatmarket/internal/payment"
	"boatmarket/internal/service"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type DeadLetterReader interface {
	Recent(ctx context.Context, count int64) ([]events.DeadLetter, error)
}

// Deps is everything the route set needs. Services are built by the caller.
type Deps struct {
	Config      *config.AppConfig
	Log         zerolog.Logger
	DB          Pinger
	Cache       redis.Cmdable
	Users       middleware.UserLookup
	Sessions    middleware.SessionLookup
	Auth        *service.AuthService
	Staging     *service.StagingService
	Checkout    *service.CheckoutService
	Catalog     *service.CatalogService
	Listings    *service.ListingService
	States      *service.ListingStateMachine
	Provider    payment.Provider
	DeadLetters DeadLetterReader
}

type HandlerSet struct {
	log         zerolog.Logger
	cfg         *config.AppConfig
	db          Pinger
	cache       redis.Cmdable
	users       middleware.UserLookup
	sessions    middleware.SessionLookup
	auth        *service.AuthService
	staging     *service.StagingService
	checkout    *service.CheckoutService
	catalog     *service.CatalogService
	listings    *service.ListingService
	states      *service.ListingStateMachine
	provider    payment.Provider
	deadLetters DeadLetterReader
}

func NewHandlerSet(deps Deps) HandlerSet {
	return HandlerSet{
		log:         deps.Log,
		cfg:         deps.Config,
		db:          deps.DB,
		cache:       deps.Cache,
		users:       deps.Users,
		sessions:    deps.Sessions,
		auth:        deps.Auth,
		staging:     deps.Staging,
		checkout:    deps.Checkout,
		catalog:     deps.Catalog,
		listings:    deps.Listings,
		states:      deps.States,
		provider:    deps.Provider,
		deadLetters: deps.DeadLetters,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	secret := h.cfg.Security.JWTAccessSecret
	requireUser := middleware.Auth(secret, h.users, h.sessions)
	optionalUser := middleware.OptionalAuth(secret, h.users, h.sessions)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", h.SignUp)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/logout", h.Logout)
		auth.GET("/me", requireUser, h.Me)
		auth.POST("/change-password", requireUser, h.ChangePassword)
	}

	v1.POST("/webhooks/payment", h.PaymentWebhook)
	v1.GET("/images/*key", h.Image)
	v1.GET("/products", h.Products)

	v1.GET("/listings", h.SearchListings)
	v1.GET("/listings/:id", optionalUser, h.GetListing)

	account := v1.Group("")
	account.Use(requireUser)
	{
		account.POST("/staging/upload", h.StageUpload)
		account.POST("/listings/checkout", h.CreateCheckout)
		account.POST("/listings/:id/images", h.UploadListingImages)
		account.DELETE("/listings/:id", h.DeleteListing)
		account.GET("/me/listings", h.MyListings)
		account.GET("/payments/:sessionId/listing", h.ListingForSession)
	}

	admin := v1.Group("/admin")
	admin.Use(requireUser, middleware.RequireAdmin())
	{
		admin.GET("/listings", h.AdminListListings)
		admin.POST("/listings/:id/activate", h.AdminActivate)
		admin.POST("/listings/:id/deactivate", h.AdminDeactivate)
		admin.POST("/cleanup", h.Cleanup)
		admin.GET("/webhooks/deadletters", h.DeadLetters)
	}

	ops := v1.Group("/ops")
	ops.Use(middleware.OperatorSignature(h.cfg.Security.OperatorSecret, h.cache))
	ops.POST("/cleanup", h.Cleanup)
}

// logger returns the request-scoped logger set by middleware.RequestID.
func (h HandlerSet) logger(c *gin.Context) *zerolog.Logger {
	if l := zerolog.Ctx(c.Request.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &h.log
}
