package routes

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ward-backend/controllers"
	"ward-backend/middleware"
	"ward-backend/services"
)

// Deps are the handlers and collaborators the router mounts.
type Deps struct {
	Rooms    *controllers.RoomController
	Patients *controllers.PatientController
	Auth     *controllers.AuthController
	Tokens   middleware.TokenParser
	Hub      *services.MelodyHub
	// Gatherer serves /metrics; nil uses the default registry.
	Gatherer    prometheus.Gatherer
	CORSOrigins []string
	Logger      *zap.Logger
	// Ready reports store health for /health.
	Ready func() error
}

func corsConfig(origins []string) cors.Config {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	allowCredentials := true
	for _, origin := range origins {
		if origin == "*" {
			allowCredentials = false
			break
		}
	}
	return cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", "Retry-After", middleware.RequestIDHeader},
		AllowCredentials: allowCredentials,
		MaxAge:           12 * time.Hour,
	}
}

func SetupRouter(d Deps) *gin.Engine {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	controllers.RegisterValidators()

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger(log))
	r.Use(cors.New(corsConfig(d.CORSOrigins)))

	r.GET("/health", func(c *gin.Context) {
		if d.Ready != nil {
			if err := d.Ready(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	if d.Hub != nil {
		r.GET("/ws", middleware.Auth(d.Tokens), func(c *gin.Context) {
			if err := d.Hub.HandleRequest(c.Writer, c.Request); err != nil {
				log.Debug("ws upgrade failed", zap.Error(err))
			}
		})
	}

	api := r.Group("/api")
	{
		api.POST("/login", d.Auth.Login)
		api.GET("/rooms", d.Rooms.GetRooms)
		api.GET("/rooms/available", d.Rooms.GetAvailableRooms)

		authed := api.Group("", middleware.Auth(d.Tokens))
		authed.POST("/register", d.Auth.Register)

		rooms := authed.Group("/rooms")
		{
			rooms.POST("", d.Rooms.CreateRoom)
			rooms.GET("/audit", d.Rooms.GetAudit)

			rooms.PUT("/:id", d.Rooms.UpdateRoom)
			rooms.DELETE("/:id", d.Rooms.DeleteRoom)
			rooms.PUT("/:id/reserve", d.Rooms.ReserveRoom)
			rooms.POST("/:id/checkout", d.Rooms.CheckoutRoom)
			rooms.GET("/:id/events", d.Rooms.GetRoomEvents)
		}

		patients := authed.Group("/patients")
		{
			patients.POST("", d.Patients.AdmitPatient)
			patients.GET("/:id", d.Patients.GetPatient)
			patients.PUT("/:id", d.Patients.UpdatePatient)
		}
	}

	return r
}
