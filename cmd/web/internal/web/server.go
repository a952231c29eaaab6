package web

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"thirdcoast.systems/allthethings/cmd/web/handlers/admin"
	"thirdcoast.systems/allthethings/cmd/web/handlers/api/asset_api"
	"thirdcoast.systems/allthethings/cmd/web/handlers/api/search_api"
	"thirdcoast.systems/allthethings/cmd/web/handlers/api/webhook_api"
	"thirdcoast.systems/allthethings/cmd/web/handlers/common"
	"thirdcoast.systems/allthethings/internal/application"
)

type Webserver struct {
	*echo.Echo
	services   *application.Services
	adminToken string
}

func NewWebserver(services *application.Services, adminToken string) (*Webserver, error) {
	e := echo.New()
	e.Validator = common.NewRequestValidator()

	webserver := &Webserver{
		Echo:       e,
		services:   services,
		adminToken: adminToken,
	}

	if adminToken == "" {
		slog.Info("ADMIN_TOKEN not set; admin routes are disabled")
	}

	if err := webserver.registerRoutes(); err != nil {
		return nil, err
	}

	if err := webserver.setupMiddleware(); err != nil {
		return nil, err
	}

	return webserver, nil
}

func (s *Webserver) setupMiddleware() error {
	s.HideBanner = true
	s.HidePort = true
	s.Use(middleware.BodyLimit("2M"))
	s.Use(middleware.Recover())
	s.Use(middleware.RequestID())
	s.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
	}))
	s.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/healthz"
		},
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			slog.Info("request", fields...)
			return nil
		},
	}))

	return nil
}

// requireAdmin checks the bearer token in constant time.
func (s *Webserver) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.adminToken)) != 1 {
			return common.ErrUnauthorized()
		}
		return next(c)
	}
}

func (s *Webserver) registerRoutes() error {
	svc := s.services

	s.POST("/assets", asset_api.HandleSubmit(svc.Ingest))
	s.GET("/assets", asset_api.HandleIndex(svc.Store))
	s.GET("/assets/:id", asset_api.HandleShow(svc.Store))

	s.GET("/search", search_api.HandleSearch(svc.Search))
	s.POST("/search", search_api.HandleSearch(svc.Search))

	webhookGroup := s.Group("/webhooks")
	webhookGroup.POST("/transcription/:id", webhook_api.HandleTranscription(svc.Webhooks))
	webhookGroup.POST("/embedding/:id", webhook_api.HandleEmbedding(svc.Webhooks))

	if s.adminToken != "" {
		adminGroup := s.Group("/admin")
		adminGroup.Use(s.requireAdmin)
		adminGroup.POST("/assets/:id/embeddings", admin.HandleRequestEmbeddings(svc.Webhooks))
	}

	// Health check
	s.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	return nil
}
