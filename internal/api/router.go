package api

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/passportvault/passportvault/internal/api/controllers"
	"github.com/passportvault/passportvault/internal/app"
)

func RegisterRoutes(e *echo.Echo, app *app.Context) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	// The admin UI is served from a different origin
	e.Use(middleware.CORS("*"))

	uploadCtrl := &controllers.UploadController{App: app}
	adminCtrl := &controllers.AdminController{App: app}

	e.GET("/healthz", func(c *echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Student-facing upload
	e.POST("/api/students", uploadCtrl.HandleCreate)

	// Admin endpoints
	e.GET("/api/admin/students", adminCtrl.HandleList)
	e.GET("/api/admin/departments", adminCtrl.HandleDepartments)
	e.GET("/api/admin/download-batch", adminCtrl.HandleBatchDownload)
	e.GET("/api/admin/download/:id", adminCtrl.HandleDownload)
	e.DELETE("/api/admin/students/:id", adminCtrl.HandleDelete)
}
