package app

import (
	"github.com/hydrantlabs/designq/internal/controllers"
	"github.com/hydrantlabs/designq/internal/middleware"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gin-gonic/gin"
)

func SetupMappings(app *Application) {
	v1 := app.Engine.Group("/v1/designq")
	client := v1.Group("", middleware.ClientAuthMiddleware(app.ClientValidator))
	agent := v1.Group("/callbacks", middleware.AgentAuthMiddleware(app.AgentValidator))
	{
		client.POST("/tasks", controllers.NewSubmitTaskController(app.Submission).Handle)
		client.GET("/tasks/:id", controllers.NewGetStatusController(app.Status).Handle)
		client.GET("/tasks/:id/artifacts", controllers.NewListArtifactsController(app.Status).Handle)

		agent.POST("/status", controllers.NewUpdateStatusController(app.Callback).Handle)
		agent.POST("/artifacts", controllers.NewSaveArtifactController(app.Callback).Handle)
	}

	app.Engine.GET("/healthz", controllers.NewHealthController(app.Redis).Handle)
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
