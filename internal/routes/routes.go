package routes

import (
	"github.com/gin-gonic/gin"

	"clientray/internal/handlers"
)

func SetupRoutes(
	r *gin.Engine,
	taskHandler *handlers.TaskHandler,
	recurrenceHandler *handlers.RecurrenceHandler,
) *gin.Engine {

	// TASKS
	tasks := r.Group("/tasks")
	{
		tasks.POST("/", taskHandler.Create)
		tasks.GET("/", taskHandler.GetAll)
		tasks.GET("/:id", taskHandler.GetByID)
		tasks.PUT("/:id", taskHandler.Update)
		tasks.DELETE("/:id", taskHandler.Delete)
		tasks.PUT("/:id/recurrence/stop", taskHandler.StopRecurrence)
	}

	// RECURRING ENGINE (operator surface)
	recurring := r.Group("/recurring")
	{
		recurring.POST("/run", recurrenceHandler.Run)
		recurring.POST("/tasks/:id/generate", recurrenceHandler.GenerateOne)
		recurring.GET("/status", recurrenceHandler.Status)
		recurring.GET("/preview", recurrenceHandler.Preview)
	}

	return r
}
