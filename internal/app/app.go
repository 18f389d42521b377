package app

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/lib/pq"
	"gopkg.in/gomail.v2"

	"clientray/internal/config"
	"clientray/internal/handlers"
	"clientray/internal/repositories"
	"clientray/internal/routes"
	"clientray/internal/scheduler"
	"clientray/internal/services"
)

func Run() {
	cfg := config.LoadConfig()

	// === DB ===
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("failed to open database: ", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("failed to close database: %v", err)
		}
	}()

	// === Repos ===
	taskRepo := repositories.NewTaskRepository(db)
	userRepo := repositories.NewUserRepository(db)

	// === Notification channels (both optional) ===
	var bot *tgbotapi.BotAPI
	if cfg.Telegram.BotToken != "" {
		bot, err = tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			log.Printf("[app][warn] telegram disabled: %v", err)
			bot = nil
		}
	}
	var mail *gomail.Dialer
	if cfg.Email.SMTPHost != "" {
		mail = gomail.NewDialer(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.SMTPUser, cfg.Email.SMTPPassword)
	}

	// === Services ===
	notifier := services.NewNotificationService(userRepo, bot, mail, cfg.Email.FromEmail)
	taskService := services.NewTaskService(taskRepo)
	recurrenceService := services.NewRecurrenceService(taskRepo, notifier)

	// === Scheduler ===
	ctrl := scheduler.NewController(recurrenceService, cfg.Scheduler.Interval())
	if cfg.Scheduler.Enabled {
		if err := ctrl.Start(); err != nil {
			log.Fatal("failed to start scheduler: ", err)
		}
		defer ctrl.Stop()
	}

	// === Handlers ===
	taskHandler := handlers.NewTaskHandler(taskService)
	recurrenceHandler := handlers.NewRecurrenceHandler(recurrenceService, ctrl)

	// === Gin ===
	router := gin.Default()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	routes.SetupRoutes(router, taskHandler, recurrenceHandler)

	// === Run ===
	listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("server listening on %s", listenAddr)
	if err := router.Run(listenAddr); err != nil {
		log.Fatal("server failed: ", err)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
