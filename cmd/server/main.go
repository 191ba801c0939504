package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/sovann/taskhub-core/internal/auth"
	"github.com/sovann/taskhub-core/internal/config"
	"github.com/sovann/taskhub-core/internal/database"
	"github.com/sovann/taskhub-core/internal/models"
	"github.com/sovann/taskhub-core/internal/realtime"
	"github.com/sovann/taskhub-core/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println(".env not loaded, continuing with environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db, models.All()...); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	if err := database.SeedRoles(db); err != nil {
		log.Fatalf("seeding roles failed: %v", err)
	}

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTExpires)

	hub := realtime.NewHub()
	go hub.Run()

	r := server.New(db, tokens, hub, hub)

	log.Printf("listening on :%s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server: %v", err)
	}
}
