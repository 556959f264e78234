package main

import (
	"log"
	"os"
	"uptune/internal/db"
	"uptune/internal/middleware"
	"uptune/internal/router"
	"uptune/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, finding env vars from system")
	}

	// Initialize Database
	db.Init()

	// Start the weekly challenge rotation loop
	services.GetChallengeService().StartRotation()

	// Initialize Gin
	r := gin.Default()

	// Setup Sessions (guest identity cookie)
	secret := os.Getenv("SESSION_SECRET")
	if secret == "" {
		secret = "secret_key_change_me"
	}
	store := cookie.NewStore([]byte(secret))
	r.Use(sessions.Sessions("uptune_session", store))
	r.Use(middleware.GuestSession())

	// Routes
	router.RegisterRoutes(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("Uptune server starting on :%s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal(err)
	}
}
