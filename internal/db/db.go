package db

import (
	"log"
	"os"
	"uptune/internal/models"
	"uptune/internal/utils"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func Init() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		// Fallback for local dev if not set
		dsn = "host=localhost user=postgres password=postgres dbname=uptune port=5432 sslmode=disable"
	}

	var err error
	// TranslateError lets the community service match unique-constraint
	// violations as gorm.ErrDuplicatedKey instead of driver error codes.
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Database connection established")

	err = DB.AutoMigrate(
		&models.List{},
		&models.Entry{},
		&models.Vote{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Database migration completed")

	seedLists()
}

func seedLists() {
	var count int64
	DB.Model(&models.List{}).Count(&count)
	if count > 0 {
		log.Println("Lists already seeded, skipping")
		return
	}

	lists := []models.List{
		{Title: "Disco Classics", Description: "Four-on-the-floor forever. The tracks that filled the floor in '77 and still do.", Emoji: "🪩", IsWeeklyChallenge: true},
		{Title: "Songs That Make You Cry", Description: "The ones you can't listen to in public."},
		{Title: "Perfect Album Openers", Description: "Track one, side one. The needle drops and you know."},
		{Title: "One-Hit Wonders Worth Remembering", Description: "They only needed one."},
	}

	for _, list := range lists {
		list.Slug = utils.Slugify(list.Title)
		if err := DB.Create(&list).Error; err != nil {
			log.Printf("Failed to create list %s: %v", list.Title, err)
		}
	}
	log.Println("Initial community lists created successfully")
}
