package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/lumeo/backend/internal/database"
)

// Schema management for Lumeo. AutoMigrate covers development; "up" is the
// only real command and the others document where a dedicated migration
// tool would slot in.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file, reading system environment")
	}

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "up":
		migrateUp()
	case "down":
		log.Println("Rollback is not implemented; restore from a backup instead")
		os.Exit(1)
	case "create":
		log.Println("Migration files are not used; add the model to internal/models")
		os.Exit(1)
	default:
		fmt.Println("Usage: migrate [up|down|create]")
		os.Exit(1)
	}
}

func migrateUp() {
	if err := database.Initialize(); err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	log.Println("✅ Schema is up to date")
}
