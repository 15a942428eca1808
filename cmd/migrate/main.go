package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/Zerr0-C00L/streamgate/internal/config"
	"github.com/Zerr0-C00L/streamgate/internal/database"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, toml or json)")
	flag.Parse()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	log.Println("streamgate database migration tool")

	if flag.NArg() < 1 {
		log.Fatal("Usage: migrate [-config file] [up|down|reset]")
	}
	command := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	switch command {
	case "up":
		migrateUp(ctx, db)
	case "down":
		migrateDown(ctx, db)
	case "reset":
		migrateDown(ctx, db)
		migrateUp(ctx, db)
	default:
		log.Printf("Unknown command: %s. Use 'up', 'down' or 'reset'", command)
		os.Exit(2)
	}
}

func migrateUp(ctx context.Context, db *database.DB) {
	log.Printf("Running migrations (%s)...", db.Dialect())
	n, err := db.Migrate(ctx)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Printf("Migration completed successfully, %d applied", n)
}

func migrateDown(ctx context.Context, db *database.DB) {
	log.Println("Rolling back migrations...")
	if err := db.DropAll(ctx); err != nil {
		log.Fatalf("Migration rollback failed: %v", err)
	}
	log.Println("Migration rolled back successfully")
}
