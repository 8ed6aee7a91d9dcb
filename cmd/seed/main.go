package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"relay/internal/config"
	"relay/internal/repository"
	"relay/internal/seed"
	"relay/internal/service/llm/conversation"

	"github.com/joho/godotenv"
)

func main() {
	dropTables := flag.Bool("drop-tables", false, "Drop all tables before seeding (fresh start)")
	schemaOnly := flag.Bool("schema-only", false, "Only set up schema, don't seed conversations")
	userID := flag.String("user", "00000000-0000-0000-0000-000000000001", "Owner of the seeded conversations")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Destructive operations are never allowed against production tables
	if cfg.Environment == "prod" && *dropTables {
		log.Fatalf("BLOCKED: --drop-tables is not allowed in the prod environment")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx := context.Background()
	store, err := repository.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	if *dropTables {
		log.Printf("Dropping all tables (driver: %s, prefix: %s)", store.Driver, cfg.TablePrefix)
		if err := store.Reset(ctx); err != nil {
			log.Fatalf("Failed to reset schema: %v", err)
		}
	}
	log.Println("Schema ready")

	if *schemaOnly {
		return
	}

	conversations := conversation.NewService(store.Conversations, store.Messages, store.TxManager, logger)
	created, err := seed.NewSeeder(conversations, logger).Seed(ctx, *userID, seed.DemoConversations())
	if err != nil {
		log.Fatalf("Failed to seed conversations: %v", err)
	}
	log.Printf("Seeding complete: %d conversations created for %s", created, *userID)
}
