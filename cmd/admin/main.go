package main

import (
	"context"
	"coursechat/backend/internal/auth"
	"coursechat/backend/internal/config"
	"coursechat/backend/internal/logging"
	"coursechat/backend/internal/models"
	"coursechat/backend/internal/storage"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const usage = `Usage: admin <command> [args]

Commands:
  create-room <course|cohort> <scope_id>            create (or fetch) a chat room
  history <course|cohort> <scope_id>                print a room's messages
  token <user_id> [student|instructor|admin]        mint an access token
  invalidate-enrollment <user_id> <course|cohort> <scope_id>
                                                    drop a cached enrollment answer after an unenrollment
  probe <server_url> <course|cohort> <scope_id> [message]
                                                    connect with test access, join, post and print events`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.Load(logging.New(os.Stderr, "error", "text"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	ctx := context.Background()

	command, args := os.Args[1], os.Args[2:]
	switch command {
	case "create-room":
		if len(args) != 2 {
			fmt.Println("Usage: admin create-room <course|cohort> <scope_id>")
			os.Exit(1)
		}
		kind := mustKind(args[0])
		room, err := openStorage(cfg).GetOrCreateRoom(ctx, kind, args[1])
		if err != nil {
			log.Fatalf("Error creating room: %v", err)
		}
		fmt.Printf("Room %s (%s %s)\n", room.ID, room.Kind, room.ScopeID)

	case "history":
		if len(args) != 2 {
			fmt.Println("Usage: admin history <course|cohort> <scope_id>")
			os.Exit(1)
		}
		if err := printHistory(ctx, openStorage(cfg), mustKind(args[0]), args[1]); err != nil {
			log.Fatalf("Error reading history: %v", err)
		}

	case "token":
		if len(args) < 1 || len(args) > 2 {
			fmt.Println("Usage: admin token <user_id> [student|instructor|admin]")
			os.Exit(1)
		}
		role := auth.RoleStudent
		if len(args) == 2 {
			role = auth.Role(args[1])
		}
		token, err := auth.NewResolver(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Issue(args[0], role, cfg.Auth.TokenTTL)
		if err != nil {
			log.Fatalf("Error issuing token: %v", err)
		}
		fmt.Println(token)

	case "invalidate-enrollment":
		if len(args) != 3 {
			fmt.Println("Usage: admin invalidate-enrollment <user_id> <course|cohort> <scope_id>")
			os.Exit(1)
		}
		if cfg.Redis.Addr == "" {
			fmt.Println("redis is not configured; there is no enrollment cache to invalidate")
			return
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		s := storage.NewStorageService(nil, logging.New(os.Stderr, "error", "text"), storage.WithRedis(rdb, cfg.Chat.EnrollmentCacheTTL))
		if err := s.InvalidateEnrollment(ctx, args[0], mustKind(args[1]), args[2]); err != nil {
			log.Fatalf("Error invalidating enrollment: %v", err)
		}
		fmt.Printf("Dropped cached enrollment of %s in %s %s\n", args[0], args[1], args[2])

	case "probe":
		if len(args) < 3 || len(args) > 4 {
			fmt.Println("Usage: admin probe <server_url> <course|cohort> <scope_id> [message]")
			os.Exit(1)
		}
		message := "probe at " + time.Now().UTC().Format(time.RFC3339)
		if len(args) == 4 {
			message = args[3]
		}
		resolver := auth.NewResolver(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		if err := runProbe(ctx, resolver, args[0], mustKind(args[1]), args[2], message, os.Stdout); err != nil {
			log.Fatalf("Probe failed: %v", err)
		}

	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}
}

func openStorage(cfg *config.Config) *storage.Service {
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	// No redis needed for admin CLI
	return storage.NewStorageService(db, logging.New(os.Stderr, "error", "text"))
}

func mustKind(s string) models.RoomKind {
	kind, err := models.ParseRoomKind(s)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	return kind
}

func printHistory(ctx context.Context, s storage.Storage, kind models.RoomKind, scopeID string) error {
	room, err := s.FindRoom(ctx, kind, scopeID)
	if err != nil {
		return err
	}
	msgs, err := s.ListByRoom(ctx, room.ID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	for _, msg := range msgs {
		if err := enc.Encode(models.NewMessageEvent(scopeID, msg)); err != nil {
			return err
		}
	}
	fmt.Fprintf(os.Stderr, "%d messages in %s\n", len(msgs), room.Key())
	return nil
}
