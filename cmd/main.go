// Command cmd seeds a development database and prints its contents.
//
//	go run ./cmd seed    create a demo admin, a demo user and a clinic queue
//	go run ./cmd check   list users and queues
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/mishalsheza/queue-ease/internal/auth"
	"github.com/mishalsheza/queue-ease/internal/config"
	"github.com/mishalsheza/queue-ease/internal/logger"
	"github.com/mishalsheza/queue-ease/internal/models"
	"github.com/mishalsheza/queue-ease/internal/queue"
	"github.com/mishalsheza/queue-ease/internal/storage"
)

const demoPassword = "password123"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: cmd seed|check")
		os.Exit(2)
	}

	if err := config.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.StoreDriver != config.DriverPostgres {
		fmt.Fprintln(os.Stderr, "seed and check need STORE_DRIVER=postgres")
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, "text")

	ctx := context.Background()
	db, err := storage.ConnectPostgres(cfg.Postgres, log)
	if err != nil {
		log.Error("connect", "error", err)
		os.Exit(1)
	}
	store := storage.NewGormStore(db)
	if err := store.Migrate(ctx); err != nil {
		log.Error("migrate", "error", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "seed":
		err = seed(ctx, cfg, store, log)
	case "check":
		err = check(ctx, store)
	default:
		err = fmt.Errorf("unknown command %q", os.Args[1])
	}
	if err != nil {
		log.Error(os.Args[1], "error", err)
		os.Exit(1)
	}
}

func seed(ctx context.Context, cfg config.Config, store storage.Store, log *slog.Logger) error {
	admin, err := ensureUser(ctx, store, "Dr. Smith", "admin@example.com", models.RoleAdmin)
	if err != nil {
		return err
	}
	user, err := ensureUser(ctx, store, "Jane Patient", "user@example.com", models.RoleUser)
	if err != nil {
		return err
	}

	svc := queue.NewService(store, queue.Options{Logger: log, RecentWindow: cfg.RecentWindow})
	q, err := svc.CreateQueue(ctx, queue.Actor{UserID: admin.ID, Role: admin.Role}, queue.CreateQueueInput{
		Name:                  "Dr. Smith Clinic",
		Type:                  "General Checkup",
		Section:               "A",
		AvgProcessTimeMinutes: 15,
	})
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}

	issuer := auth.NewIssuer(cfg.AccessSecret, cfg.RefreshSecret, cfg.AccessTTL, cfg.RefreshTTL)
	for _, u := range []models.User{admin, user} {
		pair, err := issuer.Issue(u)
		if err != nil {
			return err
		}
		fmt.Printf("%-6s %s\n  id:     %s\n  access: %s\n", u.Role, u.Email, u.ID, pair.AccessToken)
	}
	fmt.Printf("queue  %s (%s)\n", q.Name, q.ID)
	fmt.Printf("password for both accounts: %s\n", demoPassword)
	return nil
}

func ensureUser(ctx context.Context, store storage.Store, name, email string, role models.Role) (models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(demoPassword), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}

	var u models.User
	err = store.Atomic(ctx, func(r storage.Repository) error {
		existing, err := r.GetUserByEmail(email)
		if err == nil {
			u = existing
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		u = models.User{Name: name, Email: strings.ToLower(email), PasswordHash: string(hash), Role: role}
		return r.CreateUser(&u)
	})
	return u, err
}

func check(ctx context.Context, store storage.Store) error {
	return store.View(ctx, func(r storage.Repository) error {
		users, err := r.ListUsers()
		if err != nil {
			return err
		}
		fmt.Printf("users: %d\n", len(users))
		for _, u := range users {
			fmt.Printf("  %s  %-14s %s\n", u.ID, u.Role, u.Email)
		}

		queues, err := r.ListQueues()
		if err != nil {
			return err
		}
		fmt.Printf("queues: %d\n", len(queues))
		for _, q := range queues {
			serving := "-"
			if q.NowServing != nil {
				serving = q.NowServing.Token
			}
			fmt.Printf("  %s  %-24s waiting=%d serving=%s served=%d\n", q.ID, q.Name, len(q.WaitingList), serving, q.ServedCount)
		}
		return nil
	})
}
