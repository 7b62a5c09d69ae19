package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"

	"gridplay-server/internal/auth"
	"gridplay-server/internal/store"
)

type Server struct {
	port       int
	store      store.Store
	tokens     *auth.Tokens
	registry   *ConnectionRegistry
	notifier   *Notifier
	matches    *MatchCoordinator
	matchmaker *Matchmaker
}

// New wires the components around an already-opened store. Used
// directly by tests with the in-memory store.
func New(st store.Store, tokens *auth.Tokens) *Server {
	registry := NewConnectionRegistry()
	notifier := NewNotifier(registry)
	matches := NewMatchCoordinator(st, notifier)
	return &Server{
		store:      st,
		tokens:     tokens,
		registry:   registry,
		notifier:   notifier,
		matches:    matches,
		matchmaker: NewMatchmaker(st, matches, notifier),
	}
}

func NewServer() (*Server, *http.Server) {
	port, _ := strconv.Atoi(os.Getenv("PORT"))

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	pool, err := pgxpool.New(context.Background(), os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("Failed to open database pool: %v", err)
	}
	pg := store.NewPostgres(pool)
	if err := pg.Migrate(context.Background()); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}
	log.Println("Database schema applied successfully")

	srv := New(pg, auth.NewTokens(secret))
	srv.port = port

	// Declare Server config
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.port),
		Handler:      srv.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return srv, httpServer
}

// Shutdown releases the store. Live connections are dropped by the
// http.Server shutdown; clients reconnect and re-enqueue on their own.
func (s *Server) Shutdown(ctx context.Context) error {
	s.store.Close()
	return nil
}
