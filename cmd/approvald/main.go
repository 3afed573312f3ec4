// approvald is the approval channel server. It runs as a separate process
// from the dashboard, bound to one agent session, and answers
// approval_prompt RPC calls on stdio by writing permission requests to the
// shared database and polling for a human decision. The two processes
// never call each other; the store is the only thing they share.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mzxrai/memva-sub002/internal/approval"
	"github.com/mzxrai/memva-sub002/internal/config"
	"github.com/mzxrai/memva-sub002/internal/db"
	"github.com/mzxrai/memva-sub002/internal/db/repos"
	"github.com/mzxrai/memva-sub002/internal/logger"
	"github.com/mzxrai/memva-sub002/internal/services"
)

func main() {
	_ = godotenv.Load()

	logger.InitializeAndConfigure()
	// stdout belongs to the RPC stream.
	logger.UseStderr()

	sessionID := flag.String("session-id", os.Getenv(services.AgentSessionEnv), "Session this channel is bound to")
	flag.Parse()

	if *sessionID == "" {
		logger.Fatal("session id is required (flag -session-id or env " + services.AgentSessionEnv + ")")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	database, err := db.New(db.Options{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
	})
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	poller := services.NewPermissionPoller(repos.NewPermissionRepository(database), cfg.PermissionPollInterval)
	server := approval.NewServer(*sessionID, poller, cfg.PermissionMaxWait, os.Stdin, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof("Approval channel ready for session %s", *sessionID)
	if err := server.Serve(ctx); err != nil {
		logger.Fatalf("Approval channel failed: %v", err)
	}
}
