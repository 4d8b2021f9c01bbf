package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeclash/proctor/conf"
	"github.com/codeclash/proctor/draftstore"
	"github.com/codeclash/proctor/judge"
	"github.com/codeclash/proctor/session"
	"github.com/codeclash/proctor/signaling"
	"github.com/codeclash/proctor/taskstate"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	relayURL := getEnv("RELAY_WS_URL", "ws://localhost:8080")
	backendURL := getEnv("BACKEND_BASE_URL", "http://localhost:3000")
	contestID := os.Getenv("CONTEST_ID")
	userID := os.Getenv("USER_ID")
	token := os.Getenv("AGENT_TOKEN")
	if contestID == "" || userID == "" {
		slog.Error("CONTEST_ID and USER_ID must be set")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var drafts draftstore.Store = draftstore.NewMemStore()
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisStore := draftstore.NewRedisStore(addr)
		if err := redisStore.Ping(ctx); err != nil {
			slog.Error("redis draft store unreachable", "error", err)
			os.Exit(1)
		}
		drafts = redisStore
	}

	// demo task set; a real host feeds the contest's tasks here
	tasks := []taskstate.Task{
		{ID: "demo-1", Title: "Demo task", Boilerplate: map[string]string{"": "// solve here\n"}},
	}

	coord, err := session.New(ctx, session.Deps{
		ContestID: contestID,
		UserID:    userID,
		Tasks:     tasks,
		Settings:  conf.NewSettingsClient(backendURL),
		Capture:   syntheticCapture{},
		Display:   headlessDisplay{},
		Judge:     judge.NewClient(backendURL),
		Drafts:    drafts,
	})
	if err != nil {
		slog.Error("failed to create session", "error", err)
		os.Exit(1)
	}

	wsURL := fmt.Sprintf("%s/ws/contests/%s/participant", relayURL, contestID)
	client, err := signaling.Dial(ctx, wsURL, token, signaling.JoinContest{
		ContestID: contestID,
		UserID:    userID,
		SessionID: coord.SessionID(),
	})
	if err != nil {
		slog.Error("failed to dial signaling relay", "error", err)
		os.Exit(1)
	}
	coord.AttachSignaling(client)

	listenDone := make(chan error, 1)
	go func() { listenDone <- client.Listen(ctx, coord) }()

	if _, err := coord.RequestCameraAndMicrophone(ctx); err != nil {
		slog.Warn("camera/microphone capture failed", "error", err)
	}
	if coord.Settings().RequireScreenShare {
		if _, err := coord.RequestScreenShare(ctx); err != nil {
			slog.Warn("screen capture failed", "error", err)
		}
	}
	coord.TryActivate()
	slog.Info("agent session running",
		"session_id", coord.SessionID(), "status", coord.Status())

	for {
		select {
		case <-ctx.Done():
			coord.Abort()
			client.Close()
			slog.Info("agent aborted", "summary", fmt.Sprintf("%+v", coord.Summary()))
			return
		case err := <-listenDone:
			coord.Abort()
			slog.Info("signaling channel closed", "error", err)
			return
		case <-time.After(time.Second):
			if coord.Status() == session.StatusCompleted {
				client.Close()
				slog.Info("agent finished", "summary", fmt.Sprintf("%+v", coord.Summary()))
				return
			}
		}
	}
}
