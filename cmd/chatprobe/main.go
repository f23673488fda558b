// chatprobe connects to a chat room and streams room events to console.
// Lines read from stdin are sent as messages; /typing, /history, and
// /members are probe commands.
//
// Usage: go run ./cmd/chatprobe --config configs/probe.local.yaml
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codearena/realtime-go/internal/chat"
	"github.com/codearena/realtime-go/internal/config"
	"github.com/codearena/realtime-go/internal/connection"
	"github.com/codearena/realtime-go/internal/protocol"
	"github.com/codearena/realtime-go/internal/token"
	"github.com/codearena/realtime-go/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/probe.example.yaml", "path to config file")
	room := flag.String("room", "", "room id (overrides config)")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *room != "" {
		cfg.Chat.Room = *room
	}

	logger.Info("chatprobe starting", "version", version.String(), "room", cfg.Chat.Room)

	tokens := token.NewClient(cfg.TokenEndpoint(), "chat",
		token.WithCSRFToken(cfg.Server.CSRFToken),
		token.WithLogger(logger),
	)

	sess := chat.NewSession(chat.Config{
		BaseURL:      cfg.Server.WSURL,
		RoomID:       cfg.Chat.Room,
		BufferCap:    cfg.Chat.BufferCap,
		HistoryLimit: cfg.Chat.HistoryLimit,
		TokenSource:  tokens,
		Conn:         cfg.ConnConfig(),
	}, logger)

	sess.SetCallbacks(chat.Callbacks{
		OnStatus: func(status connection.Status, err error) {
			if err != nil {
				fmt.Printf("-- status: %s (%v)\n", status, err)
				return
			}
			fmt.Printf("-- status: %s\n", status)
		},
		OnUpdate: func() {
			msgs := sess.Messages()
			if len(msgs) == 0 {
				return
			}
			last := msgs[len(msgs)-1]
			fmt.Printf("[%s] %s: %s\n",
				time.UnixMilli(last.SentAt).Format("15:04:05"),
				last.Username,
				last.Content,
			)
		},
		OnServerError: func(ev protocol.ErrorEvent) {
			fmt.Printf("-- server error %s: %s\n", ev.Code, ev.Message)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sess.Connect()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		return nil
	})
	g.Go(func() error {
		return readInput(ctx, sess)
	})

	if err := g.Wait(); err != nil {
		logger.Error("probe exited", "error", err)
	}

	sess.Close()
	logger.Info("chatprobe stopped")
}

// readInput pumps stdin lines into the session until ctx is cancelled.
func readInput(ctx context.Context, sess *chat.Session) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := handleLine(sess, line); err != nil {
				fmt.Printf("-- %v\n", err)
			}
		}
	}
}

func handleLine(sess *chat.Session, line string) error {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil
	case line == "/history":
		return sess.RequestHistory()
	case line == "/members":
		for _, u := range sess.Members() {
			fmt.Printf("  %s (%s)\n", u.Username, u.UserID)
		}
		return nil
	case line == "/typing on":
		return sess.SetTyping(true)
	case line == "/typing off":
		return sess.SetTyping(false)
	default:
		return sess.SendMessage(line)
	}
}
