// notifywatch connects to the notification channel and prints battle
// invitations, turn signals, and deadline warnings. Stdin commands:
// "accept <id>", "decline <id>", "away", "back".
//
// Usage: go run ./cmd/notifywatch --config configs/probe.local.yaml
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

	"github.com/codearena/realtime-go/internal/config"
	"github.com/codearena/realtime-go/internal/connection"
	"github.com/codearena/realtime-go/internal/notify"
	"github.com/codearena/realtime-go/internal/protocol"
	"github.com/codearena/realtime-go/internal/token"
	"github.com/codearena/realtime-go/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/probe.example.yaml", "path to config file")
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

	logger.Info("notifywatch starting", "version", version.String())

	tokens := token.NewClient(cfg.TokenEndpoint(), "notify",
		token.WithCSRFToken(cfg.Server.CSRFToken),
		token.WithLogger(logger),
	)

	sess := notify.NewSession(notify.Config{
		BaseURL:     cfg.Server.WSURL,
		PendingCap:  cfg.Notify.PendingCap,
		TokenSource: tokens,
		Conn:        cfg.ConnConfig(),
	}, logger)

	sess.SetCallbacks(notify.Callbacks{
		OnStatus: func(status connection.Status, err error) {
			if err != nil {
				fmt.Printf("-- status: %s (%v)\n", status, err)
				return
			}
			fmt.Printf("-- status: %s\n", status)
		},
		OnInvitation: func(inv protocol.Invitation) {
			fmt.Printf("!! invitation %s from %s (%s), expires %s\n",
				inv.ID,
				inv.From.Username,
				inv.Mode,
				time.UnixMilli(inv.ExpiresAt).Format("15:04:05"),
			)
		},
		OnYourTurn: func(ev protocol.YourTurnEvent) {
			fmt.Printf("!! your turn in battle %s, deadline %s\n",
				ev.BattleID,
				time.UnixMilli(ev.Deadline).Format("15:04:05"),
			)
		},
		OnDeadlineWarning: func(ev protocol.DeadlineWarningEvent) {
			fmt.Printf("!! battle %s deadline in %ds\n", ev.BattleID, ev.SecondsLeft)
		},
		OnServerError: func(ev protocol.ErrorEvent) {
			fmt.Printf("-- server error %s: %s\n", ev.Code, ev.Message)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	sess.Connect()

	readInput(ctx, sess)

	sess.Close()
	logger.Info("notifywatch stopped")
}

func readInput(ctx context.Context, sess *notify.Session) {
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
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := handleLine(sess, line); err != nil {
				fmt.Printf("-- %v\n", err)
			}
		}
	}
}

func handleLine(sess *notify.Session, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "accept", "decline":
		if len(fields) != 2 {
			return fmt.Errorf("usage: %s <invitation-id>", fields[0])
		}
		return sess.RespondToInvitation(fields[1], fields[0] == "accept")
	case "away":
		return sess.UpdateAvailability(false)
	case "back":
		return sess.UpdateAvailability(true)
	case "pending":
		for _, inv := range sess.Pending() {
			fmt.Printf("  %s from %s (%s)\n", inv.ID, inv.From.Username, inv.Mode)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}
