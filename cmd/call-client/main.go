package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"voicelink-backend/internal/domain"
	"voicelink-backend/internal/gateway/relay"
	"voicelink-backend/internal/rtc"
	"voicelink-backend/internal/service/call"
	"voicelink-backend/pkg/config"
	"voicelink-backend/pkg/env"
	"voicelink-backend/pkg/jwt"
	"voicelink-backend/pkg/logger"
)

// envelopeBridge forwards relay envelopes into the session registry. The
// registry needs the relay connection as its signaler, so the bridge exists
// to break the construction cycle between the two.
type envelopeBridge struct {
	registry *call.Registry
}

func (b *envelopeBridge) HandleEnvelope(envlp *domain.SignalEnvelope) {
	if b.registry != nil {
		b.registry.HandleEnvelope(envlp)
	}
}

func main() {
	// 1. Load configuration and logging
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   "text",
		Output:   "stdout",
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// 2. Resolve identity from the access token
	token := env.GetStringFromFile("AUTH_TOKEN", "")
	if token == "" {
		log.Fatal("AUTH_TOKEN environment variable is required")
	}

	claims, err := jwt.ExtractClaims(token)
	if err != nil {
		log.Fatalf("Failed to parse AUTH_TOKEN: %v", err)
	}
	if jwt.IsTokenExpired(token) {
		log.Fatal("AUTH_TOKEN is expired")
	}

	displayName := cfg.Call.DisplayName
	if displayName == "" {
		displayName = claims.DisplayName
	}
	if displayName == "" {
		displayName = claims.Username
	}

	roomIDStr := env.GetString("CALL_ROOM", "")
	if roomIDStr == "" {
		log.Fatal("CALL_ROOM environment variable is required")
	}
	roomID, err := uuid.Parse(roomIDStr)
	if err != nil {
		log.Fatalf("Invalid CALL_ROOM: %v", err)
	}

	// 3. Prepare local media and peer transports
	mediaDevice, err := rtc.NewMediaDevice(logger.Log)
	if err != nil {
		log.Fatalf("Failed to prepare media pipeline: %v", err)
	}

	transports, err := rtc.NewFactory(rtc.Config{STUNServers: cfg.Call.STUNServers}, mediaDevice, logger.Log)
	if err != nil {
		log.Fatalf("Failed to build transport factory: %v", err)
	}

	// 4. Connect to the relay
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dialCancel()

	bridge := &envelopeBridge{}
	relayClient, err := relay.Dial(dialCtx,
		relay.Config{URL: cfg.Call.RelayURL, Token: token},
		roomID, bridge, logger.Log)
	if err != nil {
		log.Fatalf("Failed to connect to relay: %v", err)
	}
	defer relayClient.Close()

	log.Printf("✅ Connected to relay as %s (%s)\n", displayName, claims.UserID)

	// 5. Build the session registry
	registry := call.NewRegistry(call.RegistryConfig{
		SelfID:      claims.UserID,
		Signaler:    relayClient,
		Media:       mediaDevice,
		Transports:  transports,
		DisplayName: func() string { return displayName },
		Callbacks: call.Callbacks{
			OnIncomingCall: func(roomID, callerID uuid.UUID, callerName string) {
				fmt.Printf("\n📞 Incoming call from %s in room %s (answer/decline)\n> ", callerName, roomID)
			},
			OnCallEnded: func(roomID uuid.UUID, outcome domain.CallOutcome) {
				fmt.Printf("\n☎️  Call in room %s ended: %s\n> ", roomID, outcome)
			},
		},
		GraceDelay: cfg.Call.GraceDelay,
		Logger:     logger.Log,
	})
	bridge.registry = registry

	// 6. Command loop
	go commandLoop(registry, roomID)

	// 7. Shutdown on signal or lost relay connection
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Println("Shutting down...")
	case <-relayClient.Done():
		log.Println("Relay connection lost, shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	registry.Shutdown(shutdownCtx)
}

func commandLoop(registry *call.Registry, roomID uuid.UUID) {
	fmt.Println("Commands: call, answer, decline, hangup, mute, unmute, video on|off, status, quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		runCommand(ctx, registry, roomID, line)
		cancel()

		if line == "quit" {
			syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
			return
		}
	}
}

func runCommand(ctx context.Context, registry *call.Registry, roomID uuid.UUID, line string) {
	sess, active := registry.Get(roomID)

	switch line {
	case "call":
		if _, err := registry.StartCall(ctx, roomID); err != nil {
			fmt.Printf("call failed: %v\n", err)
		} else {
			fmt.Println("dialing...")
		}

	case "answer":
		if !active {
			fmt.Println("no ringing call")
			return
		}
		if err := sess.Answer(ctx); err != nil {
			fmt.Printf("answer failed: %v\n", err)
		}

	case "decline":
		if !active {
			fmt.Println("no ringing call")
			return
		}
		if err := sess.Decline(ctx); err != nil {
			fmt.Printf("decline failed: %v\n", err)
		}

	case "hangup":
		if !active {
			fmt.Println("no call")
			return
		}
		if err := sess.Stop(ctx); err != nil {
			fmt.Printf("hangup failed: %v\n", err)
		}

	case "mute":
		if active {
			sess.SetAudioEnabled(false)
		}

	case "unmute":
		if active {
			sess.SetAudioEnabled(true)
		}

	case "video on":
		if active {
			sess.SetVideoEnabled(true)
		}

	case "video off":
		if active {
			sess.SetVideoEnabled(false)
		}

	case "status":
		if !active {
			fmt.Println("idle")
			return
		}
		fmt.Printf("state=%s participants=%d links=%d\n",
			sess.State(), sess.ParticipantCount(), sess.LinkCount())

	case "quit":

	default:
		fmt.Println("unknown command")
	}
}
