// Package main runs a headless coordination client. A participant joins the
// session room, asks for the stage and reports attendance; a moderator
// drives the room from stdin commands.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/classlive/coordinator/config"
	"github.com/classlive/coordinator/internal/apiclient"
	"github.com/classlive/coordinator/internal/attendance"
	"github.com/classlive/coordinator/internal/channel"
	"github.com/classlive/coordinator/internal/chat"
	"github.com/classlive/coordinator/internal/lifecycle"
	"github.com/classlive/coordinator/internal/models"
	"github.com/classlive/coordinator/internal/presence"
	"github.com/classlive/coordinator/internal/signaling"
	"github.com/classlive/coordinator/internal/stage"
	"github.com/classlive/coordinator/internal/workflow"
)

func main() {
	var (
		apiURL    = flag.String("api", "http://localhost:8080", "coordination server base URL")
		wsURL     = flag.String("ws", "", "signaling endpoint override (defaults to the session's channel config)")
		sessionID = flag.String("session", "", "session id")
		token     = flag.String("token", "", "bearer token")
		name      = flag.String("name", "", "nickname (guests get a generated one)")
		role      = flag.String("role", "participant", "participant | moderator")
	)
	flag.Parse()

	logger := newLogger()
	defer logger.Sync()

	id, err := uuid.Parse(*sessionID)
	if err != nil {
		logger.Fatal("invalid -session", zap.Error(err))
	}
	if *token == "" {
		logger.Fatal("-token is required")
	}

	nick := *name
	if nick == "" {
		nick = cachedName()
	}

	ctx := context.Background()
	api := apiclient.New(*apiURL, *token)
	session, err := api.GetSession(ctx, id)
	if err != nil {
		logger.Fatal("load session", zap.Error(err))
	}

	endpoint := session.Channel.Endpoint
	if *wsURL != "" {
		endpoint = *wsURL
	}
	ch := channel.NewAdapter(channel.Config{
		Endpoint:    endpoint,
		SessionID:   id,
		Token:       *token,
		Name:        nick,
		RoomAddress: session.Channel.RoomAddress,
	}, logger)
	if *name != "" {
		rememberName(*name)
	}

	transcript := chat.NewTranscript()
	roster := presence.NewTracker()
	ch.OnFrame(transcript.Consume)
	ch.OnFrame(roster.Consume)
	ch.OnFrame(func(f signaling.Frame) {
		switch m := f.(type) {
		case signaling.ChatFrame:
			if !m.History {
				fmt.Printf("[chat] %s: %s\n", m.From, m.Body)
			}
		case signaling.HistoryCompleteFrame:
			fmt.Printf("replayed %d chat messages\n", len(transcript.Messages()))
		}
	})

	switch *role {
	case "moderator":
		runModerator(ctx, ch, api, session, transcript, roster, logger)
	case "participant":
		runParticipant(ctx, ch, api, session, nick, logger)
	default:
		logger.Fatal("unknown -role", zap.String("role", *role))
	}
}

// The chosen display name is the only durable client-side state; it is
// reused across sessions until overridden with -name.
func nameCachePath() (string, bool) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(home, ".classlive_name"), true
}

func cachedName() string {
	path, ok := nameCachePath()
	if !ok {
		return ""
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func rememberName(name string) {
	path, ok := nameCachePath()
	if !ok {
		return
	}
	_ = os.WriteFile(path, []byte(name+"\n"), 0o600)
}

func runParticipant(ctx context.Context, ch *channel.Adapter, api *apiclient.Client, session *models.Session, name string, logger *zap.Logger) {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	p := workflow.NewParticipant(ch, name, logger)

	askCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := p.Ask(askCtx); err != nil {
		if errors.Is(err, channel.ErrNicknameTaken) {
			logger.Fatal("nickname already in use, pick another")
		}
		logger.Fatal("ask to join", zap.Error(err))
	}
	fmt.Println("asked to join; waiting for a moderator")

	machine := lifecycle.NewMachine(api, session.ID,
		time.Duration(cfg.Live.ManifestPollSec)*time.Second, logger)
	if _, err := machine.Sync(ctx); err != nil {
		logger.Warn("live state sync failed", zap.Error(err))
	}
	go machine.WatchState(ctx)
	if session.LiveType == models.LiveTypeRaw {
		go machine.WatchManifest(ctx)
	}

	// Attendance only accrues while the broadcast is actually on.
	recorder := attendance.NewRecorder(api, session.ID, ch.Nickname(),
		int64(cfg.Live.AttendanceBucketSec),
		time.Duration(cfg.Live.AttendanceIntervalSec)*time.Second,
		attendance.ParticipantSampler(p.State, machine.State, machine.Playable,
			session.LiveType == models.LiveTypeRaw),
		logger)
	go recorder.Run(ctx)

	for ev := range p.Events() {
		switch ev.State {
		case workflow.StateAccepted:
			fmt.Printf("accepted; stage room %s at %s\n", ev.Stage.Room, ev.Stage.Domain)
		case workflow.StateRejected:
			fmt.Println("rejected by moderator")
		case workflow.StateKicked:
			fmt.Println("kicked from the discussion")
			p.Leave()
			return
		}
	}
}

func runModerator(ctx context.Context, ch *channel.Adapter, api *apiclient.Client, session *models.Session, transcript *chat.Transcript, roster *presence.Tracker, logger *zap.Logger) {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	minter := stage.NewMinter(cfg.JWT.StageTokenSecret, session.Channel.Endpoint,
		time.Duration(cfg.JWT.StageTokenTTLMin)*time.Minute)

	m := workflow.NewModerator(ch, api, minter, session.ID, logger)

	joinCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := m.Join(joinCtx); err != nil {
		logger.Fatal("join room", zap.Error(err))
	}
	fmt.Println("joined as moderator; commands: who | asking | sessions | attendance | history | say <msg> | accept <id> <name> | reject <id> | kick <id> | start [confirm] | stop | quit")

	machine := lifecycle.NewMachine(api, session.ID,
		time.Duration(cfg.Live.ManifestPollSec)*time.Second, logger)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "who":
			for _, e := range roster.Occupants() {
				fmt.Printf("  %s (%s) on_stage=%v\n", e.Name, e.Role, e.OnStage)
			}
		case "asking":
			s, err := api.GetSession(ctx, session.ID)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, p := range s.AskingToJoin {
				fmt.Printf("  %s (%s)\n", p.Name, p.ID)
			}
		case "sessions":
			list, err := api.ListSessions(ctx)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, s := range list {
				fmt.Printf("  %s  %s [%s %s]\n", s.ID, s.Title, s.LiveType, s.LiveState)
			}
		case "attendance":
			records, err := api.ListAttendance(ctx, session.ID)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, rec := range records {
				playing := 0
				for _, sample := range rec.Buckets {
					if sample.Playing {
						playing++
					}
				}
				fmt.Printf("  %s: %d buckets, %d playing\n", rec.ViewerID, len(rec.Buckets), playing)
			}
		case "history":
			for _, m := range transcript.Messages() {
				fmt.Printf("  [%s] %s: %s\n", m.SentAt.Format(time.Kitchen), m.Sender, m.Content)
			}
		case "say":
			if len(fields) < 2 {
				fmt.Println("usage: say <msg>")
				continue
			}
			report(ch.Send(signaling.ChatFrame{Body: strings.Join(fields[1:], " "), SentAt: time.Now()}))
		case "accept":
			if len(fields) < 3 {
				fmt.Println("usage: accept <id> <name>")
				continue
			}
			report(m.Accept(models.Participant{ID: fields[1], Name: strings.Join(fields[2:], " ")}))
		case "reject":
			if len(fields) < 2 {
				fmt.Println("usage: reject <id>")
				continue
			}
			report(m.Reject(models.Participant{ID: fields[1]}))
		case "kick":
			if len(fields) < 2 {
				fmt.Println("usage: kick <id>")
				continue
			}
			report(m.Kick(models.Participant{ID: fields[1]}))
		case "start":
			confirm := len(fields) > 1 && fields[1] == "confirm"
			err := machine.Start(ctx, confirm)
			if errors.Is(err, lifecycle.ErrConfirmRequired) {
				fmt.Println("previous recording will be erased; run: start confirm")
				continue
			}
			report(err)
		case "stop":
			report(machine.Stop(ctx))
		case "quit":
			m.Leave()
			return
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

func report(err error) {
	if err != nil {
		fmt.Println("error:", err)
	} else {
		fmt.Println("ok")
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
