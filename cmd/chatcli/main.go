package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/tradewire/chatkit/internal/config"
	"github.com/tradewire/chatkit/internal/domain"
	"github.com/tradewire/chatkit/internal/identity"
	"github.com/tradewire/chatkit/internal/media"
	"github.com/tradewire/chatkit/internal/presence"
	"github.com/tradewire/chatkit/internal/rest"
	"github.com/tradewire/chatkit/internal/service"
	"github.com/tradewire/chatkit/internal/transport"
	"github.com/tradewire/chatkit/pkg/log"
)

func main() {
	token := flag.String("token", os.Getenv("CHAT_TOKEN"), "auth token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log.Init(cfg.Log)
	logger := log.L()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "a token is required (-token or CHAT_TOKEN)")
		os.Exit(1)
	}

	who, err := identity.FromToken(*token)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read identity from token")
	}
	logger.Info().
		Str(log.FieldParticipantID, who.ParticipantID).
		Str(log.FieldRole, string(who.Role)).
		Msg("starting chat client")

	ctx := context.Background()

	var uploader media.Uploader
	if cfg.Media.Bucket != "" {
		up, err := media.NewS3Uploader(ctx, cfg.Media)
		if err != nil {
			logger.Warn().Err(err).Msg("attachment upload unavailable")
		} else {
			uploader = up
		}
	}

	api := rest.NewClient(cfg.API.BaseURL, *token, cfg.API.Timeout)
	socket := transport.New(cfg.Socket, who.IsAgent(), logger)
	chat := service.New(who, *token, api, socket, uploader, presence.DefaultWindow, logger)
	defer chat.Close()

	socket.OnError(func(message string) {
		fmt.Printf("! %s\n", message)
	})
	socket.OnDisconnected(func() {
		fmt.Println("! disconnected")
	})

	if who.IsAgent() {
		runAgent(ctx, chat)
		return
	}

	sess, err := chat.Open(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open chat")
	}
	fmt.Printf("connected to session %s (status %s)\n", sess.ID, sess.Status)
	runLoop(ctx, chat)
}

func runAgent(ctx context.Context, chat service.ChatService) {
	sessions, err := chat.Sessions(ctx)
	if err != nil {
		logger := log.L()
		logger.Fatal().Err(err).Msg("failed to list sessions")
	}
	printSessions(sessions)
	fmt.Println("use /join <session-id> to pick a conversation")
	runLoop(ctx, chat)
}

func runLoop(ctx context.Context, chat service.ChatService) {
	var printed struct {
		sync.Mutex
		n int
	}

	render := func(messages []domain.Message) {
		printed.Lock()
		defer printed.Unlock()
		if len(messages) < printed.n {
			// Session switched or provisional entries were replaced;
			// repaint from the top.
			printed.n = 0
			fmt.Println("---")
		}
		for _, m := range messages[printed.n:] {
			printMessage(m)
		}
		printed.n = len(messages)
	}

	unsubChange := chat.OnChange(render)
	// unsubChange is reassigned on /join; defer through the variable so
	// the live subscription is the one disposed on exit.
	defer func() { unsubChange() }()
	render(chat.Messages())

	unsubTyping := chat.OnTyping(func(ev domain.UserTypingEvent) {
		if ev.IsTyping {
			fmt.Println("… typing")
		}
	})
	defer unsubTyping()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/read":
			chat.MarkRead(ctx)
		case line == "/sessions":
			sessions, err := chat.Sessions(ctx)
			if err != nil {
				fmt.Printf("! %v\n", err)
				continue
			}
			printSessions(sessions)
		case strings.HasPrefix(line, "/join "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/join "))
			printed.Lock()
			printed.n = 0
			printed.Unlock()
			if err := chat.Select(ctx, id); err != nil {
				fmt.Printf("! %v\n", err)
				continue
			}
			unsubChange()
			unsubChange = chat.OnChange(render)
			render(chat.Messages())
		case strings.HasPrefix(line, "/"):
			fmt.Println("commands: /sessions /join <id> /read /quit")
		default:
			chat.InputActivity()
			if err := chat.Send(ctx, line); err != nil {
				// The provisional entry is already removed; the text
				// stays on screen for the user to resend.
				fmt.Printf("! send failed: %v (message not delivered: %q)\n", err, line)
			}
		}
	}
}

func printMessage(m domain.Message) {
	fmt.Println(formatMessage(m))
}

func formatMessage(m domain.Message) string {
	marker := ""
	if m.IsProvisional() {
		marker = " (sending)"
	}
	body := m.Body
	if m.ImageURL != "" {
		body = strings.TrimSpace(body + " [image] " + m.ImageURL)
	}
	if m.AudioURL != "" {
		body = strings.TrimSpace(body + " [audio] " + m.AudioURL)
	}
	return fmt.Sprintf("[%s] %s: %s%s", m.CreatedAt.Format("15:04"), m.SenderRole, body, marker)
}

func printSessions(sessions []domain.Session) {
	if len(sessions) == 0 {
		fmt.Println("no sessions")
		return
	}
	for _, s := range sessions {
		fmt.Println(formatSession(s))
	}
}

func formatSession(s domain.Session) string {
	last := "-"
	if s.LastMessageAt != nil {
		last = s.LastMessageAt.Format("Jan 2 15:04")
	}
	return fmt.Sprintf("%s  status=%s  last=%s", s.ID, s.Status, last)
}
