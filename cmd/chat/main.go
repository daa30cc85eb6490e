// Velocity - terminal chat client
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/velocity-chat/velocity/internal/client"
	"github.com/velocity-chat/velocity/internal/domain"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "velocity-chat",
		Usage: "Chat in a Velocity room from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Server base URL",
				Value:   "http://localhost:8080",
				EnvVars: []string{"VELOCITY_SERVER"},
			},
			&cli.StringFlag{
				Name:     "email",
				Usage:    "Email to log in with",
				Required: true,
				EnvVars:  []string{"VELOCITY_EMAIL"},
			},
			&cli.StringFlag{
				Name:    "mode",
				Usage:   "Sync mode: push or pull",
				Value:   string(client.ModePush),
				EnvVars: []string{"VELOCITY_SYNC_MODE"},
			},
			&cli.StringFlag{
				Name:  "room",
				Usage: "Room to join",
				Value: "general",
			},
			&cli.DurationFlag{
				Name:  "reconnect-delay",
				Usage: "Delay before reconnecting a dropped live session",
			},
			&cli.DurationFlag{
				Name:  "message-interval",
				Usage: "Message poll period in pull mode",
			},
			&cli.DurationFlag{
				Name:  "presence-interval",
				Usage: "Presence poll period in pull mode",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log sync activity to stderr",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level := slog.LevelError
	if c.Bool("verbose") {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cl, err := client.New(client.Options{
		ServerURL:        c.String("server"),
		Mode:             client.Mode(c.String("mode")),
		ReconnectDelay:   c.Duration("reconnect-delay"),
		MessageInterval:  c.Duration("message-interval"),
		PresenceInterval: c.Duration("presence-interval"),
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	user, err := cl.Login(ctx, c.String("email"))
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer func() { _ = cl.Logout() }()
	fmt.Printf("Logged in as %s (%s)\n", user.Name, user.ID)
	printRooms(os.Stdout, cl.Store().State().Rooms)

	r := newRenderer(os.Stdout)
	unsubscribe := cl.Store().Subscribe(r.render)
	defer unsubscribe()

	if err := join(ctx, cl, c.String("room")); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(ctx, cl, line)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, cl *client.Client, line string) (bool, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false, nil
	case line == "/quit":
		return true, nil
	case line == "/rooms":
		if err := cl.SyncRooms(ctx); err != nil {
			return false, err
		}
		printRooms(os.Stdout, cl.Store().State().Rooms)
		return false, nil
	case strings.HasPrefix(line, "/room "):
		return false, join(ctx, cl, strings.TrimSpace(strings.TrimPrefix(line, "/room ")))
	case strings.HasPrefix(line, "/create "):
		rm, err := cl.CreateRoom(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/create ")), domain.RoomPublic)
		if err != nil {
			return false, err
		}
		fmt.Printf("Created %s (%s)\n", rm.Name, rm.ID)
		return false, join(ctx, cl, rm.ID)
	case line == "/typing":
		return false, cl.Typing(ctx)
	}
	_, err := cl.Send(ctx, line)
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return false, fmt.Errorf("message not sent: %s", apiErr.Message)
	}
	return false, err
}

func join(ctx context.Context, cl *client.Client, roomID string) error {
	err := cl.SelectRoom(ctx, roomID)
	switch {
	case errors.Is(err, client.ErrNotLoggedIn), errors.Is(err, client.ErrClosed):
		return fmt.Errorf("join %s: %w", roomID, err)
	case err != nil:
		// Push mode keeps retrying the dial in the background.
		fmt.Printf("Joined %s (offline: %v)\n", roomID, err)
	default:
		fmt.Printf("Joined %s\n", roomID)
	}
	return nil
}

func printRooms(w io.Writer, rooms []domain.Room) {
	for _, rm := range rooms {
		fmt.Fprintf(w, "  #%s  %s  [%s]\n", rm.ID, rm.Name, rm.Type)
	}
}

// renderer prints messages and typing changes once each.
type renderer struct {
	out io.Writer

	mu     sync.Mutex
	seen   map[string]bool
	typing string
	conn   client.ConnStatus
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, seen: make(map[string]bool)}
}

func (r *renderer) render(st client.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st.Conn != r.conn {
		r.conn = st.Conn
		fmt.Fprintf(r.out, "-- %s\n", st.Conn)
	}
	for _, m := range st.RoomMessages(st.ActiveRoom) {
		if client.IsProvisional(m) || r.seen[m.ID] {
			continue
		}
		r.seen[m.ID] = true
		fmt.Fprintf(r.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.SenderName, m.Content)
	}

	var typing []string
	for _, name := range st.Presence[st.ActiveRoom].Typing {
		if st.User == nil || name != st.User.Name {
			typing = append(typing, name)
		}
	}
	if joined := strings.Join(typing, ", "); joined != r.typing {
		r.typing = joined
		if joined != "" {
			fmt.Fprintf(r.out, "-- %s typing...\n", joined)
		}
	}
}
