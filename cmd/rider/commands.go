package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/example/ride-session/internal/models"
	"github.com/example/ride-session/internal/session"
)

var errQuit = errors.New("quit")

const helpText = `commands:
  stations                  list stations
  request <origin> <dest>   request a match between two station ids
  cancel                    cancel a pending request
  status                    show the session
  agree                     agree to start the ride
  complete                  complete the ride
  say <text>                send a chat message
  log                       print the room's chat log
  who                       list room participants
  sync                      refresh the log and participants from the server
  where                     driver distance and ETA to pickup
  enter | exit              reconnect to / step out of the chat room
  leave                     leave the ride
  rate <1-5>                rate the driver after completion
  ok                        acknowledge the settlement
  quit`

// runCommand executes one input line against the controller.
func runCommand(ctx context.Context, c *session.Controller, line string, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "help", "?":
		fmt.Fprintln(out, helpText)
	case "quit", "q":
		return errQuit
	case "stations":
		for _, s := range c.Machine().Pricing().Stations {
			fmt.Fprintf(out, "  %d  %s\n", s.ID, s.Name)
		}
	case "request":
		if len(args) != 2 {
			return errors.New("usage: request <origin> <dest>")
		}
		origin, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("origin: %w", err)
		}
		dest, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("dest: %w", err)
		}
		return c.RequestMatch(ctx, origin, dest)
	case "cancel":
		return c.Cancel(ctx)
	case "status":
		s := c.Session()
		fmt.Fprintf(out, "  %s key=%s ride=%d points=%d chat=%v\n", s.Status, s.Key, s.RideRequestID, s.Points, c.Chat().IsConnected())
	case "agree":
		return c.AgreeToStart(ctx)
	case "complete":
		return c.CompleteRide(ctx)
	case "say":
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
		if text == "" {
			return errors.New("usage: say <text>")
		}
		_, err := c.Send(text)
		return err
	case "log":
		for _, m := range c.Messages() {
			fmt.Fprintln(out, formatMessage(m))
		}
	case "who":
		for _, p := range c.Chat().Participants() {
			fmt.Fprintf(out, "  %s (%s)\n", p.Name, p.Role)
		}
	case "sync":
		if err := c.Chat().RequestMessageLog(); err != nil {
			return err
		}
		return c.Chat().RequestUserList()
	case "where":
		prox, ok := c.DriverProximity()
		if !ok {
			fmt.Fprintln(out, "  driver position unknown")
			return nil
		}
		age := time.Since(c.Relay().UpdatedAt()).Round(time.Second)
		fmt.Fprintf(out, "  driver is %.0fm away, about %s (seen %s ago)\n", prox.DistanceMeters, (time.Duration(prox.ETASeconds) * time.Second).Round(time.Second), age)
	case "enter":
		return c.EnterRoom(ctx)
	case "exit":
		c.ExitRoom()
	case "leave":
		return c.Leave(ctx)
	case "rate":
		if len(args) != 1 {
			return errors.New("usage: rate <1-5>")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("rating: %w", err)
		}
		return c.SubmitRating(ctx, n)
	case "ok":
		return c.Acknowledge()
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}

func formatMessage(m models.ChatMessage) string {
	if m.IsSystem() {
		return fmt.Sprintf("  [%s] * %s", m.SentAt.Format("15:04"), m.Body)
	}
	return fmt.Sprintf("  [%s] %s: %s", m.SentAt.Format("15:04"), m.Sender, m.Body)
}

// messageFeed prints chat messages that were not printed before.
type messageFeed struct {
	mu   sync.Mutex
	self string
	seen map[string]struct{}
	out  io.Writer
}

func newMessageFeed(self string, out io.Writer) *messageFeed {
	return &messageFeed{self: self, seen: make(map[string]struct{}), out: out}
}

func (f *messageFeed) print(msgs []models.ChatMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		key := m.Sender + "|" + m.Body + "|" + m.SentAt.Format(time.RFC3339Nano)
		if _, ok := f.seen[key]; ok {
			continue
		}
		f.seen[key] = struct{}{}
		if m.Sender == f.self {
			continue
		}
		fmt.Fprintln(f.out, formatMessage(m))
	}
}

// stdoutPresenter renders navigation and prompts as text.
type stdoutPresenter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *stdoutPresenter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *stdoutPresenter) NavigateToChat(id int64) {
	p.printf("matched on ride request %d, chat room open (say <text>)", id)
}

func (p *stdoutPresenter) NavigateHome(reason string) { p.printf("back home: %s", reason) }

func (p *stdoutPresenter) ShowRatingPrompt(id int64) {
	p.printf("ride %d completed, rate your driver with: rate <1-5>", id)
}

func (p *stdoutPresenter) ShowSettlement(id int64, points int) {
	p.printf("ride %d completed, you earned %d points (ok to continue)", id, points)
}

func (p *stdoutPresenter) ShowError(msg string) { p.printf("error: %s", msg) }
