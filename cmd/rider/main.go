package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-session/internal/chat"
	"github.com/example/ride-session/internal/config"
	"github.com/example/ride-session/internal/credential"
	"github.com/example/ride-session/internal/events"
	"github.com/example/ride-session/internal/location"
	"github.com/example/ride-session/internal/logging"
	"github.com/example/ride-session/internal/matchapi"
	"github.com/example/ride-session/internal/matching"
	"github.com/example/ride-session/internal/models"
	"github.com/example/ride-session/internal/session"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadClientConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	var (
		name = flag.String("name", "", "user name for a devserver-issued token when ACCESS_TOKEN is empty")
		role = flag.String("role", string(models.RolePassenger), "passenger or driver, used with -name")
		lat  = flag.Float64("lat", 0, "driver latitude shared with the passenger")
		lon  = flag.Float64("lon", 0, "driver longitude shared with the passenger")
	)
	flag.StringVar(&cfg.AccessToken, "token", cfg.AccessToken, "bearer access token")
	flag.Parse()

	// stdout carries the conversation.
	logger := logging.NewLoggerTo(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.AccessToken == "" && *name != "" {
		cfg.AccessToken, err = issueDevToken(ctx, cfg.APIBaseURL, models.Identity{Name: *name, Role: models.Role(*role)})
		if err != nil {
			logger.Error("token request failed", "error", err)
			os.Exit(1)
		}
	}
	self, err := credential.IdentityFromToken(cfg.AccessToken)
	if err != nil {
		logger.Error("no usable access token; set ACCESS_TOKEN or pass -name", "error", err)
		os.Exit(1)
	}
	tokens := credential.NewStore(cfg.AccessToken)

	pricing := matching.DefaultPricing()
	if cfg.PricingFile != "" {
		if pricing, err = matching.LoadPricing(cfg.PricingFile); err != nil {
			logger.Error("load pricing", "file", cfg.PricingFile, "error", err)
			os.Exit(1)
		}
	}

	var logs chat.LogStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable; chat log kept in memory", "addr", cfg.RedisAddr, "error", err)
		} else {
			logs = chat.NewRedisLogStore(rdb, cfg.ChatLogPrefix, cfg.ChatLogTTL)
		}
	}

	var sink matching.TransitionSink
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		sink = kp
	}

	var estimator location.Estimator
	if cfg.OSRMURL != "" {
		estimator = &location.CachedEstimator{
			Next:  location.NewOSRMClient(cfg.OSRMURL),
			Cache: location.NewCache(30 * time.Second),
			Speed: 8,
		}
	}

	var device location.DeviceLocator
	if self.Role == models.RoleDriver && (*lat != 0 || *lon != 0) {
		pos := models.Coord{Lat: *lat, Lon: *lon}
		device = location.DeviceFunc(func() (models.Coord, bool) { return pos, true })
	}

	presenter := &stdoutPresenter{out: os.Stdout}
	ctrl := session.New(session.Options{
		Self:           self,
		API:            matchapi.NewClient(cfg.APIBaseURL, tokens, cfg.RequestTimeout),
		Tokens:         tokens,
		ChatURL:        cfg.ChatURL(),
		Dialer:         chat.WSDialer{HandshakeTimeout: cfg.DialTimeout},
		Logs:           logs,
		Pricing:        pricing,
		Device:         device,
		Estimator:      estimator,
		Sink:           sink,
		PollInterval:   cfg.StatusPollInterval,
		RequestTimeout: cfg.RequestTimeout,
		SendBuffer:     cfg.SendBuffer,
		Presenter:      presenter,
		Logger:         logger,
	})
	defer ctrl.Close()

	go feedMessages(ctx, ctrl, newMessageFeed(self.Name, os.Stdout))

	fmt.Printf("signed in as %s (%s); type help for commands\n", self.Name, self.Role)
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
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
			cmdCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
			err := runCommand(cmdCtx, ctrl, line, os.Stdout)
			cancel()
			if errors.Is(err, errQuit) {
				return
			}
			if err != nil {
				presenter.ShowError(err.Error())
			}
		}
	}
}

func feedMessages(ctx context.Context, c *session.Controller, feed *messageFeed) {
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			feed.print(c.Messages())
		}
	}
}

// issueDevToken asks a devserver to mint a token for id.
func issueDevToken(ctx context.Context, baseURL string, id models.Identity) (string, error) {
	body, err := json.Marshal(id)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/v1/tokens", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint: status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}
