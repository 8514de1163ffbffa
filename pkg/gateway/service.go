// Package gateway composes the channel adapters, the message router, and the
// turn orchestrator into one runnable service with explicit startup and
// shutdown, plus a small health/readiness HTTP surface.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"slackclaw/pkg/bus"
	"slackclaw/pkg/channel"
	"slackclaw/pkg/channel/slackws"
	"slackclaw/pkg/channel/telegram"
	"slackclaw/pkg/claude"
	"slackclaw/pkg/config"
	"slackclaw/pkg/mcp"
	"slackclaw/pkg/router"
	"slackclaw/pkg/session"
)

const (
	defaultHealthHost = "0.0.0.0"
	defaultHealthPort = 18790
)

// Channel couples an adapter's inbound side with its outbound Sender.
type Channel interface {
	channel.Adapter
	Sender() channel.Sender
}

type Service struct {
	cfg      *config.Config
	log      *slog.Logger
	route    *router.Router
	sessions *session.Store
	events   *bus.MessageBus
	channels []Channel
	pool     *dispatchPool

	mu            sync.RWMutex
	startedAt     time.Time
	lastTurnOKAt  time.Time
	lastTurnErr   string
	channelStates map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	LastTurnOKAt  string                  `json:"last_turn_ok_at,omitempty"`
	LastTurnErr   string                  `json:"last_turn_error,omitempty"`
	Sessions      int                     `json:"sessions"`
	Channels      map[string]channelState `json:"channels"`
}

// NewService wires the full gateway from configuration: session store,
// manifest resolver, orchestrator, router, and every enabled channel.
func NewService(cfg *config.Config, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = slog.Default()
	}

	sessions := session.NewStore(time.Duration(cfg.Gateway.SessionTTLMinutes) * time.Minute)
	resolver := mcp.NewResolver(cfg.MCP, log)
	runner, err := claude.NewRunner(cfg.Claude, resolver, sessions, log)
	if err != nil {
		sessions.Close()
		return nil, fmt.Errorf("initialize orchestrator: %w", err)
	}

	var channels []Channel
	if cfg.Channels.Slack.Enabled {
		if strings.TrimSpace(cfg.Channels.Slack.AppToken) == "" || strings.TrimSpace(cfg.Channels.Slack.BotToken) == "" {
			sessions.Close()
			return nil, errors.New("channels.slack requires app_token and bot_token")
		}
		channels = append(channels, slackws.New(cfg.Channels.Slack, log))
	}
	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			sessions.Close()
			return nil, err
		}
		channels = append(channels, adapter)
	}
	if len(channels) == 0 {
		sessions.Close()
		return nil, errors.New("no channels enabled")
	}

	events := bus.New()

	return newService(cfg, router.New(runner, events, log), sessions, events, channels, log), nil
}

// newService is the composition point tests drive with fakes.
func newService(cfg *config.Config, route *router.Router, sessions *session.Store, events *bus.MessageBus, channels []Channel, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	channelStates := make(map[string]channelState, len(channels))
	for _, ch := range channels {
		channelStates[ch.Name()] = channelState{}
	}

	return &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		route:         route,
		sessions:      sessions,
		events:        events,
		channels:      channels,
		pool:          newDispatchPool(cfg.Gateway.DispatchWorkers, cfg.Gateway.QueueSize, log),
		channelStates: channelStates,
	}
}

// Run starts everything and blocks until ctx is cancelled or a component
// fails fatally. Shutdown closes the session store and the event bus after
// the workers drain.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.pool.Start(runCtx)
	go s.trackTurnOutcomes(runCtx)

	serverErrors := make(chan error, 1)
	go s.runHealthServer(runCtx, serverErrors)

	errCh := make(chan error, len(s.channels))
	for _, ch := range s.channels {
		ch := ch
		s.setChannelState(ch.Name(), channelState{Running: true})

		go func() {
			err := ch.Run(runCtx, s.dispatchHandler(runCtx, ch.Sender()))
			s.setChannelState(ch.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", ch.Name(), err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErrors:
	case runErr = <-errCh:
	}

	cancel()
	s.pool.Wait()
	s.sessions.Close()
	s.events.Close()

	return runErr
}

// dispatchHandler hands each inbound message to the worker pool so a slow
// turn never stalls a channel's receive loop.
func (s *Service) dispatchHandler(runCtx context.Context, sender channel.Sender) channel.Handler {
	return func(_ context.Context, msg bus.InboundMessage) error {
		ok := s.pool.Submit(func() {
			if err := s.route.Handle(runCtx, msg, sender); err != nil {
				s.log.Error("Message handling failed", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
			}
		})
		if !ok {
			return errors.New("dispatch queue full")
		}

		return nil
	}
}

// trackTurnOutcomes consumes lifecycle events to feed the status endpoint.
func (s *Service) trackTurnOutcomes(ctx context.Context) {
	events, unsubscribe := s.events.SubscribeEvents(ctx, 16)
	defer unsubscribe()

	for event := range events {
		switch event.Type {
		case bus.EventTurnCompleted:
			s.mu.Lock()
			s.lastTurnOKAt = event.At
			s.lastTurnErr = ""
			s.mu.Unlock()
		case bus.EventTurnFailed:
			s.mu.Lock()
			s.lastTurnErr = event.Error
			s.mu.Unlock()
		}
	}
}

func (s *Service) runHealthServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}
	for _, ch := range s.channels {
		state := channels[ch.Name()]
		state.Healthy = ch.Healthy()
		channels[ch.Name()] = state
	}

	lastTurnOK := ""
	if !s.lastTurnOKAt.IsZero() {
		lastTurnOK = s.lastTurnOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		LastTurnOKAt:  lastTurnOK,
		LastTurnErr:   s.lastTurnErr,
		Sessions:      s.sessions.Len(),
		Channels:      channels,
	}
}

// isReady requires at least one channel whose transport is actually
// connected. A supervised adapter that is mid-retry reports Running but not
// Healthy and does not count. Turn failures alone do not flip readiness, the
// next turn may succeed.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.channels {
		if s.channelStates[ch.Name()].Running && ch.Healthy() {
			return true
		}
	}

	return false
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
