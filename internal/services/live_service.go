package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/charlesng35/marketlive/internal/chat"
	"github.com/charlesng35/marketlive/internal/clientstate"
	"github.com/charlesng35/marketlive/internal/notifications"
	"github.com/charlesng35/marketlive/internal/realtime"
	"github.com/charlesng35/marketlive/internal/transport"
	apperrors "github.com/charlesng35/marketlive/pkg/errors"
	"github.com/charlesng35/marketlive/pkg/logger"
)

// Realtime channels opened per signed-in session.
const (
	ChannelNotifications = "notifications"
	ChannelChat          = "chat"
)

// StateOff is reported for channels that are not configured.
const StateOff transport.State = "off"

// Realtime is the subset of transport.Adapter used by the service.
type Realtime interface {
	Connect(ctx context.Context) error
	Send(destination string, body []byte, headers map[string]string) error
	Close()
	State() transport.State
	Done() <-chan struct{}
}

// AdapterFactory builds a fresh adapter for a channel. Adapters allow a single connection
// attempt, so a new one is built for every sign-in.
type AdapterFactory func(channel string, handler transport.Handler) (Realtime, error)

// Broadcaster forwards events to local subscribers.
type Broadcaster interface {
	Publish(stream, event string, data any)
}

// LiveConfig bundles LiveService dependencies.
type LiveConfig struct {
	State         *clientstate.State
	Notifications *notifications.Store
	Chat          *chat.Session
	Hub           Broadcaster
	Factory       AdapterFactory
}

// LiveService ties the persisted session to the notification store, chat session and
// realtime adapters.
type LiveService struct {
	state         *clientstate.State
	notifications *notifications.Store
	chat          *chat.Session
	hub           Broadcaster
	factory       AdapterFactory
	log           *zap.Logger

	// lifecycle serialises Start, SignIn, SignOut and Close so only one adapter pair exists.
	lifecycle sync.Mutex

	mu       sync.Mutex
	adapters map[string]Realtime
	unsubs   []func()
}

// TransportStatus is reported by the health endpoint.
type TransportStatus map[string]transport.State

// NewLiveService validates dependencies. A nil factory disables realtime entirely.
func NewLiveService(cfg LiveConfig) (*LiveService, error) {
	if cfg.State == nil {
		return nil, errors.New("live service: client state is required")
	}
	if cfg.Notifications == nil {
		return nil, errors.New("live service: notification store is required")
	}
	if cfg.Chat == nil {
		return nil, errors.New("live service: chat session is required")
	}
	return &LiveService{
		state:         cfg.State,
		notifications: cfg.Notifications,
		chat:          cfg.Chat,
		hub:           cfg.Hub,
		factory:       cfg.Factory,
		log:           logger.WithModule("live"),
		adapters:      make(map[string]Realtime),
	}, nil
}

// Start forwards store events to the hub and, when a token is already stored, loads data
// and opens the realtime channels.
func (s *LiveService) Start(ctx context.Context) error {
	ctx = ensureContext(ctx)

	if s.hub != nil {
		s.mu.Lock()
		s.unsubs = append(s.unsubs,
			s.notifications.Subscribe(func(e notifications.Event) {
				s.hub.Publish(realtime.StreamNotifications, e.Kind, e)
			}),
			s.chat.Subscribe(func(e chat.Event) {
				s.hub.Publish(realtime.StreamChat, e.Kind, e)
			}),
		)
		s.mu.Unlock()
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	token, err := s.state.AccessToken(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		s.log.Info("no stored session, waiting for sign-in")
		return nil
	}
	s.activate(ctx)
	return nil
}

// SignIn replaces the stored session with token and user, then loads data and opens the
// realtime channels. Without a user blob the previous identity is dropped, not reused.
func (s *LiveService) SignIn(ctx context.Context, token string, user json.RawMessage) (clientstate.Snapshot, error) {
	ctx = ensureContext(ctx)
	token = strings.TrimSpace(token)
	if token == "" {
		return clientstate.Snapshot{}, apperrors.NewBadRequest("access token is required")
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.closeAdapters()
	s.chat.SetPublisher(nil)
	s.notifications.Reset()
	s.chat.Reset()

	if err := s.state.Clear(ctx); err != nil {
		return clientstate.Snapshot{}, err
	}
	if err := s.state.SetAccessToken(ctx, token); err != nil {
		return clientstate.Snapshot{}, err
	}
	if len(user) > 0 && string(user) != "null" {
		if _, err := s.state.SetUser(ctx, user); err != nil {
			return clientstate.Snapshot{}, apperrors.NewBadRequest("user must be a JSON object").WithInternal(err)
		}
	}

	s.activate(ctx)
	return s.state.Snapshot(ctx)
}

// SignOut closes the realtime channels, clears the persisted state and resets the stores.
func (s *LiveService) SignOut(ctx context.Context) error {
	ctx = ensureContext(ctx)
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.closeAdapters()
	s.chat.SetPublisher(nil)

	err := s.state.Clear(ctx)
	s.notifications.Reset()
	s.chat.Reset()
	s.publishStatus()
	return err
}

// Snapshot returns the persisted session view.
func (s *LiveService) Snapshot(ctx context.Context) (clientstate.Snapshot, error) {
	return s.state.Snapshot(ensureContext(ctx))
}

// Status reports the state of every realtime channel.
func (s *LiveService) Status() TransportStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := TransportStatus{ChannelNotifications: StateOff, ChannelChat: StateOff}
	if s.factory == nil {
		return status
	}
	for _, channel := range []string{ChannelNotifications, ChannelChat} {
		if adapter, ok := s.adapters[channel]; ok {
			status[channel] = adapter.State()
		} else {
			status[channel] = transport.StateIdle
		}
	}
	return status
}

// Close releases adapters and subscriptions.
func (s *LiveService) Close() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.closeAdapters()

	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
}

func (s *LiveService) activate(ctx context.Context) {
	if err := s.notifications.Load(ctx); err != nil {
		s.log.Warn("initial notification load failed", zap.Error(err))
	}
	if err := s.chat.LoadConversations(ctx); err != nil {
		s.log.Warn("initial conversation load failed", zap.Error(err))
	}
	s.connect(ctx)
}

func (s *LiveService) connect(ctx context.Context) {
	if s.factory == nil {
		return
	}

	handlers := map[string]transport.Handler{
		ChannelNotifications: func(msg transport.Message) {
			if err := s.notifications.HandlePush(msg.Body); err != nil {
				s.log.Debug("notification push rejected", zap.Error(err))
			}
		},
		ChannelChat: func(msg transport.Message) {
			if err := s.chat.HandlePush(context.Background(), msg.Body); err != nil {
				s.log.Debug("chat push rejected", zap.Error(err))
			}
		},
	}

	for _, channel := range []string{ChannelNotifications, ChannelChat} {
		adapter, err := s.factory(channel, handlers[channel])
		if err != nil {
			s.log.Warn("realtime adapter unavailable", zap.String("channel", channel), zap.Error(err))
			continue
		}

		s.mu.Lock()
		previous := s.adapters[channel]
		s.adapters[channel] = adapter
		s.mu.Unlock()
		if previous != nil {
			previous.Close()
		}

		if err := adapter.Connect(ctx); err != nil {
			s.log.Warn("realtime connection failed, relying on polling",
				zap.String("channel", channel), zap.Error(err))
		} else if channel == ChannelChat {
			s.chat.SetPublisher(adapter)
		}
		go s.watch(adapter)
	}
	s.publishStatus()
}

func (s *LiveService) watch(adapter Realtime) {
	<-adapter.Done()
	s.publishStatus()
}

func (s *LiveService) closeAdapters() {
	s.mu.Lock()
	adapters := s.adapters
	s.adapters = make(map[string]Realtime)
	s.mu.Unlock()

	for _, adapter := range adapters {
		adapter.Close()
	}
}

func (s *LiveService) publishStatus() {
	if s.hub == nil {
		return
	}
	s.hub.Publish(realtime.StreamTransport, "transport.status", s.Status())
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
