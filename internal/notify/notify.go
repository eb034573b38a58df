// Package notify wakes the remote device when a call is placed. The
// mailbox watch only reaches participants whose process is running; a
// push notification gets the app opened on devices that are asleep.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/peerline/peerline/internal/signal"
)

// pushTTL bounds delivery attempts to roughly the ring window; a push
// that arrives later would only wake the device for an expired call.
const pushTTL = 30 * time.Second

// TokenSource resolves a participant id to their device registration
// token. The bool reports whether the participant has one.
type TokenSource interface {
	Token(ctx context.Context, participantID string) (string, bool, error)
}

// StaticTokens is a TokenSource backed by a fixed map, for configurations
// where tokens are provisioned out of band.
type StaticTokens map[string]string

func (s StaticTokens) Token(_ context.Context, participantID string) (string, bool, error) {
	tok, ok := s[participantID]
	return tok, ok, nil
}

// TokenStore is a mutable TokenSource fed by the token registration
// endpoint. Registering an empty token removes the entry.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewTokenStore(seed map[string]string) *TokenStore {
	tokens := make(map[string]string, len(seed))
	for id, tok := range seed {
		tokens[id] = tok
	}
	return &TokenStore{tokens: tokens}
}

func (s *TokenStore) Register(participantID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" {
		delete(s.tokens, participantID)
		return
	}
	s.tokens[participantID] = token
}

func (s *TokenStore) Token(_ context.Context, participantID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[participantID]
	return tok, ok, nil
}

// Config assembles a Notifier.
type Config struct {
	// CredentialsFile is the Firebase service-account JSON. Empty falls
	// back to GOOGLE_APPLICATION_CREDENTIALS or the default account.
	CredentialsFile string
	Tokens          TokenSource
	Logger          *slog.Logger

	// Rate and Burst limit pushes per callee. Zero values default to
	// 1/sec with a burst of 5, enough for redials without letting a
	// misbehaving caller hammer one device.
	Rate  rate.Limit
	Burst int
}

// Notifier sends incoming-call pushes via Firebase Cloud Messaging.
type Notifier struct {
	client *messaging.Client
	tokens TokenSource
	logger *slog.Logger

	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New initialises the Firebase app and messaging client.
func New(ctx context.Context, cfg Config) (*Notifier, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("notify: token source required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining messaging client: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		client:   client,
		tokens:   cfg.Tokens,
		logger:   logger.With("subsystem", "notify"),
		limit:    cfg.Rate,
		burst:    cfg.Burst,
		limiters: make(map[string]*limiterEntry),
	}
	if n.limit <= 0 {
		n.limit = rate.Limit(1)
	}
	if n.burst <= 0 {
		n.burst = 5
	}
	n.logger.Info("push notifier initialised")
	return n, nil
}

// CallPlaced pushes an incoming-call notification to the callee's device.
// Participants without a token are skipped silently; rate-limited and
// failed sends are logged but never fail the call.
func (n *Notifier) CallPlaced(ctx context.Context, sess signal.CallSession) {
	token, ok, err := n.tokens.Token(ctx, sess.CalleeID)
	if err != nil {
		n.logger.Warn("resolving device token", "callee", sess.CalleeID, "error", err)
		return
	}
	if !ok {
		return
	}
	if !n.allow(sess.CalleeID) {
		n.logger.Warn("push rate limit exceeded", "callee", sess.CalleeID)
		return
	}

	ttl := pushTTL
	msg := &messaging.Message{
		Token: token,
		Data: map[string]string{
			"type":            "incoming_call",
			"session_id":      sess.ID,
			"partition_owner": sess.PartitionOwner,
			"caller_id":       sess.CallerID,
			"kind":            string(sess.Kind),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			TTL:      &ttl,
		},
	}

	id, err := n.client.Send(ctx, msg)
	if err != nil {
		if messaging.IsUnregistered(err) {
			n.logger.Warn("device token no longer valid", "callee", sess.CalleeID)
			return
		}
		n.logger.Error("sending push", "callee", sess.CalleeID, "error", err)
		return
	}
	n.logger.Debug("push sent", "message_id", id, "session_id", sess.ID)
}

// allow applies per-callee rate limiting, evicting idle limiters as a
// side effect of new arrivals.
func (n *Notifier) allow(calleeID string) bool {
	n.mu.Lock()
	entry, ok := n.limiters[calleeID]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(n.limit, n.burst)}
		n.limiters[calleeID] = entry

		cutoff := time.Now().Add(-10 * time.Minute)
		for id, e := range n.limiters {
			if e.lastSeen.Before(cutoff) && id != calleeID {
				delete(n.limiters, id)
			}
		}
	}
	entry.lastSeen = time.Now()
	n.mu.Unlock()

	return entry.limiter.Allow()
}
