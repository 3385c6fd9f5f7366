package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mdchat/backend/internal/metrics"
	"github.com/zhouzirui/mdchat/backend/internal/model/chat"
)

const (
	DefaultMaxDuration = 30 * time.Second
	DefaultSessionTTL  = 2 * time.Hour
)

// ErrCompleterUnavailable is returned by Submit when no model is configured.
var ErrCompleterUnavailable = chat.ErrUnavailable

// Completer opens a token stream for the given conversation history.
type Completer interface {
	Stream(ctx context.Context, history []chat.Message) (*schema.StreamReader[*schema.Message], error)
}

// EventType names the stages of a streamed reply.
type EventType string

const (
	EventStart EventType = "start"
	EventDelta EventType = "delta"
	EventEnd   EventType = "end"
	EventError EventType = "error"
)

// Event is emitted by Submit as the reply progresses. Message carries the user
// message for start and the assistant message snapshot for delta and end.
type Event struct {
	Type      EventType
	SessionID string
	Message   chat.Message
	Chunk     string
	Err       error
}

// Snapshot is a point-in-time view of one session.
type Snapshot struct {
	Session  chat.Session   `json:"session"`
	State    chat.State     `json:"state"`
	Error    string         `json:"error,omitempty"`
	Messages []chat.Message `json:"messages"`
}

type entry struct {
	session chat.Session
	conv    *Conversation
	cancel  context.CancelFunc
	// gen identifies the request that owns cancel.
	gen uint64
}

// Service keeps one conversation per session in memory and drives requests to
// the completion endpoint.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	completer   Completer
	maxDuration time.Duration
	sessionTTL  time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithMaxDuration bounds the total duration of each request.
func WithMaxDuration(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.maxDuration = d
		}
	}
}

// WithSessionTTL sets how long an idle session is kept.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sessionTTL = d
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService bootstraps the in-memory chat service. completer may be nil, in
// which case sessions work but Submit fails with ErrCompleterUnavailable.
func NewService(completer Completer, opts ...Option) *Service {
	s := &Service{
		sessions:    make(map[string]*entry),
		completer:   completer,
		maxDuration: DefaultMaxDuration,
		sessionTTL:  DefaultSessionTTL,
		logger:      zerolog.Nop(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether a completion endpoint is configured.
func (s *Service) Available() bool {
	return s.completer != nil
}

// Count returns the number of live sessions.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CreateSession provisions an empty conversation.
func (s *Service) CreateSession(_ context.Context) (chat.Session, error) {
	now := s.now()
	session := chat.Session{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		LastActive: now,
	}

	s.mu.Lock()
	s.sessions[session.ID] = &entry{session: session, conv: NewConversation()}
	count := len(s.sessions)
	s.mu.Unlock()

	metrics.SessionsActive.Set(float64(count))
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, chat.ErrSessionNotFound
	}
	return e.session, nil
}

// LoadTranscript returns the messages of the provided session.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return e.conv.Messages(), nil
}

// Snapshot returns state, last error and messages of a session.
func (s *Service) Snapshot(_ context.Context, sessionID string) (Snapshot, error) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	var session chat.Session
	if ok {
		session = e.session
	}
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, chat.ErrSessionNotFound
	}

	snap := Snapshot{
		Session:  session,
		State:    e.conv.State(),
		Messages: e.conv.Messages(),
	}
	if err := e.conv.Err(); err != nil {
		snap.Error = chat.DisplayError(err)
	}
	return snap, nil
}

// DeleteSession tears a session down, cancelling its in-flight request.
func (s *Service) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	var cancel context.CancelFunc
	if ok {
		cancel = e.cancel
		delete(s.sessions, sessionID)
	}
	count := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return chat.ErrSessionNotFound
	}

	e.conv.Close()
	if cancel != nil {
		cancel()
	}
	metrics.SessionsActive.Set(float64(count))
	return nil
}

// Submit appends userText to the session and streams the reply, calling emit
// for every event in arrival order. It blocks until the stream finishes, fails
// or ctx is cancelled. Failures after the user message was accepted are also
// recorded on the conversation.
func (s *Service) Submit(ctx context.Context, sessionID, userText string, emit func(Event)) error {
	if emit == nil {
		emit = func(Event) {}
	}

	e, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	if s.completer == nil {
		return ErrCompleterUnavailable
	}

	history, err := e.conv.Submit(userText)
	if err != nil {
		if errors.Is(err, chat.ErrRequestInFlight) {
			metrics.ChatRequests.WithLabelValues("rejected").Inc()
		}
		return err
	}
	s.touch(sessionID)

	emit(Event{Type: EventStart, SessionID: sessionID, Message: history[len(history)-1]})

	reqCtx, cancel := context.WithTimeout(ctx, s.maxDuration)
	defer cancel()
	gen, ok := s.setCancel(sessionID, cancel)
	if !ok {
		// deleted between Submit and here
		return context.Canceled
	}
	defer s.clearCancel(sessionID, gen)

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	start := time.Now()
	err = s.stream(reqCtx, e.conv, sessionID, history, emit)
	metrics.StreamDuration.Observe(time.Since(start).Seconds())
	metrics.ChatRequests.WithLabelValues(outcome(err)).Inc()

	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("chat request failed")
	} else {
		s.logger.Info().Str("session_id", sessionID).Dur("duration", time.Since(start)).Msg("chat request completed")
	}
	return err
}

func (s *Service) stream(ctx context.Context, conv *Conversation, sessionID string, history []chat.Message, emit func(Event)) error {
	reader, err := s.completer.Stream(ctx, history)
	if err != nil {
		return s.fail(conv, sessionID, s.classifyOpen(ctx, err), emit)
	}
	defer reader.Close()

	for {
		chunk, recvErr := reader.Recv()
		if errors.Is(recvErr, io.EOF) {
			if msg, ok := conv.OnStreamEnd(); ok {
				emit(Event{Type: EventEnd, SessionID: sessionID, Message: msg})
			}
			return nil
		}
		if recvErr != nil {
			return s.fail(conv, sessionID, s.classifyRecv(ctx, recvErr), emit)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}

		msg, ok := conv.OnToken(chunk.Content)
		if !ok {
			return context.Canceled
		}
		metrics.StreamedTokens.Inc()
		emit(Event{Type: EventDelta, SessionID: sessionID, Message: msg, Chunk: chunk.Content})
	}
}

func (s *Service) fail(conv *Conversation, sessionID string, err error, emit func(Event)) error {
	if conv.OnStreamError(err) {
		var msg chat.Message
		if messages := conv.Messages(); len(messages) > 0 {
			msg = messages[len(messages)-1]
		}
		emit(Event{Type: EventError, SessionID: sessionID, Message: msg, Err: err})
	}
	return err
}

func (s *Service) classifyOpen(ctx context.Context, err error) error {
	if timeout := s.timeoutFrom(ctx, err); timeout != nil {
		return timeout
	}
	var transport *chat.TransportError
	if errors.As(err, &transport) {
		return err
	}
	return &chat.TransportError{Err: err}
}

func (s *Service) classifyRecv(ctx context.Context, err error) error {
	if timeout := s.timeoutFrom(ctx, err); timeout != nil {
		return timeout
	}
	var stream *chat.StreamError
	if errors.As(err, &stream) {
		return err
	}
	return &chat.StreamError{Err: err}
}

func (s *Service) timeoutFrom(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &chat.TimeoutError{Limit: s.maxDuration}
	}
	return nil
}

// Expire removes sessions idle for longer than the session TTL and returns
// how many were dropped. Sessions with an open request are kept.
func (s *Service) Expire(now time.Time) int {
	cutoff := now.Add(-s.sessionTTL)

	s.mu.Lock()
	var expired []*entry
	for id, e := range s.sessions {
		if e.session.LastActive.Before(cutoff) && !e.conv.State().InFlight() {
			expired = append(expired, e)
			delete(s.sessions, id)
		}
	}
	count := len(s.sessions)
	s.mu.Unlock()

	for _, e := range expired {
		e.conv.Close()
	}
	metrics.SessionsActive.Set(float64(count))
	return len(expired)
}

// RunJanitor expires idle sessions every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Expire(s.now()); n > 0 {
				s.logger.Info().Int("expired", n).Msg("dropped idle sessions")
			}
		}
	}
}

func (s *Service) lookup(sessionID string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return nil, chat.ErrSessionNotFound
	}
	return e, nil
}

func (s *Service) touch(sessionID string) {
	s.mu.Lock()
	if e, ok := s.sessions[sessionID]; ok {
		e.session.LastActive = s.now()
	}
	s.mu.Unlock()
}

// setCancel registers cancel for a new request and returns its generation.
func (s *Service) setCancel(sessionID string, cancel context.CancelFunc) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return 0, false
	}
	e.gen++
	e.cancel = cancel
	return e.gen, true
}

// clearCancel drops the cancel func unless a later request already replaced it.
func (s *Service) clearCancel(sessionID string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[sessionID]; ok && e.gen == gen {
		e.cancel = nil
	}
}

func outcome(err error) string {
	var transport *chat.TransportError
	var stream *chat.StreamError
	var timeout *chat.TimeoutError
	switch {
	case err == nil:
		return "complete"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &transport):
		return "transport_error"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &stream):
		return "stream_error"
	default:
		return "error"
	}
}
