// Package call runs the call signaling state machine. It only tracks the
// lifecycle of a call; media flows through an external room identified by
// the session's room token.
package call

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/umar/rental-chat/internal/keylock"
	"github.com/umar/rental-chat/internal/models"
	"github.com/umar/rental-chat/internal/protocol"
)

const DefaultRingTimeout = 45 * time.Second

const notifyTimeout = 5 * time.Second

type ChatLookup interface {
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
}

type Emitter interface {
	EmitToUser(userID, event string, payload interface{}) int
}

type Notifier interface {
	Notify(ctx context.Context, userID string, typ models.NotificationType, message string, ref *string) (*models.Notification, error)
}

type session struct {
	models.CallSession

	ringing  chan struct{}
	stopOnce sync.Once
}

// stopRinging cancels the ringing timer. Safe to call more than once.
func (s *session) stopRinging() {
	s.stopOnce.Do(func() { close(s.ringing) })
}

// Service holds at most one session per chat. Transitions for a chat are
// linearized by a per-chat lock; the session map itself has its own mutex
// so lookups never wait on a transition in another chat.
type Service struct {
	chats    ChatLookup
	hub      Emitter
	notifier Notifier

	ringTimeout time.Duration
	newToken    func() string

	locks *keylock.Locker

	mu       sync.Mutex
	sessions map[string]*session

	timers sync.WaitGroup
}

type Option func(*Service)

func WithRingTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ringTimeout = d
		}
	}
}

// WithMissedCallNotifier records a MISSED_CALL notification for receivers
// who never picked up.
func WithMissedCallNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithRoomTokens(gen func() string) Option {
	return func(s *Service) { s.newToken = gen }
}

func New(chats ChatLookup, hub Emitter, opts ...Option) *Service {
	s := &Service{
		chats:       chats,
		hub:         hub,
		ringTimeout: DefaultRingTimeout,
		newToken:    uuid.NewString,
		locks:       keylock.New(),
		sessions:    make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initiate starts ringing receiverID. It fails with ErrReceiverUnreachable,
// without creating a session, when the receiver has no live connection.
func (s *Service) Initiate(ctx context.Context, chatID, callerID, receiverID string) (*models.CallSession, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(callerID) {
		return nil, models.ErrForbidden
	}
	if chat.Peer(callerID) != receiverID {
		return nil, models.ErrInvalidParticipants
	}

	unlock := s.locks.Lock(chatID)
	defer unlock()

	if existing := s.get(chatID); existing != nil {
		s.resync(chatID, callerID)
		return nil, models.ErrCallAlreadyInProgress
	}

	sess := &session{
		CallSession: models.CallSession{
			ChatID:     chatID,
			CallerID:   callerID,
			ReceiverID: receiverID,
			RoomToken:  s.newToken(),
			State:      models.CallRinging,
			StartedAt:  time.Now().UTC(),
		},
		ringing: make(chan struct{}),
	}

	if s.hub.EmitToUser(receiverID, protocol.EventIncomingCall, protocol.NewCallPayload(sess.CallSession, "")) == 0 {
		s.hub.EmitToUser(callerID, protocol.EventCallRejected, protocol.NewCallPayload(sess.CallSession, protocol.ReasonUnreachable))
		s.notifyMissed(sess.CallSession)
		return nil, models.ErrReceiverUnreachable
	}

	s.mu.Lock()
	s.sessions[chatID] = sess
	s.mu.Unlock()

	s.timers.Add(1)
	go s.watch(sess)

	s.hub.EmitToUser(callerID, protocol.EventCallState, stateOf(sess))
	slog.Info("call ringing", "chat_id", chatID, "caller_id", callerID, "receiver_id", receiverID)

	out := sess.CallSession
	return &out, nil
}

func (s *Service) Accept(ctx context.Context, chatID, receiverID string) (*models.CallSession, error) {
	unlock := s.locks.Lock(chatID)
	defer unlock()

	sess := s.get(chatID)
	if sess == nil || sess.State != models.CallRinging || sess.ReceiverID != receiverID {
		s.resync(chatID, receiverID)
		return nil, models.ErrInvalidState
	}

	s.mu.Lock()
	sess.State = models.CallActive
	out := sess.CallSession
	s.mu.Unlock()
	sess.stopRinging()

	s.hub.EmitToUser(sess.CallerID, protocol.EventCallAccepted, protocol.NewCallPayload(out, ""))
	// The receiver's other devices stop ringing.
	s.hub.EmitToUser(receiverID, protocol.EventCallState, stateOf(sess))
	slog.Info("call accepted", "chat_id", chatID)
	return &out, nil
}

func (s *Service) Reject(ctx context.Context, chatID, receiverID string) error {
	unlock := s.locks.Lock(chatID)
	defer unlock()

	sess := s.get(chatID)
	if sess == nil || sess.State != models.CallRinging || sess.ReceiverID != receiverID {
		s.resync(chatID, receiverID)
		return models.ErrInvalidState
	}
	s.remove(sess)

	s.hub.EmitToUser(sess.CallerID, protocol.EventCallRejected, protocol.NewCallPayload(sess.CallSession, protocol.ReasonRejected))
	s.hub.EmitToUser(receiverID, protocol.EventCallState, idle(chatID))
	slog.Info("call rejected", "chat_id", chatID)
	return nil
}

// End hangs up a ringing or active call. Either participant may end it.
func (s *Service) End(ctx context.Context, chatID, actorID string) error {
	unlock := s.locks.Lock(chatID)
	defer unlock()

	sess := s.get(chatID)
	if sess == nil || !sess.Involves(actorID) {
		s.resync(chatID, actorID)
		return models.ErrInvalidState
	}
	s.remove(sess)

	s.hub.EmitToUser(sess.Other(actorID), protocol.EventCallEnded, protocol.NewCallPayload(sess.CallSession, protocol.ReasonHangup))
	s.hub.EmitToUser(actorID, protocol.EventCallState, idle(chatID))
	if sess.State == models.CallRinging && actorID == sess.CallerID {
		s.notifyMissed(sess.CallSession)
	}
	slog.Info("call ended", "chat_id", chatID, "by", actorID)
	return nil
}

// State returns a copy of the chat's session, if any.
func (s *Service) State(chatID string) (models.CallSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[chatID]
	if !ok {
		return models.CallSession{ChatID: chatID, State: models.CallIdle}, false
	}
	return sess.CallSession, true
}

// HandleDisconnect ends every call userID takes part in. It is called
// once the user's last connection has gone away.
func (s *Service) HandleDisconnect(userID string) {
	s.mu.Lock()
	var chatIDs []string
	for id, sess := range s.sessions {
		if sess.Involves(userID) {
			chatIDs = append(chatIDs, id)
		}
	}
	s.mu.Unlock()

	for _, chatID := range chatIDs {
		s.dropFor(chatID, userID)
	}
}

func (s *Service) dropFor(chatID, userID string) {
	unlock := s.locks.Lock(chatID)
	defer unlock()

	sess := s.get(chatID)
	if sess == nil || !sess.Involves(userID) {
		return
	}
	s.remove(sess)
	s.hub.EmitToUser(sess.Other(userID), protocol.EventCallEnded, protocol.NewCallPayload(sess.CallSession, protocol.ReasonDisconnected))
	if sess.State == models.CallRinging && userID == sess.CallerID {
		s.notifyMissed(sess.CallSession)
	}
	slog.Info("call dropped", "chat_id", chatID, "user_id", userID)
}

// Shutdown stops every ringing timer and waits for them to exit.
// Sessions are discarded without notifying anyone.
func (s *Service) Shutdown() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.stopRinging()
	}
	s.timers.Wait()
}

func (s *Service) watch(sess *session) {
	defer s.timers.Done()

	timer := time.NewTimer(s.ringTimeout)
	defer timer.Stop()

	select {
	case <-sess.ringing:
	case <-timer.C:
		s.expire(sess)
	}
}

func (s *Service) expire(sess *session) {
	unlock := s.locks.Lock(sess.ChatID)
	defer unlock()

	// The session may have been answered or replaced while we waited for
	// the lock.
	if s.get(sess.ChatID) != sess || sess.State != models.CallRinging {
		return
	}
	s.remove(sess)

	payload := protocol.NewCallPayload(sess.CallSession, protocol.ReasonTimeout)
	s.hub.EmitToUser(sess.CallerID, protocol.EventCallRejected, payload)
	s.hub.EmitToUser(sess.ReceiverID, protocol.EventCallRejected, payload)
	s.notifyMissed(sess.CallSession)
	slog.Info("call timed out", "chat_id", sess.ChatID)
}

func (s *Service) get(chatID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[chatID]
}

func (s *Service) remove(sess *session) {
	s.mu.Lock()
	if s.sessions[sess.ChatID] == sess {
		delete(s.sessions, sess.ChatID)
	}
	s.mu.Unlock()
	sess.stopRinging()
}

// resync tells the actor, and both participants of a live session, what
// the authoritative state is after a rejected transition.
func (s *Service) resync(chatID, actorID string) {
	sess := s.get(chatID)
	if sess == nil {
		s.hub.EmitToUser(actorID, protocol.EventCallState, idle(chatID))
		return
	}
	state := stateOf(sess)
	s.hub.EmitToUser(sess.CallerID, protocol.EventCallState, state)
	s.hub.EmitToUser(sess.ReceiverID, protocol.EventCallState, state)
	if !sess.Involves(actorID) {
		s.hub.EmitToUser(actorID, protocol.EventCallState, protocol.CallStatePayload{ChatID: chatID, State: state.State})
	}
}

func (s *Service) notifyMissed(cs models.CallSession) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	ref := cs.ChatID
	if _, err := s.notifier.Notify(ctx, cs.ReceiverID, models.NotificationMissedCall, "You missed a call", &ref); err != nil {
		slog.Error("failed to record missed call", "chat_id", cs.ChatID, "user_id", cs.ReceiverID, "error", err)
	}
}

func stateOf(sess *session) protocol.CallStatePayload {
	return protocol.CallStatePayload{
		ChatID:     sess.ChatID,
		State:      sess.State,
		CallerID:   sess.CallerID,
		ReceiverID: sess.ReceiverID,
		RoomToken:  sess.RoomToken,
	}
}

func idle(chatID string) protocol.CallStatePayload {
	return protocol.CallStatePayload{ChatID: chatID, State: models.CallIdle}
}
