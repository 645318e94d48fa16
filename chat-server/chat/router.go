package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

const commandBufferSize = 256

// Sink is the outbound side of one connection. Send must not block.
type Sink interface {
	ID() string
	Send(Event)
	Close()
}

// State is the lifecycle of one connection as seen by the router.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

type session struct {
	sink Sink
	// next history page served when a request omits the page
	nextPage int
}

// Router is the single writer of the registry and the store. Every
// connect, inbound event and disconnect is queued and applied one at a
// time by Run, so a handler's mutate-then-emit sequence never interleaves
// with another's.
type Router struct {
	registry *Registry
	store    *Store
	metrics  *Metrics
	log      zerolog.Logger
	now      func() time.Time

	sessions map[string]*session
	commands chan func(*Router)
	done     chan struct{}

	// closed is set under mu once no command may be queued any more
	mu     sync.RWMutex
	closed bool
}

type Option func(*Router)

func WithLogger(log zerolog.Logger) Option {
	return func(r *Router) { r.log = log }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

func NewRouter(registry *Registry, store *Store, opts ...Option) *Router {
	r := &Router{
		registry: registry,
		store:    store,
		log:      zerolog.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*session),
		commands: make(chan func(*Router), commandBufferSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(nil)
	}
	return r
}

// Run applies queued commands until ctx is cancelled, then closes every
// remaining connection.
func (r *Router) Run(ctx context.Context) error {
	defer r.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-r.commands:
			fn(r)
		}
	}
}

// Connect registers a new connection in the connecting state.
func (r *Router) Connect(s Sink) {
	if !r.enqueue(func(r *Router) { r.connect(s) }) {
		s.Close()
	}
}

// Dispatch queues one inbound event from connection id.
func (r *Router) Dispatch(id string, in Inbound) {
	r.enqueue(func(r *Router) { r.handle(id, in) })
}

// Disconnect queues the departure of connection id.
func (r *Router) Disconnect(id string) {
	r.enqueue(func(r *Router) { r.disconnect(id) })
}

func (r *Router) enqueue(fn func(*Router)) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.commands <- fn:
		return true
	case <-r.done:
		return false
	}
}

// shutdown refuses new commands, applies the ones already queued and
// closes every connection.
func (r *Router) shutdown() {
	close(r.done)
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	for drained := false; !drained; {
		select {
		case fn := <-r.commands:
			fn(r)
		default:
			drained = true
		}
	}
	for id, s := range r.sessions {
		s.sink.Close()
		delete(r.sessions, id)
	}
	r.metrics.Connections.Set(0)
}

func (r *Router) state(id string) State {
	if _, ok := r.sessions[id]; !ok {
		return StateDisconnected
	}
	if _, ok := r.registry.Get(id); ok {
		return StateJoined
	}
	return StateConnecting
}

func (r *Router) connect(s Sink) {
	r.sessions[s.ID()] = &session{sink: s}
	r.metrics.Connections.Set(float64(len(r.sessions)))
	r.log.Debug().Str("conn", s.ID()).Msg("connected")
}

func (r *Router) disconnect(id string) {
	sess, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	sess.sink.Close()
	r.metrics.Connections.Set(float64(len(r.sessions)))

	p, ok := r.registry.Leave(id)
	if !ok {
		r.log.Debug().Str("conn", id).Msg("disconnected before join")
		return
	}
	r.metrics.Participants.Set(float64(r.registry.Len()))
	users := r.registry.List()
	r.broadcast(Event{Type: EventUserList, Data: users})
	r.broadcast(Event{Type: EventUserLeft, Data: PresenceNotice{Username: p.Username, ID: p.ID, Users: users}})
	r.log.Info().Str("conn", id).Str("user", p.Username).Msg("[chat] user left")
}

func (r *Router) handle(id string, in Inbound) {
	st := r.state(id)
	if st == StateDisconnected {
		r.drop(id, in.Type, dropNotConnected, nil)
		return
	}
	if in.Type == EventJoin {
		if r.join(id, in.Data) {
			r.metrics.Events.WithLabelValues(in.Type).Inc()
		}
		return
	}
	if st != StateJoined {
		r.drop(id, in.Type, dropUnknownSender, ErrParticipantNotFound)
		return
	}
	sess := r.sessions[id]
	p, _ := r.registry.Get(id)
	var applied bool
	switch in.Type {
	case EventSend:
		applied = r.sendBroadcast(p, in.Data)
	case EventPrivateSend:
		applied = r.sendPrivate(p, in.Data)
	case EventAddReaction:
		applied = r.addReaction(p, in.Data)
	case EventShareFile:
		applied = r.shareFile(p, in.Data)
	case EventTyping:
		applied = r.setTyping(p, in.Data)
	case EventSearch:
		applied = r.search(p, in.Data)
	case EventLoadHistory:
		applied = r.loadHistory(sess, p, in.Data)
	case EventLoadPrivateHistory:
		applied = r.loadPrivateHistory(p, in.Data)
	default:
		r.drop(id, in.Type, dropUnknownEvent, ErrUnknownEvent)
		return
	}
	if applied {
		r.metrics.Events.WithLabelValues(in.Type).Inc()
	}
}

func (r *Router) join(id string, data json.RawMessage) bool {
	name, err := decodeValue[string](data)
	if err != nil {
		r.drop(id, EventJoin, dropInvalidPayload, err)
		return false
	}
	p := r.registry.Join(id, SanitizeName(name))
	r.metrics.Participants.Set(float64(r.registry.Len()))
	users := r.registry.List()
	r.broadcast(Event{Type: EventUserList, Data: users})
	r.broadcast(Event{Type: EventUserJoined, Data: PresenceNotice{Username: p.Username, ID: p.ID, Users: users}})
	r.log.Info().Str("conn", id).Str("user", p.Username).Msg("[chat] user joined")
	return true
}

func (r *Router) sendBroadcast(p Participant, data json.RawMessage) bool {
	text, err := decodeValue[string](data)
	if err != nil {
		r.drop(p.ID, EventSend, dropInvalidPayload, err)
		return false
	}
	text = SanitizeText(text)
	if text == "" {
		r.drop(p.ID, EventSend, dropInvalidPayload, ErrInvalidPayload)
		return false
	}
	msg, err := r.store.AppendBroadcast(BroadcastMessage{
		Text:      text,
		User:      p.Username,
		SenderID:  p.ID,
		Timestamp: r.now(),
	})
	if err != nil {
		r.drop(p.ID, EventSend, dropStoreError, err)
		return false
	}
	r.broadcast(Event{Type: EventMessage, Data: msg})
	return true
}

func (r *Router) sendPrivate(p Participant, data json.RawMessage) bool {
	req, err := decodeStruct[PrivateSendPayload](data)
	if err != nil {
		r.drop(p.ID, EventPrivateSend, dropInvalidPayload, err)
		return false
	}
	recipient, ok := r.registry.Get(req.RecipientID)
	if !ok {
		r.drop(p.ID, EventPrivateSend, dropUnknownRecipient, ErrParticipantNotFound)
		return false
	}
	text := SanitizeText(req.Message)
	if text == "" {
		r.drop(p.ID, EventPrivateSend, dropInvalidPayload, ErrInvalidPayload)
		return false
	}
	msg, err := r.store.AppendPrivate(PrivateMessage{
		Text:          text,
		SenderID:      p.ID,
		SenderName:    p.Username,
		RecipientID:   recipient.ID,
		RecipientName: recipient.Username,
		Timestamp:     r.now(),
	})
	if err != nil {
		r.drop(p.ID, EventPrivateSend, dropStoreError, err)
		return false
	}
	ev := Event{Type: EventPrivateMessage, Data: msg}
	r.unicast(p.ID, ev)
	if recipient.ID != p.ID {
		r.unicast(recipient.ID, ev)
	}
	return true
}

func (r *Router) addReaction(p Participant, data json.RawMessage) bool {
	req, err := decodeStruct[ReactionPayload](data)
	if err != nil {
		r.drop(p.ID, EventAddReaction, dropInvalidPayload, err)
		return false
	}
	reactions, changed, err := r.store.AddReaction(req.MessageID, req.Reaction, p.Username)
	if errors.Is(err, ErrMessageNotFound) {
		r.drop(p.ID, EventAddReaction, dropUnknownMessage, err)
		return false
	}
	if err != nil {
		r.drop(p.ID, EventAddReaction, dropStoreError, err)
		return false
	}
	if !changed {
		r.drop(p.ID, EventAddReaction, dropDuplicateReaction, nil)
		return false
	}
	r.broadcast(Event{Type: EventMessageReaction, Data: ReactionUpdate{MessageID: req.MessageID, Reactions: reactions}})
	return true
}

func (r *Router) shareFile(p Participant, data json.RawMessage) bool {
	req, err := decodeStruct[FilePayload](data)
	if err != nil {
		r.drop(p.ID, EventShareFile, dropInvalidPayload, err)
		return false
	}
	if req.FileType == "" {
		req.FileType = detectFileType(req.File)
	}
	r.broadcast(Event{Type: EventFileShared, Data: FileShare{
		File:       req.File,
		FileName:   sanitizeString(req.FileName, maxFileNameRunes),
		FileType:   req.FileType,
		SenderID:   p.ID,
		SenderName: p.Username,
		Timestamp:  r.now(),
	}})
	return true
}

func (r *Router) setTyping(p Participant, data json.RawMessage) bool {
	typing, err := decodeValue[bool](data)
	if err != nil {
		r.drop(p.ID, EventTyping, dropInvalidPayload, err)
		return false
	}
	p, _ = r.registry.SetTyping(p.ID, typing)
	r.broadcastExcept(p.ID, Event{Type: EventUserTyping, Data: TypingStatus{Username: p.Username, IsTyping: p.IsTyping}})
	return true
}

func (r *Router) search(p Participant, data json.RawMessage) bool {
	query, err := decodeValue[string](data)
	if err != nil {
		r.drop(p.ID, EventSearch, dropInvalidPayload, err)
		return false
	}
	results, err := r.store.Search(query)
	if err != nil {
		r.drop(p.ID, EventSearch, dropStoreError, err)
		return false
	}
	r.unicast(p.ID, Event{Type: EventSearchResults, Data: results})
	return true
}

func (r *Router) loadHistory(sess *session, p Participant, data json.RawMessage) bool {
	req, err := decodeStruct[HistoryPayload](data)
	if err != nil {
		r.drop(p.ID, EventLoadHistory, dropInvalidPayload, err)
		return false
	}
	page := sess.nextPage
	if req.Page != nil {
		page = *req.Page
	}
	msgs, hasMore, err := r.store.Page(page, req.Limit)
	if err != nil {
		r.drop(p.ID, EventLoadHistory, dropStoreError, err)
		return false
	}
	sess.nextPage = page + 1
	r.unicast(p.ID, Event{Type: EventPreviousPage, Data: HistoryPage{Messages: msgs, HasMore: hasMore}})
	return true
}

func (r *Router) loadPrivateHistory(p Participant, data json.RawMessage) bool {
	req, err := decodeStruct[PrivateHistoryPayload](data)
	if err != nil {
		r.drop(p.ID, EventLoadPrivateHistory, dropInvalidPayload, err)
		return false
	}
	msgs, err := r.store.Conversation(p.ID, req.ParticipantID)
	if err != nil {
		r.drop(p.ID, EventLoadPrivateHistory, dropStoreError, err)
		return false
	}
	r.unicast(p.ID, Event{Type: EventPrivatePage, Data: PrivatePage{ParticipantID: req.ParticipantID, Messages: msgs}})
	return true
}

func (r *Router) broadcast(ev Event) {
	for _, s := range r.sessions {
		s.sink.Send(ev)
	}
}

func (r *Router) broadcastExcept(id string, ev Event) {
	for sid, s := range r.sessions {
		if sid != id {
			s.sink.Send(ev)
		}
	}
}

func (r *Router) unicast(id string, ev Event) {
	if s, ok := r.sessions[id]; ok {
		s.sink.Send(ev)
	}
}

// drop discards an event. No error ever reaches the client.
func (r *Router) drop(id, typ, reason string, err error) {
	r.metrics.Dropped.WithLabelValues(reason).Inc()
	ev := r.log.Debug()
	if reason == dropStoreError {
		ev = r.log.Error()
	}
	ev.Err(err).Str("conn", id).Str("type", typ).Str("reason", reason).Msg("event dropped")
}
