// Package session owns the message log of one (persona, channel) pair and
// drives the exchange with the completion API.
package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/comigor/shapeschat/internal/llm"
	"github.com/comigor/shapeschat/internal/logger"
	"github.com/comigor/shapeschat/internal/persona"
)

// State of a session.
type State string

const (
	StateIdle           State = "Idle"
	StateSending        State = "Sending"
	StateErrorDisplayed State = "ErrorDisplayed"
)

type trigger string

const (
	triggerSubmit        trigger = "Submit"
	triggerReplyReceived trigger = "ReplyReceived"
	triggerCallFailed    trigger = "CallFailed"
	triggerDismiss       trigger = "Dismiss"
)

// KindCredentialMissing is the banner kind shown when sending without a key.
const KindCredentialMissing = "CredentialMissing"

const credentialMissingText = "Please set your Shapes API key to chat with the bots"

var (
	ErrEmptyMessage           = errors.New("message is empty")
	ErrCredentialMissing      = errors.New("no API key configured")
	ErrBusy                   = errors.New("a reply is already being generated")
	ErrMessageNotFound        = errors.New("message not found")
	ErrNotAssistant           = errors.New("only assistant messages can be edited or regenerated")
	ErrNoPrecedingUserMessage = errors.New("no user message precedes this reply")
)

// Completer is the external completion collaborator.
type Completer interface {
	Complete(ctx context.Context, model, message string, history []llm.Turn) (string, error)
}

// Personas resolves display names and model ids.
type Personas interface {
	Resolve(id string) (persona.Persona, bool)
	ModelID(id string) string
}

// Credentials reports the configured bearer key.
type Credentials interface {
	Get() string
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Personas    Personas
	Completer   Completer
	Credentials Credentials
	// Now defaults to time.Now.
	Now func() time.Time
}

// Banner is the dismissible notice shown above the input.
type Banner struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Snapshot is a consistent copy of the session for rendering.
type Snapshot struct {
	PersonaID    string    `json:"personaId"`
	ChannelID    string    `json:"channelId"`
	State        State     `json:"state"`
	Loading      bool      `json:"loading"`
	Banner       *Banner   `json:"banner,omitempty"`
	PendingClear bool      `json:"pendingClear"`
	Messages     []Message `json:"messages"`
}

// Session is one channel's conversation. It is safe for concurrent use; at
// most one completion call is in flight at a time.
type Session struct {
	personaID string
	channelID string
	deps      Deps
	log       *slog.Logger

	mu           sync.Mutex
	fsm          *stateless.StateMachine
	messages     []Message
	banner       *Banner
	pendingClear bool
}

// New starts a session seeded with the welcome messages.
func New(personaID, channelID string, deps Deps) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Session{
		personaID: personaID,
		channelID: channelID,
		deps:      deps,
		log:       logger.Component("session").With("persona", personaID, "channel", channelID),
	}
	s.messages = WelcomeMessages(deps.Now(), s.author(), channelID)
	s.fsm = s.newStateMachine()
	return s
}

// newStateMachine wires the three states. Callbacks run inside Fire, which
// callers only invoke while holding s.mu.
func (s *Session) newStateMachine() *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateIdle)

	// State: Idle
	// Transitions:
	//   - On Submit -> StateSending
	fsm.Configure(StateIdle).
		OnEntryFrom(triggerDismiss, func(_ context.Context, _ ...any) error {
			s.banner = nil
			return nil
		}).
		Permit(triggerSubmit, StateSending).
		Ignore(triggerDismiss)

	// State: Sending
	// Action: clear the banner; a completion call is outstanding.
	// Transitions:
	//   - On ReplyReceived -> StateIdle
	//   - On CallFailed -> StateErrorDisplayed
	fsm.Configure(StateSending).
		OnEntry(func(_ context.Context, _ ...any) error {
			s.banner = nil
			return nil
		}).
		Permit(triggerReplyReceived, StateIdle).
		Permit(triggerCallFailed, StateErrorDisplayed).
		Ignore(triggerDismiss)

	// State: ErrorDisplayed
	// Action: show the classified failure passed with CallFailed.
	// Transitions:
	//   - On Submit -> StateSending
	//   - On Dismiss -> StateIdle
	fsm.Configure(StateErrorDisplayed).
		OnEntry(func(_ context.Context, args ...any) error {
			if len(args) > 0 {
				if b, ok := args[0].(*Banner); ok {
					s.banner = b
				}
			}
			return nil
		}).
		Permit(triggerSubmit, StateSending).
		Permit(triggerDismiss, StateIdle)

	return fsm
}

func (s *Session) state() State {
	return s.fsm.MustState().(State)
}

func (s *Session) author() string {
	p, _ := s.deps.Personas.Resolve(s.personaID)
	return p.DisplayName
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

// Snapshot copies the session for rendering.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		PersonaID:    s.personaID,
		ChannelID:    s.channelID,
		State:        s.state(),
		PendingClear: s.pendingClear,
		Messages:     slices.Clone(s.messages),
	}
	snap.Loading = snap.State == StateSending
	if s.banner != nil {
		b := *s.banner
		snap.Banner = &b
	}
	return snap
}

// Messages returns a copy of the log.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// Send appends a user message and asks the completion API for a reply.
// On failure a system-error message is appended and the classified
// *llm.CompletionError is returned.
func (s *Session) Send(ctx context.Context, text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if err := s.beginLocked(); err != nil {
		s.mu.Unlock()
		return Message{}, err
	}
	history := s.historyLocked()
	s.messages = append(s.messages, newMessage(s.deps.Now(), RoleUser, UserAuthor, text))
	s.mu.Unlock()

	return s.complete(ctx, text, history)
}

// Regenerate replaces the assistant message id with a fresh reply to the
// nearest user message before it. It changes nothing when there is no such
// user message.
//
// The history sent leaves out both the removed reply and the replayed user
// message, since that message is sent again as the prompt.
func (s *Session) Regenerate(ctx context.Context, id string) (Message, error) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return Message{}, ErrMessageNotFound
	}
	if s.messages[i].Role != RoleAssistant {
		s.mu.Unlock()
		return Message{}, ErrNotAssistant
	}
	u := i - 1
	for u >= 0 && s.messages[u].Role != RoleUser {
		u--
	}
	if u < 0 {
		s.mu.Unlock()
		return Message{}, ErrNoPrecedingUserMessage
	}
	if err := s.beginLocked(); err != nil {
		s.mu.Unlock()
		return Message{}, err
	}

	prompt := s.messages[u]
	history := s.historyLocked(id, prompt.ID)
	s.messages = slices.Delete(s.messages, i, i+1)
	s.mu.Unlock()

	s.log.Info("regenerating reply", "message", id)
	return s.complete(ctx, prompt.Content, history)
}

// beginLocked checks the credential and moves to Sending.
func (s *Session) beginLocked() error {
	if s.deps.Credentials.Get() == "" {
		s.banner = &Banner{Kind: KindCredentialMissing, Text: credentialMissingText}
		return ErrCredentialMissing
	}
	if err := s.fsm.Fire(triggerSubmit); err != nil {
		return ErrBusy
	}
	return nil
}

// historyLocked returns prior turns, skipping the welcome messages, local
// error notices and any ids in exclude.
func (s *Session) historyLocked(exclude ...string) []llm.Turn {
	turns := make([]llm.Turn, 0, len(s.messages))
	for _, m := range s.messages {
		if m.welcome || slices.Contains(exclude, m.ID) {
			continue
		}
		switch m.Role {
		case RoleUser:
			turns = append(turns, llm.Turn{Role: llm.RoleUser, Content: m.Content})
		case RoleAssistant:
			turns = append(turns, llm.Turn{Role: llm.RoleAssistant, Content: m.Content})
		}
	}
	return turns
}

// complete runs the outbound call without holding the lock. The call is not
// cancelled with ctx: it always resolves before the next submit.
func (s *Session) complete(ctx context.Context, text string, history []llm.Turn) (Message, error) {
	model := s.deps.Personas.ModelID(s.personaID)
	reply, err := s.deps.Completer.Complete(context.WithoutCancel(ctx), model, text, history)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		ce := llm.Classify(err)
		banner := &Banner{Kind: string(ce.Kind), Text: ce.UserMessage()}
		s.messages = append(s.messages, newMessage(s.deps.Now(), RoleSystemError, SystemAuthor, "Error: "+banner.Text))
		if ferr := s.fsm.Fire(triggerCallFailed, banner); ferr != nil {
			s.log.Warn("FSM fire error", "error", ferr)
		}
		s.log.Warn("reply failed", "kind", ce.Kind, "error", err)
		return Message{}, ce
	}

	msg := newMessage(s.deps.Now(), RoleAssistant, s.author(), reply)
	s.messages = append(s.messages, msg)
	if ferr := s.fsm.Fire(triggerReplyReceived); ferr != nil {
		s.log.Warn("FSM fire error", "error", ferr)
	}
	return msg, nil
}

func (s *Session) indexLocked(id string) int {
	return slices.IndexFunc(s.messages, func(m Message) bool { return m.ID == id })
}

// Delete removes message id. Deleting an absent id is a no-op; removed
// reports whether anything changed.
func (s *Session) Delete(id string) (removed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.messages = slices.Delete(s.messages, i, i+1)
	return true
}

// Edit replaces the content of an assistant message and leaves edit mode.
// Nothing is re-sent.
func (s *Session) Edit(id, content string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, err := s.assistantLocked(id)
	if err != nil {
		return Message{}, err
	}
	s.messages[i].Content = content
	s.messages[i].IsEditing = false
	return s.messages[i], nil
}

// ToggleEdit flips the edit flag of an assistant message.
func (s *Session) ToggleEdit(id string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, err := s.assistantLocked(id)
	if err != nil {
		return Message{}, err
	}
	s.messages[i].IsEditing = !s.messages[i].IsEditing
	return s.messages[i], nil
}

func (s *Session) assistantLocked(id string) (int, error) {
	i := s.indexLocked(id)
	if i < 0 {
		return -1, ErrMessageNotFound
	}
	if s.messages[i].Role != RoleAssistant {
		return -1, ErrNotAssistant
	}
	return i, nil
}

// RequestClear asks for confirmation before Clear.
func (s *Session) RequestClear() {
	s.mu.Lock()
	s.pendingClear = true
	s.mu.Unlock()
}

// CancelClear withdraws a pending clear request.
func (s *Session) CancelClear() {
	s.mu.Lock()
	s.pendingClear = false
	s.mu.Unlock()
}

// Clear resets the log to two fresh welcome messages and drops transient
// flags. A reply still in flight is appended when it arrives.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = WelcomeMessages(s.deps.Now(), s.author(), s.channelID)
	s.pendingClear = false
	s.banner = nil
	if err := s.fsm.Fire(triggerDismiss); err != nil {
		s.log.Warn("FSM fire error", "error", err)
	}
	s.log.Info("conversation cleared")
}

// DismissError closes the banner.
func (s *Session) DismissError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banner = nil
	if err := s.fsm.Fire(triggerDismiss); err != nil {
		s.log.Warn("FSM fire error", "error", err)
	}
}
