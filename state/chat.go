package state

import (
	"slices"
	"time"
)

// ChatMessage is one entry of the visible transcript.
type ChatMessage struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsUser    bool   `json:"isUser"`
	Timestamp string `json:"timestamp"`
}

// NewMessage builds a message stamped with now in RFC 3339 form.
func NewMessage(id, text string, isUser bool, now time.Time) ChatMessage {
	return ChatMessage{
		ID:        id,
		Text:      text,
		IsUser:    isUser,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

type Chat struct {
	Messages  []ChatMessage
	IsLoading bool
	IsOpen    bool
	Error     string
}

// Chat actions.
type (
	AddMessage    struct{ Message ChatMessage }
	SetMessages   struct{ Messages []ChatMessage }
	ClearMessages struct{}
	ToggleChat    struct{}
	SetLoading    struct{ Loading bool }
	// SetError records an error and stops the loading indicator.
	SetError   struct{ Error string }
	ClearError struct{}
	// RestoreHistory applies a stored transcript only when nothing is shown.
	RestoreHistory struct{ Messages []ChatMessage }
)

func (AddMessage) action()     {}
func (SetMessages) action()    {}
func (ClearMessages) action()  {}
func (ToggleChat) action()     {}
func (SetLoading) action()     {}
func (SetError) action()       {}
func (ClearError) action()     {}
func (RestoreHistory) action() {}

// ReduceChat returns the next chat slice. The input is never modified.
func ReduceChat(s Chat, a Action) Chat {
	switch a := a.(type) {
	case AddMessage:
		s.Messages = append(slices.Clip(s.Messages), a.Message)
	case SetMessages:
		s.Messages = slices.Clone(a.Messages)
		if s.Messages == nil {
			s.Messages = []ChatMessage{}
		}
	case ClearMessages:
		s.Messages = []ChatMessage{}
	case ToggleChat:
		s.IsOpen = !s.IsOpen
	case SetLoading:
		s.IsLoading = a.Loading
		if a.Loading {
			s.Error = ""
		}
	case SetError:
		s.Error = a.Error
		s.IsLoading = false
	case ClearError:
		s.Error = ""
	case RestoreHistory:
		if len(s.Messages) == 0 {
			s.Messages = slices.Clone(a.Messages)
		}
	}
	return s
}
