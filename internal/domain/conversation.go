package domain

// Role identifies who authored a conversation turn.
type Role string

const (
	RoleCustomer  Role = "customer"
	RoleAssistant Role = "assistant"
)

// Turn is a single message unit of a conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// CustomerData holds the campaign attributes handed to the responder.
// It is overwritten on every accepted commerce event.
type CustomerData struct {
	Name     string `json:"name,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Products string `json:"products,omitempty"`
	Link     string `json:"link,omitempty"`
	Price    string `json:"price,omitempty"`
}

// ConversationRecord is the persisted dialogue state for one customer key.
type ConversationRecord struct {
	CustomerKey  string       `json:"chatId"`
	CustomerData CustomerData `json:"customerData"`
	History      []Turn       `json:"history"`
}

// LastAssistantTurn returns the text of the most recent assistant turn.
func (r ConversationRecord) LastAssistantTurn() (string, bool) {
	for i := len(r.History) - 1; i >= 0; i-- {
		if r.History[i].Role == RoleAssistant {
			return r.History[i].Text, true
		}
	}
	return "", false
}

// Snapshot is the full persisted document of the durable store.
type Snapshot struct {
	Conversations map[string]ConversationRecord `json:"conversations"`
	LIDCache      map[string]string             `json:"lidCache"`
	Allowed       []string                      `json:"allowed"`
}

// ChannelMessage is a message observed on the chat transport, in either direction.
type ChannelMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	FromMe    bool   `json:"fromMe"`
	IsStatus  bool   `json:"isStatus,omitempty"`
	Body      string `json:"body"`
	PushName  string `json:"pushName,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// RemoteChat returns the chat id on the other side of the message.
func (m ChannelMessage) RemoteChat() string {
	if m.FromMe {
		return m.To
	}
	return m.From
}
