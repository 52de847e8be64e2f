package model

// Field types accepted in planner forms.
const (
	FieldText     = "text"
	FieldNumber   = "number"
	FieldSelect   = "select"
	FieldTextarea = "textarea"
)

// Choice is a selectable option on a form field or a choice message.
type Choice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// MessageField is a single input on a planner form.
type MessageField struct {
	Key         string   `json:"key"`
	Label       string   `json:"label"`
	Type        string   `json:"type"`
	Required    bool     `json:"required"`
	Placeholder *string  `json:"placeholder"`
	Options     []Choice `json:"options"`
}

// Message is one conversation turn between the user and the planner.
type Message struct {
	Role     string         `json:"role"`
	Type     MessageType    `json:"type"`
	Text     string         `json:"text,omitempty"`
	Fields   []MessageField `json:"fields,omitempty"`
	Choices  []Choice       `json:"choices,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// UserText builds the conversation entry for a free-text user reply.
func UserText(text string, metadata map[string]any) Message {
	return Message{Role: RoleUser, Type: MessageText, Text: text, Metadata: metadata}
}

// AssistantText builds an assistant text entry.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Type: MessageText, Text: text}
}

// HasUserMessage reports whether any turn in the conversation came from the user.
func HasUserMessage(conversation []Message) bool {
	for _, m := range conversation {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}

// StrPtr is a small helper for optional string fields.
func StrPtr(s string) *string { return &s }
