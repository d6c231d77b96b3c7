package agent

// EventType tags a streamed turn event. The set is closed; unknown
// provider chunks are dropped, never forwarded.
type EventType string

const (
	EventStatus    EventType = "status"
	EventReasoning EventType = "reasoning"
	EventToolCall  EventType = "tool_call"
	EventMessage   EventType = "message"
	EventDone      EventType = "done"
	EventError     EventType = "error"
	EventPing      EventType = "ping"
)

// Event is one item in a turn's event stream. The JSON shape is a wire
// contract with the chat frontend.
type Event struct {
	Type      EventType `json:"type"`
	Content   string    `json:"content,omitempty"`
	Reasoning string    `json:"reasoning,omitempty"`
	Name      string    `json:"name,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
}
