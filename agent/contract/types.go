package contract

// ErrorKind is the machine-readable classification of a tool failure.
type ErrorKind string

const (
	ErrorKindNotFound   ErrorKind = "not_found"
	ErrorKindValidation ErrorKind = "validation_error"
	ErrorKindInternal   ErrorKind = "internal_error"
)

// ToolError is the structured error shape tools return instead of raising.
type ToolError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

type ToolRequest struct {
	// CallID echoes the model-assigned tool call id so results can be
	// threaded back into the completion exchange.
	CallID string         `json:"call_id,omitempty"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
}

type ToolResult struct {
	CallID string     `json:"call_id,omitempty"`
	Tool   string     `json:"tool"`
	Result any        `json:"result,omitempty"`
	Error  *ToolError `json:"error,omitempty"`
}

// ToolCallRecord is the audit entry exposed on the chat response. The client
// never executes these; they describe what the agent already did.
type ToolCallRecord struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

type ChatResult struct {
	ConversationID int64            `json:"conversation_id"`
	Reply          string           `json:"reply"`
	ToolCalls      []ToolCallRecord `json:"tool_calls"`
}
