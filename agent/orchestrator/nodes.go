package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "taskpilot/agent/contract"
	promptx "taskpilot/agent/prompt"
	storex "taskpilot/agent/store"
	toolx "taskpilot/agent/tool"
)

type GraphInput struct {
	OwnerID string
	Text    string
}

type GraphOutput struct {
	ConversationID int64
	Reply          string
	ToolCalls      []contractx.ToolCallRecord
}

// GraphState is the per-request working state threaded through the nodes.
// Nothing here outlives the request; all durable state is in the stores.
type GraphState struct {
	OwnerID string
	Text    string
	Now     time.Time

	Conversation *storex.Conversation
	Prompt       []*schema.Message

	Assistant   *schema.Message
	ToolResults []contractx.ToolResult
	ToolCalls   []contractx.ToolCallRecord

	// ModelDown records a model outage or timeout. The flow keeps going so
	// the user's message still persists and a fallback reply goes out.
	ModelDown bool
	Reply     string
}

func validateRequest(in GraphInput, now func() time.Time) (*GraphState, error) {
	owner := strings.TrimSpace(in.OwnerID)
	if owner == "" {
		return nil, fmt.Errorf("%w: owner id is required", contractx.ErrValidation)
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, contractx.ErrEmptyMessage
	}
	return &GraphState{
		OwnerID: owner,
		Text:    text,
		Now:     now().UTC(),
	}, nil
}

// loadConversation assembles the model-facing message list: system
// instructions, the bounded history window, then the new user message.
func loadConversation(
	ctx context.Context,
	in *GraphState,
	conversations contractx.ConversationStore,
	historyLimit int,
) (*GraphState, error) {
	conv, err := conversations.GetOrCreate(ctx, in.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	in.Conversation = conv

	history, err := conversations.RecentMessages(ctx, conv.ID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	prompt := make([]*schema.Message, 0, len(history)+2)
	prompt = append(prompt, schema.SystemMessage(promptx.System()))
	for _, msg := range history {
		switch msg.Role {
		case storex.RoleUser:
			prompt = append(prompt, schema.UserMessage(msg.Content))
		case storex.RoleAssistant:
			prompt = append(prompt, schema.AssistantMessage(msg.Content, nil))
		case storex.RoleTool:
			// Stored tool results are audit records. Replaying them as
			// protocol-level tool messages would need the original call
			// ids, so they stay out of the prompt.
		}
	}
	prompt = append(prompt, schema.UserMessage(in.Text))

	in.Prompt = prompt
	return in, nil
}

func consultModel(
	ctx context.Context,
	in *GraphState,
	chatModel contractx.ChatModel,
	timeout time.Duration,
) (*GraphState, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := chatModel.Generate(callCtx, in.Prompt)
	if err != nil {
		log.Warn().Err(err).Str("owner_id", in.OwnerID).Msg("model call failed, falling back")
		in.ModelDown = true
		return in, nil
	}
	in.Assistant = msg
	return in, nil
}

// executeTools runs every model-requested invocation against the registry, in
// request order, and threads the results back into the prompt. The owner id
// is injected here; anything the model put in the arguments is ignored.
func executeTools(
	ctx context.Context,
	in *GraphState,
	registry contractx.ToolExecutor,
) (*GraphState, error) {
	if in.ModelDown || in.Assistant == nil || len(in.Assistant.ToolCalls) == 0 {
		return in, nil
	}

	in.Prompt = append(in.Prompt, in.Assistant)
	for _, call := range in.Assistant.ToolCalls {
		req := toToolRequest(call)

		result := registry.Execute(ctx, in.OwnerID, req)
		in.ToolResults = append(in.ToolResults, result)
		in.ToolCalls = append(in.ToolCalls, contractx.ToolCallRecord{
			Tool:      req.Tool,
			Arguments: req.Args,
		})

		payload, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal tool result: %w", err)
		}
		in.Prompt = append(in.Prompt, schema.ToolMessage(string(payload), call.ID))

		if result.Error != nil {
			log.Debug().
				Str("tool", req.Tool).
				Str("kind", string(result.Error.Kind)).
				Msg("tool returned structured error")
		}
	}
	return in, nil
}

func toToolRequest(call schema.ToolCall) contractx.ToolRequest {
	req := contractx.ToolRequest{
		CallID: call.ID,
		Tool:   strings.TrimSpace(call.Function.Name),
		Args:   map[string]any{},
	}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Args); err != nil {
			// Leave args empty; the registry will reject the call with a
			// validation error rather than the whole exchange failing.
			log.Debug().Err(err).Str("tool", req.Tool).Msg("unparseable tool arguments")
		}
	}
	return req
}

// consultModelAgain asks for the final natural-language reply after tool
// execution. Every path out of this node sets Reply.
func consultModelAgain(
	ctx context.Context,
	in *GraphState,
	chatModel contractx.ChatModel,
	timeout time.Duration,
	fallback string,
) (*GraphState, error) {
	if in.ModelDown {
		in.Reply = fallback
		return in, nil
	}

	if len(in.ToolResults) == 0 {
		reply := ""
		if in.Assistant != nil {
			reply = strings.TrimSpace(in.Assistant.Content)
		}
		if reply == "" {
			reply = fallback
		}
		in.Reply = reply
		return in, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := chatModel.Generate(callCtx, in.Prompt)
	if err != nil {
		log.Warn().Err(err).Str("owner_id", in.OwnerID).Msg("second model call failed, using canned confirmation")
		in.Reply = confirmationFromResults(in.ToolResults)
		return in, nil
	}

	reply := strings.TrimSpace(msg.Content)
	// A second round of tool calls would start a chain; ignore them and
	// keep whatever text came back.
	if reply == "" {
		reply = confirmationFromResults(in.ToolResults)
	}
	in.Reply = reply
	return in, nil
}

// persistExchange appends the full exchange in chronological order: the user
// message, any tool results, then the assistant reply. The append is atomic;
// if it fails after tools already ran, the inconsistency is logged rather
// than surfaced, because the user-facing exchange already happened.
func persistExchange(
	ctx context.Context,
	in *GraphState,
	conversations contractx.ConversationStore,
) (*GraphState, error) {
	batch := make([]storex.Message, 0, len(in.ToolResults)+2)
	batch = append(batch, storex.Message{Role: storex.RoleUser, Content: in.Text})
	for _, result := range in.ToolResults {
		payload, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal tool result message: %w", err)
		}
		batch = append(batch, storex.Message{Role: storex.RoleTool, Content: string(payload)})
	}
	batch = append(batch, storex.Message{Role: storex.RoleAssistant, Content: in.Reply})

	if err := conversations.AppendMessages(ctx, in.Conversation.ID, batch); err != nil {
		log.Error().
			Err(err).
			Int64("conversation_id", in.Conversation.ID).
			Int("tool_calls", len(in.ToolResults)).
			Msg("inconsistent exchange persistence")
	}
	return in, nil
}

func finalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil || in.Conversation == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is incomplete", contractx.ErrValidation)
	}
	if strings.TrimSpace(in.Reply) == "" {
		return GraphOutput{}, fmt.Errorf("%w: reply is empty", contractx.ErrSchemaViolation)
	}
	return GraphOutput{
		ConversationID: in.Conversation.ID,
		Reply:          in.Reply,
		ToolCalls:      in.ToolCalls,
	}, nil
}

// confirmationFromResults builds a deterministic reply from structured tool
// outcomes for when the finalizing model call is unavailable.
func confirmationFromResults(results []contractx.ToolResult) string {
	parts := make([]string, 0, len(results))
	for _, result := range results {
		if result.Error != nil {
			switch result.Error.Kind {
			case contractx.ErrorKindNotFound:
				parts = append(parts, "I couldn't find that task. Can you confirm the task number?")
			case contractx.ErrorKindValidation:
				parts = append(parts, "I need a bit more detail for that one. Could you rephrase?")
			default:
				parts = append(parts, "I had trouble with that one. Please try again.")
			}
			continue
		}

		switch out := result.Result.(type) {
		case toolx.TaskOutput:
			switch out.Status {
			case "created":
				parts = append(parts, fmt.Sprintf("Got it! Added '%s'.", out.Title))
			case "completed":
				parts = append(parts, fmt.Sprintf("Nice work! '%s' is complete.", out.Title))
			case "deleted":
				parts = append(parts, fmt.Sprintf("Removed '%s'.", out.Title))
			case "updated":
				parts = append(parts, fmt.Sprintf("Updated to '%s'.", out.Title))
			default:
				parts = append(parts, "Done!")
			}
		case toolx.TaskListOutput:
			parts = append(parts, fmt.Sprintf("You have %d tasks.", out.Count))
		default:
			parts = append(parts, "Done!")
		}
	}
	if len(parts) == 0 {
		return "Done!"
	}
	return strings.Join(parts, " ")
}
