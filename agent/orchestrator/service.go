package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"

	contractx "taskpilot/agent/contract"
)

// FallbackReply goes out whenever the model service is unreachable or times
// out. Fixed and friendly; never a raw error.
const FallbackReply = "Sorry, I'm having trouble thinking right now. Please try again in a moment."

const (
	defaultHistoryLimit = 50
	defaultModelTimeout = 30 * time.Second
)

type Config struct {
	HistoryLimit int           `envconfig:"HISTORY_LIMIT" split_words:"true" default:"50"`
	ModelTimeout time.Duration `envconfig:"MODEL_TIMEOUT" split_words:"true" default:"30s"`
}

// Orchestrator drives one chat exchange end to end. It is stateless across
// requests: everything it needs is reconstructed from the conversation store
// every call.
type Orchestrator struct {
	conversations contractx.ConversationStore
	registry      contractx.ToolExecutor
	model         contractx.ChatModel

	graphRunner compose.Runnable[GraphInput, GraphOutput]

	historyLimit  int
	modelTimeout  time.Duration
	fallbackReply string

	now func() time.Time
}

// New binds the registry's tool schemas onto the chat model and compiles the
// handle-message graph. Binding here keeps the published schemas and the
// registry's validation from drifting apart.
func New(
	conversations contractx.ConversationStore,
	registry contractx.ToolExecutor,
	chatModel einomodel.ToolCallingChatModel,
	cfg Config,
) (*Orchestrator, error) {
	if conversations == nil {
		return nil, errors.New("conversation store is required")
	}
	if registry == nil {
		return nil, errors.New("tool registry is required")
	}
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	toolModel, err := chatModel.WithTools(registry.Infos())
	if err != nil {
		return nil, errors.Join(contractx.ErrModelInvoke, err)
	}

	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	modelTimeout := cfg.ModelTimeout
	if modelTimeout <= 0 {
		modelTimeout = defaultModelTimeout
	}

	o := &Orchestrator{
		conversations: conversations,
		registry:      registry,
		model:         toolModel,
		historyLimit:  historyLimit,
		modelTimeout:  modelTimeout,
		fallbackReply: FallbackReply,
		now:           time.Now,
	}

	graphRunner, err := o.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleMessage runs one exchange for the authenticated owner and returns the
// assistant reply plus the audit list of tool calls made on the user's behalf.
func (o *Orchestrator) HandleMessage(ctx context.Context, ownerID, text string) (contractx.ChatResult, error) {
	owner := strings.TrimSpace(ownerID)
	if owner == "" {
		return contractx.ChatResult{}, fmt.Errorf("%w: owner id is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(text) == "" {
		return contractx.ChatResult{}, contractx.ErrEmptyMessage
	}

	out, err := o.graphRunner.Invoke(ctx, GraphInput{
		OwnerID: owner,
		Text:    text,
	})
	if err != nil {
		return contractx.ChatResult{}, err
	}
	return contractx.ChatResult{
		ConversationID: out.ConversationID,
		Reply:          out.Reply,
		ToolCalls:      out.ToolCalls,
	}, nil
}
