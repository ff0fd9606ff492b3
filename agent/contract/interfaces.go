package contract

import (
	"context"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	storex "taskpilot/agent/store"
)

// ChatModel is the completion surface the orchestrator depends on. The eino
// chat models satisfy it directly; tests substitute fakes.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error)
}

// ToolExecutor is the closed tool catalog: schemas for the model plus an
// execution entry point. The owner identity is always supplied by the caller,
// never taken from model-generated arguments.
type ToolExecutor interface {
	Infos() []*schema.ToolInfo
	Execute(ctx context.Context, ownerID string, req ToolRequest) ToolResult
}

type TaskStore interface {
	Create(ctx context.Context, ownerID, title string, description *string) (*storex.Task, error)
	List(ctx context.Context, ownerID string, filter storex.TaskFilter) ([]storex.Task, error)
	SetCompleted(ctx context.Context, ownerID string, taskID int64) (*storex.Task, error)
	Update(ctx context.Context, ownerID string, taskID int64, title, description *string) (*storex.Task, error)
	Delete(ctx context.Context, ownerID string, taskID int64) (*storex.Task, error)
}

type ConversationStore interface {
	GetOrCreate(ctx context.Context, ownerID string) (*storex.Conversation, error)
	AppendMessages(ctx context.Context, conversationID int64, msgs []storex.Message) error
	RecentMessages(ctx context.Context, conversationID int64, limit int) ([]storex.Message, error)
}
