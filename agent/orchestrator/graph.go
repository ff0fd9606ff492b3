package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
)

// The handle-message graph is linear by design: model failures and empty
// tool-call lists are carried in GraphState rather than branching edges, so
// every request reaches persist_exchange and terminates with a reply.
func (o *Orchestrator) compileHandleMessageGraph(
	ctx context.Context,
) (compose.Runnable[GraphInput, GraphOutput], error) {
	graph := compose.NewGraph[GraphInput, GraphOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in GraphInput) (*GraphState, error) {
			return validateRequest(in, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("load_conversation",
		compose.InvokableLambda(func(ctx context.Context, in *GraphState) (*GraphState, error) {
			return loadConversation(ctx, in, o.conversations, o.historyLimit)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_conversation: %w", err)
	}

	if err := graph.AddLambdaNode("consult_model",
		compose.InvokableLambda(func(ctx context.Context, in *GraphState) (*GraphState, error) {
			return consultModel(ctx, in, o.model, o.modelTimeout)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node consult_model: %w", err)
	}

	if err := graph.AddLambdaNode("execute_tools",
		compose.InvokableLambda(func(ctx context.Context, in *GraphState) (*GraphState, error) {
			return executeTools(ctx, in, o.registry)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node execute_tools: %w", err)
	}

	if err := graph.AddLambdaNode("consult_model_again",
		compose.InvokableLambda(func(ctx context.Context, in *GraphState) (*GraphState, error) {
			return consultModelAgain(ctx, in, o.model, o.modelTimeout, o.fallbackReply)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node consult_model_again: %w", err)
	}

	if err := graph.AddLambdaNode("persist_exchange",
		compose.InvokableLambda(func(ctx context.Context, in *GraphState) (*GraphState, error) {
			return persistExchange(ctx, in, o.conversations)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node persist_exchange: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_reply",
		compose.InvokableLambda(func(ctx context.Context, in *GraphState) (GraphOutput, error) {
			return finalizeReply(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_reply: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "load_conversation"},
		{"load_conversation", "consult_model"},
		{"consult_model", "execute_tools"},
		{"execute_tools", "consult_model_again"},
		{"consult_model_again", "persist_exchange"},
		{"persist_exchange", "finalize_reply"},
		{"finalize_reply", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("agent.handle_message"))
	if err != nil {
		return nil, fmt.Errorf("compile handle message graph: %w", err)
	}
	return runner, nil
}
