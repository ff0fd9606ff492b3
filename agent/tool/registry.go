package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"

	contractx "taskpilot/agent/contract"
	storex "taskpilot/agent/store"
)

const (
	ToolAddTask      = "add_task"
	ToolListTasks    = "list_tasks"
	ToolCompleteTask = "complete_task"
	ToolDeleteTask   = "delete_task"
	ToolUpdateTask   = "update_task"
)

// Limits mirror the task store's column constraints.
const (
	maxTitleLen       = 200
	maxDescriptionLen = 1000
)

type TaskOutput struct {
	TaskID int64  `json:"task_id"`
	Status string `json:"status"`
	Title  string `json:"title"`
}

type TaskSummary struct {
	TaskID      int64  `json:"task_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Completed   bool   `json:"completed"`
}

type TaskListOutput struct {
	Tasks []TaskSummary `json:"tasks"`
	Count int           `json:"count"`
}

// Registry is the fixed, closed catalog of operations the model may request.
// Tools are stateless: each invocation performs exactly one read or write
// against the task store and returns a structured result or structured error.
type Registry struct {
	tasks contractx.TaskStore
}

func NewRegistry(tasks contractx.TaskStore) (*Registry, error) {
	if tasks == nil {
		return nil, errors.New("task store is required")
	}
	return &Registry{tasks: tasks}, nil
}

// Infos returns the tool schemas published to the model. These must stay in
// lockstep with the validation in Execute: a field the schema allows is a
// field Execute accepts, and vice versa.
func (r *Registry) Infos() []*schema.ToolInfo {
	return []*schema.ToolInfo{
		{
			Name: ToolAddTask,
			Desc: "Create a new task for the user.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"title":       {Type: schema.String, Desc: "Task title (1-200 characters)", Required: true},
				"description": {Type: schema.String, Desc: "Optional task description (max 1000 characters)"},
			}),
		},
		{
			Name: ToolListTasks,
			Desc: "List the user's tasks, optionally filtered by status.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"status": {
					Type: schema.String,
					Desc: "Filter tasks by status",
					Enum: []string{string(storex.TaskFilterAll), string(storex.TaskFilterPending), string(storex.TaskFilterCompleted)},
				},
			}),
		},
		{
			Name: ToolCompleteTask,
			Desc: "Mark a task as completed.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"task_id": {Type: schema.Integer, Desc: "ID of the task to complete", Required: true},
			}),
		},
		{
			Name: ToolDeleteTask,
			Desc: "Delete a task permanently.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"task_id": {Type: schema.Integer, Desc: "ID of the task to delete", Required: true},
			}),
		},
		{
			Name: ToolUpdateTask,
			Desc: "Update a task's title or description.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"task_id":     {Type: schema.Integer, Desc: "ID of the task to update", Required: true},
				"title":       {Type: schema.String, Desc: "New task title (1-200 characters)"},
				"description": {Type: schema.String, Desc: "New task description (max 1000 characters)"},
			}),
		},
	}
}

// Execute dispatches a model-requested invocation. The owner id comes from the
// authenticated request, never from model arguments, so a tool can only touch
// that owner's tasks. Failures are returned as data; Execute never panics and
// never returns a Go error to the model path.
func (r *Registry) Execute(ctx context.Context, ownerID string, req contractx.ToolRequest) contractx.ToolResult {
	out := contractx.ToolResult{CallID: req.CallID, Tool: req.Tool}

	var (
		result any
		terr   *contractx.ToolError
	)
	switch req.Tool {
	case ToolAddTask:
		result, terr = r.addTask(ctx, ownerID, req.Args)
	case ToolListTasks:
		result, terr = r.listTasks(ctx, ownerID, req.Args)
	case ToolCompleteTask:
		result, terr = r.completeTask(ctx, ownerID, req.Args)
	case ToolDeleteTask:
		result, terr = r.deleteTask(ctx, ownerID, req.Args)
	case ToolUpdateTask:
		result, terr = r.updateTask(ctx, ownerID, req.Args)
	default:
		terr = &contractx.ToolError{
			Kind:    contractx.ErrorKindInternal,
			Message: fmt.Sprintf("unknown tool %q", req.Tool),
		}
	}

	out.Result = result
	out.Error = terr
	return out
}

func (r *Registry) addTask(ctx context.Context, ownerID string, args map[string]any) (any, *contractx.ToolError) {
	title, terr := titleArg(args, true)
	if terr != nil {
		return nil, terr
	}
	description, terr := descriptionArg(args)
	if terr != nil {
		return nil, terr
	}

	task, err := r.tasks.Create(ctx, ownerID, title, description)
	if err != nil {
		return nil, storeError(err)
	}
	return TaskOutput{TaskID: task.ID, Status: "created", Title: task.Title}, nil
}

func (r *Registry) listTasks(ctx context.Context, ownerID string, args map[string]any) (any, *contractx.ToolError) {
	filter := storex.TaskFilterAll
	if raw, ok := args["status"]; ok {
		s, ok := raw.(string)
		if !ok {
			return nil, validationError("status must be a string")
		}
		filter = storex.TaskFilter(strings.ToLower(strings.TrimSpace(s)))
		if !filter.Valid() {
			return nil, validationError(fmt.Sprintf("status must be one of all, pending, completed; got %q", s))
		}
	}

	tasks, err := r.tasks.List(ctx, ownerID, filter)
	if err != nil {
		return nil, storeError(err)
	}

	out := TaskListOutput{Tasks: make([]TaskSummary, 0, len(tasks)), Count: len(tasks)}
	for _, t := range tasks {
		summary := TaskSummary{TaskID: t.ID, Title: t.Title, Completed: t.Completed}
		if t.Description != nil {
			summary.Description = *t.Description
		}
		out.Tasks = append(out.Tasks, summary)
	}
	return out, nil
}

func (r *Registry) completeTask(ctx context.Context, ownerID string, args map[string]any) (any, *contractx.ToolError) {
	taskID, terr := taskIDArg(args)
	if terr != nil {
		return nil, terr
	}

	task, err := r.tasks.SetCompleted(ctx, ownerID, taskID)
	if err != nil {
		return nil, storeError(err)
	}
	return TaskOutput{TaskID: task.ID, Status: "completed", Title: task.Title}, nil
}

func (r *Registry) deleteTask(ctx context.Context, ownerID string, args map[string]any) (any, *contractx.ToolError) {
	taskID, terr := taskIDArg(args)
	if terr != nil {
		return nil, terr
	}

	task, err := r.tasks.Delete(ctx, ownerID, taskID)
	if err != nil {
		return nil, storeError(err)
	}
	return TaskOutput{TaskID: task.ID, Status: "deleted", Title: task.Title}, nil
}

func (r *Registry) updateTask(ctx context.Context, ownerID string, args map[string]any) (any, *contractx.ToolError) {
	taskID, terr := taskIDArg(args)
	if terr != nil {
		return nil, terr
	}

	var title *string
	if _, ok := args["title"]; ok {
		t, terr := titleArg(args, true)
		if terr != nil {
			return nil, terr
		}
		title = &t
	}
	description, terr := descriptionArg(args)
	if terr != nil {
		return nil, terr
	}
	if title == nil && description == nil {
		return nil, validationError("at least one of title or description is required")
	}

	task, err := r.tasks.Update(ctx, ownerID, taskID, title, description)
	if err != nil {
		return nil, storeError(err)
	}
	return TaskOutput{TaskID: task.ID, Status: "updated", Title: task.Title}, nil
}

/* ------------------------------ arg parsing ------------------------------ */

func titleArg(args map[string]any, required bool) (string, *contractx.ToolError) {
	raw, ok := args["title"]
	if !ok {
		if required {
			return "", validationError("title is required")
		}
		return "", nil
	}
	title, ok := raw.(string)
	if !ok {
		return "", validationError("title must be a string")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return "", validationError("title must not be empty")
	}
	if len(title) > maxTitleLen {
		return "", validationError(fmt.Sprintf("title must be at most %d characters", maxTitleLen))
	}
	return title, nil
}

func descriptionArg(args map[string]any) (*string, *contractx.ToolError) {
	raw, ok := args["description"]
	if !ok || raw == nil {
		return nil, nil
	}
	description, ok := raw.(string)
	if !ok {
		return nil, validationError("description must be a string")
	}
	if len(description) > maxDescriptionLen {
		return nil, validationError(fmt.Sprintf("description must be at most %d characters", maxDescriptionLen))
	}
	return &description, nil
}

// taskIDArg tolerates the numeric encodings models actually produce: JSON
// numbers arrive as float64, some models quote them as strings.
func taskIDArg(args map[string]any) (int64, *contractx.ToolError) {
	raw, ok := args["task_id"]
	if !ok {
		return 0, validationError("task_id is required")
	}

	var id int64
	switch v := raw.(type) {
	case float64:
		if v != float64(int64(v)) {
			return 0, validationError("task_id must be an integer")
		}
		id = int64(v)
	case int:
		id = int64(v)
	case int64:
		id = v
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0, validationError("task_id must be an integer")
		}
		id = parsed
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, validationError("task_id must be an integer")
		}
		id = parsed
	default:
		return 0, validationError("task_id must be an integer")
	}

	if id < 1 {
		return 0, validationError("task_id must be a positive integer")
	}
	return id, nil
}

func validationError(msg string) *contractx.ToolError {
	return &contractx.ToolError{Kind: contractx.ErrorKindValidation, Message: msg}
}

func storeError(err error) *contractx.ToolError {
	if errors.Is(err, storex.ErrTaskNotFound) {
		return &contractx.ToolError{
			Kind:    contractx.ErrorKindNotFound,
			Message: "no task with that id exists for this user",
		}
	}
	return &contractx.ToolError{
		Kind:    contractx.ErrorKindInternal,
		Message: "task store operation failed",
	}
}
