package tool

import (
	"context"
	"errors"
	"strings"
	"testing"

	contractx "taskpilot/agent/contract"
	storex "taskpilot/agent/store"
)

type fakeTasks struct {
	created   []storex.Task
	listOwner string
	listCalls []storex.TaskFilter
	tasks     []storex.Task
	err       error
}

func (f *fakeTasks) Create(ctx context.Context, ownerID, title string, description *string) (*storex.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	task := storex.Task{ID: int64(len(f.created) + 1), OwnerID: ownerID, Title: title, Description: description}
	f.created = append(f.created, task)
	return &task, nil
}

func (f *fakeTasks) List(ctx context.Context, ownerID string, filter storex.TaskFilter) ([]storex.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.listOwner = ownerID
	f.listCalls = append(f.listCalls, filter)
	return f.tasks, nil
}

func (f *fakeTasks) find(ownerID string, taskID int64) (*storex.Task, error) {
	for i := range f.tasks {
		if f.tasks[i].ID == taskID && f.tasks[i].OwnerID == ownerID {
			return &f.tasks[i], nil
		}
	}
	return nil, storex.ErrTaskNotFound
}

func (f *fakeTasks) SetCompleted(ctx context.Context, ownerID string, taskID int64) (*storex.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	task, err := f.find(ownerID, taskID)
	if err != nil {
		return nil, err
	}
	task.Completed = true
	return task, nil
}

func (f *fakeTasks) Update(ctx context.Context, ownerID string, taskID int64, title, description *string) (*storex.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	task, err := f.find(ownerID, taskID)
	if err != nil {
		return nil, err
	}
	if title != nil {
		task.Title = *title
	}
	if description != nil {
		task.Description = description
	}
	return task, nil
}

func (f *fakeTasks) Delete(ctx context.Context, ownerID string, taskID int64) (*storex.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.find(ownerID, taskID)
}

func newTestRegistry(t *testing.T, tasks *fakeTasks) *Registry {
	t.Helper()
	registry, err := NewRegistry(tasks)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return registry
}

func TestInfosMatchesCatalog(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, &fakeTasks{})
	infos := registry.Infos()
	if len(infos) != 5 {
		t.Fatalf("expected 5 tools, got %d", len(infos))
	}

	want := []string{ToolAddTask, ToolListTasks, ToolCompleteTask, ToolDeleteTask, ToolUpdateTask}
	for i, name := range want {
		if infos[i].Name != name {
			t.Fatalf("tool %d: expected %s, got %s", i, name, infos[i].Name)
		}
		if infos[i].Desc == "" {
			t.Fatalf("tool %s has no description", name)
		}
	}
}

func TestAddTask(t *testing.T) {
	t.Parallel()

	tasks := &fakeTasks{}
	registry := newTestRegistry(t, tasks)

	out := registry.Execute(context.Background(), "owner-a", contractx.ToolRequest{
		Tool: ToolAddTask,
		Args: map[string]any{"title": "buy milk", "description": "oat"},
	})
	if out.Error != nil {
		t.Fatalf("unexpected tool error: %+v", out.Error)
	}
	result, ok := out.Result.(TaskOutput)
	if !ok {
		t.Fatalf("unexpected result type: %T", out.Result)
	}
	if result.TaskID == 0 || result.Status != "created" || result.Title != "buy milk" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if tasks.created[0].OwnerID != "owner-a" {
		t.Fatalf("owner not injected: %q", tasks.created[0].OwnerID)
	}
}

func TestAddTaskValidation(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, &fakeTasks{})

	cases := []struct {
		name string
		args map[string]any
	}{
		{"missing title", map[string]any{}},
		{"empty title", map[string]any{"title": "   "}},
		{"long title", map[string]any{"title": strings.Repeat("x", maxTitleLen+1)}},
		{"long description", map[string]any{"title": "ok", "description": strings.Repeat("x", maxDescriptionLen+1)}},
		{"non-string title", map[string]any{"title": 42}},
	}
	for _, tc := range cases {
		out := registry.Execute(context.Background(), "owner-a", contractx.ToolRequest{Tool: ToolAddTask, Args: tc.args})
		if out.Error == nil || out.Error.Kind != contractx.ErrorKindValidation {
			t.Fatalf("%s: expected validation_error, got %+v", tc.name, out.Error)
		}
	}
}

func TestListTasksStatusFilter(t *testing.T) {
	t.Parallel()

	tasks := &fakeTasks{tasks: []storex.Task{
		{ID: 1, OwnerID: "owner-a", Title: "one"},
		{ID: 2, OwnerID: "owner-a", Title: "two", Completed: true},
	}}
	registry := newTestRegistry(t, tasks)

	out := registry.Execute(context.Background(), "owner-a", contractx.ToolRequest{Tool: ToolListTasks, Args: map[string]any{}})
	if out.Error != nil {
		t.Fatalf("unexpected error: %+v", out.Error)
	}
	listed, ok := out.Result.(TaskListOutput)
	if !ok {
		t.Fatalf("unexpected result type: %T", out.Result)
	}
	if listed.Count != 2 {
		t.Fatalf("expected 2 tasks, got %d", listed.Count)
	}
	if tasks.listCalls[0] != storex.TaskFilterAll {
		t.Fatalf("default filter should be all, got %s", tasks.listCalls[0])
	}

	out = registry.Execute(context.Background(), "owner-a", contractx.ToolRequest{Tool: ToolListTasks, Args: map[string]any{"status": "pending"}})
	if out.Error != nil {
		t.Fatalf("unexpected error: %+v", out.Error)
	}
	if tasks.listCalls[1] != storex.TaskFilterPending {
		t.Fatalf("expected pending filter, got %s", tasks.listCalls[1])
	}

	out = registry.Execute(context.Background(), "owner-a", contractx.ToolRequest{Tool: ToolListTasks, Args: map[string]any{"status": "bogus"}})
	if out.Error == nil || out.Error.Kind != contractx.ErrorKindValidation {
		t.Fatalf("expected validation_error for bad status, got %+v", out.Error)
	}
}

func TestCompleteTaskNotFound(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, &fakeTasks{})
	out := registry.Execute(context.Background(), "owner-a", contractx.ToolRequest{
		Tool: ToolCompleteTask,
		Args: map[string]any{"task_id": float64(7)},
	})
	if out.Error == nil || out.Error.Kind != contractx.ErrorKindNotFound {
		t.Fatalf("expected not_found, got %+v", out.Error)
	}
	if out.Error.Message == "" {
		t.Fatal("expected human-readable message")
	}
}

func TestTaskIDCoercion(t *testing.T) {
	t.Parallel()

	tasks := &fakeTasks{tasks: []storex.Task{{ID: 3, OwnerID: "owner-a", Title: "three"}}}
	registry := newTestRegistry(t, tasks)

	for _, raw := range []any{float64(3), "3", int(3)} {
		out := registry.Execute(context.Background(), "owner-a", contractx.ToolRequest{
			Tool: ToolCompleteTask,
			Args: map[string]any{"task_id": raw},
		})
		if out.Error != nil {
			t.Fatalf("task_id=%v (%T): unexpected error %+v", raw, raw, out.Error)
		}
	}

	for _, raw := range []any{float64(3.5), "abc", float64(0), float64(-1)} {
		out := registry.Execute(context.Background(), "owner-a", contractx.ToolRequest{
			Tool: ToolCompleteTask,
			Args: map[string]any{"task_id": raw},
		})
		if out.Error == nil || out.Error.Kind != contractx.ErrorKindValidation {
			t.Fatalf("task_id=%v (%T): expected validation_error, got %+v", raw, raw, out.Error)
		}
	}
}

func TestUpdateTaskRequiresField(t *testing.T) {
	t.Parallel()

	tasks := &fakeTasks{tasks: []storex.Task{{ID: 1, OwnerID: "owner-a", Title: "old"}}}
	registry := newTestRegistry(t, tasks)

	out := registry.Execute(context.Background(), "owner-a", contractx.ToolRequest{
		Tool: ToolUpdateTask,
		Args: map[string]any{"task_id": float64(1)},
	})
	if out.Error == nil || out.Error.Kind != contractx.ErrorKindValidation {
		t.Fatalf("expected validation_error without fields, got %+v", out.Error)
	}

	out = registry.Execute(context.Background(), "owner-a", contractx.ToolRequest{
		Tool: ToolUpdateTask,
		Args: map[string]any{"task_id": float64(1), "title": "new"},
	})
	if out.Error != nil {
		t.Fatalf("unexpected error: %+v", out.Error)
	}
	if tasks.tasks[0].Title != "new" {
		t.Fatalf("title not updated: %q", tasks.tasks[0].Title)
	}
}

func TestUnknownToolRejected(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, &fakeTasks{})
	out := registry.Execute(context.Background(), "owner-a", contractx.ToolRequest{Tool: "drop_database"})
	if out.Error == nil || out.Error.Kind != contractx.ErrorKindInternal {
		t.Fatalf("expected internal_error for unknown tool, got %+v", out.Error)
	}
}

func TestStoreFailureBecomesInternalError(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, &fakeTasks{err: errors.New("connection reset")})
	out := registry.Execute(context.Background(), "owner-a", contractx.ToolRequest{
		Tool: ToolAddTask,
		Args: map[string]any{"title": "buy milk"},
	})
	if out.Error == nil || out.Error.Kind != contractx.ErrorKindInternal {
		t.Fatalf("expected internal_error, got %+v", out.Error)
	}
	if strings.Contains(out.Error.Message, "connection reset") {
		t.Fatal("raw store error must not leak into tool error message")
	}
}
