package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/rustible/rustible/internal/connection"
	"github.com/rustible/rustible/internal/inventory"
	"github.com/rustible/rustible/internal/model"
	"github.com/rustible/rustible/internal/modules"
)

func sequenceNode(items ...string) *yaml.Node {
	var node yaml.Node
	value := "[" + quoteJoin(items) + "]"
	_ = yaml.Unmarshal([]byte(value), &node)
	return node.Content[0]
}

func quoteJoin(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ", "
		}
		out += `"` + item + `"`
	}
	return out
}

func newTestExecutor() *Executor {
	reg := modules.NewRegistry()
	reg.Register(modules.NewDebug())
	reg.Register(modules.NewCommand())
	reg.Register(modules.NewSetup())
	pool := connection.NewPool(map[string]connection.Dialer{
		"local": connection.DialerFunc(func(ctx context.Context, host, user string) (connection.Connection, error) {
			return connection.NewLocal(), nil
		}),
	}, nil)
	return New(reg, pool, "local", Options{})
}

func testInventory(hosts ...string) *inventory.Inventory {
	inv := inventory.New()
	for _, h := range hosts {
		inv.AddHost(h, nil)
	}
	return inv
}

func taskWithModule(name string, args map[string]any) model.Task {
	return model.Task{Name: name, Invocation: &model.ModuleInvocation{Module: "debug", Args: args}, LoopControl: model.LoopControl{LoopVar: model.DefaultLoopVar}}
}

func TestRunPlaybook_RunsTaskAcrossAllHosts(t *testing.T) {
	e := newTestExecutor()
	inv := testInventory("h1", "h2")
	pb := &model.Playbook{Plays: []model.Play{{
		Name: "p", Hosts: "all", GatherFacts: boolPtr(false),
		Tasks: []model.Task{taskWithModule("say hi", map[string]any{"msg": "hi"})},
	}}}

	res, err := e.RunPlaybook(context.Background(), pb, inv)
	require.NoError(t, err)
	assert.Len(t, res.Tasks, 2)
	assert.False(t, res.AnyFailedPermanently())
}

func TestRunPlaybook_WhenFalseSkipsTask(t *testing.T) {
	e := newTestExecutor()
	inv := testInventory("h1")
	task := taskWithModule("maybe", map[string]any{"msg": "hi"})
	task.When = model.When{Conditions: []string{"1 == 2"}}
	pb := &model.Playbook{Plays: []model.Play{{
		Name: "p", Hosts: "all", GatherFacts: boolPtr(false),
		Tasks: []model.Task{task},
	}}}

	res, err := e.RunPlaybook(context.Background(), pb, inv)
	require.NoError(t, err)
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, StatusSkipped, res.Tasks[0].Status)
}

func TestRunPlaybook_HandlerFiresOnceOnChange(t *testing.T) {
	e := newTestExecutor()
	inv := testInventory("h1")
	notifier := taskWithModule("trigger", map[string]any{"msg": "hi"})
	notifier.ChangedWhen = model.When{Conditions: []string{"true"}}
	notifier.Notify = []string{"restart thing"}

	handler := model.Handler{Task: taskWithModule("restart thing", map[string]any{"msg": "restarted"})}

	pb := &model.Playbook{Plays: []model.Play{{
		Name: "p", Hosts: "all", GatherFacts: boolPtr(false),
		Tasks:    []model.Task{notifier},
		Handlers: []model.Handler{handler},
	}}}

	res, err := e.RunPlaybook(context.Background(), pb, inv)
	require.NoError(t, err)
	require.Len(t, res.Tasks, 2)
	assert.Equal(t, StatusChanged, res.Tasks[0].Status)
	assert.Equal(t, "restarted", res.Tasks[1].Msg)
}

func TestRunPlaybook_LoopRunsOncePerItem(t *testing.T) {
	e := newTestExecutor()
	inv := testInventory("h1")
	task := taskWithModule("loopy", map[string]any{"msg": "{{ item }}"})
	loopNode := sequenceNode("a", "b", "c")
	task.Loop = loopNode

	pb := &model.Playbook{Plays: []model.Play{{
		Name: "p", Hosts: "all", GatherFacts: boolPtr(false),
		Tasks: []model.Task{task},
	}}}

	res, err := e.RunPlaybook(context.Background(), pb, inv)
	require.NoError(t, err)
	assert.Len(t, res.Tasks, 3)
}

func TestRunPlaybook_BlockRescueRunsOnFailure(t *testing.T) {
	e := newTestExecutor()
	inv := testInventory("h1")

	failing := model.Task{Name: "fail", Invocation: &model.ModuleInvocation{Module: "command", Args: map[string]any{"_raw_params": "false"}}}
	failing.FailedWhen = model.When{Conditions: []string{"true"}}
	rescueTask := taskWithModule("recover", map[string]any{"msg": "recovered"})

	block := model.Task{Block: []model.Task{failing}, Rescue: []model.Task{rescueTask}}

	pb := &model.Playbook{Plays: []model.Play{{
		Name: "p", Hosts: "all", GatherFacts: boolPtr(false),
		Tasks: []model.Task{block},
	}}}

	res, err := e.RunPlaybook(context.Background(), pb, inv)
	require.NoError(t, err)
	require.Len(t, res.Tasks, 2)
	assert.Equal(t, StatusFailed, res.Tasks[0].Status)
	assert.Equal(t, "recovered", res.Tasks[1].Msg)
	assert.False(t, res.AnyFailedPermanently())
}

func TestBatchHosts_SplitsBySerialSizeRepeatingLast(t *testing.T) {
	batches := batchHosts([]string{"a", "b", "c", "d", "e"}, []int{2})
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, batches)
}

func TestBatchHosts_NoSerialIsOneBatch(t *testing.T) {
	batches := batchHosts([]string{"a", "b"}, nil)
	assert.Equal(t, [][]string{{"a", "b"}}, batches)
}

func boolPtr(b bool) *bool { return &b }
