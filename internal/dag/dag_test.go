package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSucceedsOnValidGraph(t *testing.T) {
	_, err := Build([]Node{
		{ID: 1, Status: "done"},
		{ID: 2, Status: "backlog", DependsOn: []int{1}},
		{ID: 3, Status: "backlog", DependsOn: []int{1, 2}},
	})
	require.NoError(t, err)
}

func TestBuildRejectsDuplicateID(t *testing.T) {
	_, err := Build([]Node{
		{ID: 1, Status: "backlog"},
		{ID: 1, Status: "backlog"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate task id in board: #1")
}

func TestBuildRejectsMissingDependency(t *testing.T) {
	_, err := Build([]Node{
		{ID: 1, Status: "backlog", DependsOn: []int{99}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task #1 depends on missing task #99")
}

func TestBuildRejectsCycleAndNamesEachNodeOnce(t *testing.T) {
	_, err := Build([]Node{
		{ID: 1, Status: "backlog", DependsOn: []int{2}},
		{ID: 2, Status: "backlog", DependsOn: []int{3}},
		{ID: 3, Status: "backlog", DependsOn: []int{1}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency cycle detected:")
	assert.Contains(t, err.Error(), "#1 -> #3 -> #2 -> #1")
}

func TestReadySetMatchesDefinition(t *testing.T) {
	d, err := Build([]Node{
		{ID: 1, Status: "done"},
		{ID: 2, Status: "backlog", DependsOn: []int{1}},
		{ID: 3, Status: "todo", DependsOn: []int{2}},
		{ID: 4, Status: "in-progress"},
	})
	require.NoError(t, err)

	ready := d.ReadySet(map[int]bool{1: true})
	assert.Equal(t, []int{2}, ready)

	ready = d.ReadySet(map[int]bool{1: true, 2: true})
	assert.Equal(t, []int{2, 3}, ready)
}

func TestTopologicalSortOrdersDependenciesBeforeDependentsWithIDTieBreak(t *testing.T) {
	d, err := Build([]Node{
		{ID: 3, Status: "backlog", DependsOn: []int{1}},
		{ID: 2, Status: "backlog", DependsOn: []int{1}},
		{ID: 1, Status: "backlog"},
	})
	require.NoError(t, err)

	order, err := d.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestTopologicalSortFailsOnCycle(t *testing.T) {
	d := &TaskDag{
		nodes: map[int]Node{1: {ID: 1, DependsOn: []int{2}}, 2: {ID: 2, DependsOn: []int{1}}},
		edges: map[int][]int{1: {2}, 2: {1}},
		order: []int{1, 2},
	}
	_, err := d.TopologicalSort()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency graph contains a cycle")
}
