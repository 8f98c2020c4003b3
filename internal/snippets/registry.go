package snippets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/phrazzld/snippet-runner/internal/task"
)

// Snippet groups.
const (
	GroupLoading   = "loading"
	GroupSearching = "searching"
	GroupDeleting  = "deleting"
	GroupRedo      = "redo"
)

// ErrUnknownSnippet is returned by Resolve for names matching nothing.
var ErrUnknownSnippet = errors.New("unknown snippet")

// Func runs one snippet against env.
type Func func(ctx context.Context, env *Env) (task.Report, error)

// Snippet is one runnable example.
type Snippet struct {
	Group       string
	Name        string
	Description string
	Run         Func

	// Continuous snippets run until the context is cancelled.
	Continuous bool
}

// ID returns group/name.
func (s Snippet) ID() string {
	return s.Group + "/" + s.Name
}

// Registry returns every snippet in run order.
func Registry() []Snippet {
	return []Snippet{
		{
			Group:       GroupLoading,
			Name:        "add-records",
			Description: "add a fixed set of records one at a time",
			Run:         AddRecords,
		},
		{
			Group:       GroupLoading,
			Name:        "load-via-futures",
			Description: "load records through the bounded worker pool",
			Run:         LoadViaFutures,
		},
		{
			Group:       GroupLoading,
			Name:        "load-with-info-via-futures",
			Description: "load records with info and fetch every affected entity",
			Run:         LoadWithInfoViaFutures,
		},
		{
			Group:       GroupLoading,
			Name:        "load-via-queue",
			Description: "load records through a producer/consumer queue",
			Run:         LoadViaQueue,
		},
		{
			Group:       GroupLoading,
			Name:        "load-with-stats-via-loop",
			Description: "load records one at a time, printing run statistics",
			Run:         LoadWithStatsViaLoop,
		},
		{
			Group:       GroupLoading,
			Name:        "load-truthset-with-info-via-loop",
			Description: "load the truth set one record at a time with info",
			Run:         LoadTruthSetWithInfoViaLoop,
		},
		{
			Group:       GroupSearching,
			Name:        "search-records",
			Description: "run a fixed set of searches one at a time",
			Run:         SearchRecords,
		},
		{
			Group:       GroupSearching,
			Name:        "search-via-futures",
			Description: "search by attributes through the bounded worker pool",
			Run:         SearchViaFutures,
		},
		{
			Group:       GroupDeleting,
			Name:        "delete-via-loop",
			Description: "delete records one at a time",
			Run:         DeleteViaLoop,
		},
		{
			Group:       GroupDeleting,
			Name:        "delete-via-futures",
			Description: "delete records with info through the bounded worker pool",
			Run:         DeleteViaFutures,
		},
		{
			Group:       GroupRedo,
			Name:        "load-with-redo-via-loop",
			Description: "load the truth set, then process its redo records one at a time",
			Run:         LoadWithRedoViaLoop,
		},
		{
			Group:       GroupRedo,
			Name:        "redo-continuous",
			Description: "process redo records one at a time until interrupted",
			Run:         RedoContinuous,
			Continuous:  true,
		},
		{
			Group:       GroupRedo,
			Name:        "redo-continuous-via-futures",
			Description: "process redo records until interrupted",
			Run:         RedoContinuousViaFutures,
			Continuous:  true,
		},
		{
			Group:       GroupRedo,
			Name:        "redo-with-info-continuous",
			Description: "process redo records with info until interrupted",
			Run:         RedoWithInfoContinuous,
			Continuous:  true,
		},
	}
}

// Resolve selects snippets from reg. Each argument is a snippet name, a
// group, group/name, or "all". The result keeps registry order and holds
// no duplicates; no arguments selects nothing.
func Resolve(reg []Snippet, args []string) ([]Snippet, error) {
	selected := make(map[string]bool, len(reg))
	var unknown []string

	for _, arg := range args {
		arg = strings.Trim(strings.TrimSpace(arg), "/")
		matched := false
		for _, s := range reg {
			if arg == "all" || arg == s.Group || arg == s.Name || arg == s.ID() {
				selected[s.ID()] = true
				matched = true
			}
		}
		if !matched {
			unknown = append(unknown, arg)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSnippet, strings.Join(unknown, ", "))
	}

	out := make([]Snippet, 0, len(selected))
	for _, s := range reg {
		if selected[s.ID()] {
			out = append(out, s)
		}
	}
	return out, nil
}
