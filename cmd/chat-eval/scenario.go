package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type scenarioFile struct {
	Version   string         `yaml:"version"`
	Scenarios []scenarioItem `yaml:"scenarios"`
}

type scenarioItem struct {
	ID            string         `yaml:"id"`
	Title         string         `yaml:"title"`
	UserMessage   string         `yaml:"user_message"`
	MaxIterations int            `yaml:"max_iterations"`
	Turns         []scriptTurn   `yaml:"turns"`
	Expect        expectationSet `yaml:"expect"`
}

type scriptTurn struct {
	Text      string           `yaml:"text"`
	Error     string           `yaml:"error"`
	ToolCalls []scriptToolCall `yaml:"tool_calls"`
}

type scriptToolCall struct {
	Name string         `yaml:"name"`
	Args map[string]any `yaml:"args"`
}

type expectationSet struct {
	// State is the final reducer state: completed or errored.
	State string `yaml:"state"`
	// Blocks is the exact ordered list of assistant block kinds, when set.
	Blocks []string `yaml:"blocks"`
	// MinAudience requires at least one audience block with count >= N.
	MinAudience int `yaml:"min_audience"`
	// MustContain / Forbidden match against the assistant text, case folded.
	MustContain []string `yaml:"must_contain"`
	Forbidden   []string `yaml:"forbidden"`
	// PhasesDone lists phases that must end in the done state.
	PhasesDone []string `yaml:"phases_done"`
}

func loadScenarios(path string) ([]scenarioItem, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("missing scenario path")
	}
	data, err := os.ReadFile(filepath.Clean(cleanPath))
	if err != nil {
		return nil, err
	}
	var file scenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.Scenarios) == 0 {
		return nil, fmt.Errorf("scenario file has no scenarios")
	}

	out := make([]scenarioItem, 0, len(file.Scenarios))
	seen := make(map[string]struct{}, len(file.Scenarios))
	for _, item := range file.Scenarios {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return nil, fmt.Errorf("scenario id is empty")
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate scenario id: %s", id)
		}
		seen[id] = struct{}{}

		if strings.TrimSpace(item.UserMessage) == "" {
			return nil, fmt.Errorf("scenario %s has no user_message", id)
		}
		if len(item.Turns) == 0 {
			return nil, fmt.Errorf("scenario %s has no turns", id)
		}
		for i, turn := range item.Turns {
			for _, call := range turn.ToolCalls {
				if strings.TrimSpace(call.Name) == "" {
					return nil, fmt.Errorf("scenario %s turn %d has a tool call without a name", id, i)
				}
			}
		}
		switch strings.TrimSpace(strings.ToLower(item.Expect.State)) {
		case "", "completed", "errored":
		default:
			return nil, fmt.Errorf("scenario %s has invalid expect.state: %s", id, item.Expect.State)
		}

		item.ID = id
		item.Title = strings.TrimSpace(item.Title)
		item.Expect.MustContain = normalizeStringSlice(item.Expect.MustContain)
		item.Expect.Forbidden = normalizeStringSlice(item.Expect.Forbidden)
		item.Expect.PhasesDone = normalizeStringSlice(item.Expect.PhasesDone)
		out = append(out, item)
	}
	return out, nil
}

func normalizeStringSlice(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, item := range in {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
