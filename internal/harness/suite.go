package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult aggregates the results of several scenario files.
type SuiteResult struct {
	Total    int            `json:"total"`
	Passed   int            `json:"passed"`
	Failed   int            `json:"failed"`
	Failures []SuiteFailure `json:"failures,omitempty"`
}

// SuiteFailure is one scenario that failed to load, run or pass.
type SuiteFailure struct {
	Scenario string   `json:"scenario"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// CollectScenarios expands paths into scenario files. Directories are
// searched (non-recursively) for *.yaml and *.yml files. The result is
// sorted and free of duplicates.
func CollectScenarios(paths []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("scenario path %s: %w", p, err)
		}
		if !info.IsDir() {
			add(p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("read scenario dir %s: %w", p, err)
		}
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
				add(filepath.Join(p, e.Name()))
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// RunSuite loads and runs every scenario file under paths.
// A scenario that fails to load is counted as failed; the suite goes on.
// The per-file results are returned in path order alongside the summary.
func RunSuite(paths []string, opts Options) (*SuiteResult, map[string]*Result, error) {
	files, err := CollectScenarios(paths)
	if err != nil {
		return nil, nil, err
	}

	summary := &SuiteResult{}
	results := make(map[string]*Result, len(files))
	for _, path := range files {
		summary.Total++
		scenario, err := LoadScenario(path)
		if err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, SuiteFailure{Path: path, Errors: []string{err.Error()}})
			continue
		}
		result, err := RunWithOptions(scenario, opts)
		if err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, SuiteFailure{Scenario: scenario.Name, Path: path, Errors: []string{err.Error()}})
			continue
		}
		results[path] = result
		if result.Pass {
			summary.Passed++
			continue
		}
		summary.Failed++
		summary.Failures = append(summary.Failures, SuiteFailure{Scenario: scenario.Name, Path: path, Errors: result.Errors})
	}
	return summary, results, nil
}
