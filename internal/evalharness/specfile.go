package evalharness

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// specYAML is the on-disk shape of one EvaluationSpec file.
type specYAML struct {
	ID       string `yaml:"id"`
	ToolName string `yaml:"tool_name"`
	ModelID  string `yaml:"model_id"`
	Tasks    []struct {
		Instruction     string   `yaml:"instruction"`
		MaxSteps        int      `yaml:"max_steps"`
		ExpectedSignals []string `yaml:"expected_signals"`
	} `yaml:"tasks"`
}

// LoadSpecsDir scans dir for *.yaml/*.yml evaluation spec files and returns
// every spec that parses and validates. A file that fails to read, parse, or
// validate is reported in the error slice rather than aborting the scan — one
// malformed spec file should never prevent the rest of a catalog from
// loading. If dir does not exist, an empty result is returned, not an error.
func LoadSpecsDir(dir string) ([]EvaluationSpec, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("evalharness: scan %q: %w", dir, err)}
	}

	var specs []EvaluationSpec
	var errs []error

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("evalharness: read %q: %w", path, err))
			continue
		}

		var raw specYAML
		if err := yaml.Unmarshal(data, &raw); err != nil {
			errs = append(errs, fmt.Errorf("evalharness: parse %q: %w", path, err))
			continue
		}

		spec, err := raw.toSpec()
		if err != nil {
			errs = append(errs, fmt.Errorf("evalharness: %q: %w", path, err))
			continue
		}
		specs = append(specs, spec)
	}

	return specs, errs
}

func (raw specYAML) toSpec() (EvaluationSpec, error) {
	if raw.ID == "" {
		return EvaluationSpec{}, fmt.Errorf("id is required")
	}
	if raw.ToolName == "" {
		return EvaluationSpec{}, fmt.Errorf("tool_name is required")
	}
	if len(raw.Tasks) == 0 {
		return EvaluationSpec{}, fmt.Errorf("at least one task is required")
	}

	tasks := make([]EvalTask, 0, len(raw.Tasks))
	for i, rt := range raw.Tasks {
		if rt.Instruction == "" {
			return EvaluationSpec{}, fmt.Errorf("task %d: instruction is required", i)
		}
		tasks = append(tasks, EvalTask{
			Instruction:     rt.Instruction,
			MaxSteps:        rt.MaxSteps,
			ExpectedSignals: rt.ExpectedSignals,
		})
	}

	return EvaluationSpec{
		ID:       raw.ID,
		ToolName: raw.ToolName,
		ModelID:  raw.ModelID,
		Tasks:    tasks,
	}, nil
}
