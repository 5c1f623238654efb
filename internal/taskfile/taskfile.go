// Package taskfile loads batches of sort tasks from YAML or JSON files.
//
// A file is either a list of tasks or a mapping with a "tasks" list:
//
//	tasks:
//	  - algorithm: bubbleSort
//	    worker: 0
//	    data: [5, 3, 4, 1, 2]
//	  - algorithm: quickSort
//	    options: {pivot: middle}
//	    data:
//	      generate: {kind: random, size: 1000, seed: 7}
package taskfile

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/sortpool/internal/pool"
	"github.com/zjrosen/sortpool/internal/protocol"
)

// ErrInvalidTaskFile is returned for files that do not describe a task batch.
var ErrInvalidTaskFile = errors.New("invalid task file")

// Task is one entry of a task file.
type Task struct {
	Worker    *int           `yaml:"worker"`
	Algorithm string         `yaml:"algorithm"`
	Data      Data           `yaml:"data"`
	Options   map[string]any `yaml:"options"`
}

type file struct {
	Tasks []Task `yaml:"tasks"`
}

// Load reads and parses path.
func Load(path string) ([]pool.TaskRequest, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- user supplied task file
	if err != nil {
		return nil, fmt.Errorf("reading task file: %w", err)
	}
	reqs, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reqs, nil
}

// Parse decodes a YAML or JSON task batch.
func Parse(raw []byte) ([]pool.TaskRequest, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTaskFile, err)
	}
	if len(root.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidTaskFile)
	}

	var tasks []Task
	doc := root.Content[0]
	switch doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&tasks); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTaskFile, err)
		}
	case yaml.MappingNode:
		var f file
		if err := doc.Decode(&f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTaskFile, err)
		}
		tasks = f.Tasks
	default:
		return nil, fmt.Errorf("%w: expected a list of tasks", ErrInvalidTaskFile)
	}

	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: no tasks", ErrInvalidTaskFile)
	}

	reqs := make([]pool.TaskRequest, len(tasks))
	for i, t := range tasks {
		if t.Algorithm == "" {
			return nil, fmt.Errorf("%w: task %d: algorithm is required", ErrInvalidTaskFile, i)
		}
		reqs[i] = pool.TaskRequest{
			WorkerID:  t.Worker,
			Algorithm: t.Algorithm,
			Data:      []protocol.Element(t.Data),
			Options:   protocol.Options(t.Options),
		}
	}
	return reqs, nil
}

// Data is a task's input. In a file it is either a list of numbers and
// records, or a mapping with a "generate" spec.
type Data []protocol.Element

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Data) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		out := make([]protocol.Element, len(node.Content))
		for i, item := range node.Content {
			e, err := decodeElement(item)
			if err != nil {
				return fmt.Errorf("data[%d]: %w", i, err)
			}
			out[i] = e
		}
		*d = out
		return nil

	case yaml.MappingNode:
		var spec struct {
			Generate *Generator `yaml:"generate"`
		}
		if err := node.Decode(&spec); err != nil {
			return err
		}
		if spec.Generate == nil {
			return fmt.Errorf("line %d: data mapping needs a generate spec", node.Line)
		}
		out, err := spec.Generate.Generate()
		if err != nil {
			return err
		}
		*d = out
		return nil

	default:
		return fmt.Errorf("line %d: data must be a list or a generate spec", node.Line)
	}
}

func decodeElement(node *yaml.Node) (protocol.Element, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		var v float64
		if err := node.Decode(&v); err != nil {
			return protocol.Element{}, fmt.Errorf("line %d: %q is not a number", node.Line, node.Value)
		}
		return protocol.Num(v), finite(v, node.Line)

	case yaml.MappingNode:
		var fields map[string]any
		if err := node.Decode(&fields); err != nil {
			return protocol.Element{}, err
		}
		v, ok := number(fields["value"])
		if !ok {
			return protocol.Element{}, fmt.Errorf("line %d: record needs a numeric \"value\"", node.Line)
		}
		delete(fields, "value")
		return protocol.Record(v, fields), finite(v, node.Line)

	default:
		return protocol.Element{}, fmt.Errorf("line %d: element must be a number or a record", node.Line)
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func finite(v float64, line int) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("line %d: %v is not a finite number", line, v)
	}
	return nil
}

// ParseNumbers parses a comma separated list such as "5,3,4,1,2".
func ParseNumbers(s string) ([]protocol.Element, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []protocol.Element{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]protocol.Element, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("element %d: %q is not a number", i, p)
		}
		if err := finite(v, 0); err != nil {
			return nil, fmt.Errorf("element %d: %v is not a finite number", i, v)
		}
		out[i] = protocol.Num(v)
	}
	return out, nil
}
