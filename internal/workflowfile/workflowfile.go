// Package workflowfile reads workflow definitions from YAML or JSON files.
//
// Nodes may be written flat:
//
//	- id: fetch
//	  type: action
//	  config: {actionType: HTTP Request, endpoint: https://example.com}
//
// or in the editor's export shape, with the node fields under data:
//
//	{"id": "fetch", "data": {"type": "action", "config": {...}}}
package workflowfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wehubfusion/Daedalus/pkg/workflow"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a workflow file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// File is a decoded workflow definition.
type File struct {
	ID    string
	Name  string
	Nodes []workflow.Node
	Edges []workflow.Edge
	// Trigger is the default trigger input, used when a run supplies none.
	Trigger map[string]any
	// Credentials maps integration ids to credential fields for local runs.
	Credentials map[string]map[string]string
}

type fileDoc struct {
	ID          string                       `json:"id" yaml:"id"`
	Name        string                       `json:"name" yaml:"name"`
	Nodes       []nodeDoc                    `json:"nodes" yaml:"nodes"`
	Edges       []workflow.Edge              `json:"edges" yaml:"edges"`
	Trigger     map[string]any               `json:"trigger" yaml:"trigger"`
	Credentials map[string]map[string]string `json:"credentials" yaml:"credentials"`
}

type nodeFields struct {
	Type    string         `json:"type" yaml:"type"`
	Label   string         `json:"label" yaml:"label"`
	Enabled *bool          `json:"enabled" yaml:"enabled"`
	Config  map[string]any `json:"config" yaml:"config"`
}

type nodeDoc struct {
	ID         string `json:"id" yaml:"id"`
	nodeFields `yaml:",inline"`
	Data       *nodeFields `json:"data" yaml:"data"`
}

// Load reads a workflow file, choosing the format from its extension.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	format := FormatYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = FormatJSON
	}
	f, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a workflow definition, checks it against the file schema
// and validates its graph.
func Parse(data []byte, format Format) (*File, error) {
	var unmarshal func([]byte, any) error
	switch format {
	case FormatJSON:
		unmarshal = json.Unmarshal
	case FormatYAML:
		unmarshal = yaml.Unmarshal
	default:
		return nil, fmt.Errorf("unsupported workflow format %q", format)
	}

	var raw any
	if err := unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse workflow %s: %w", strings.ToUpper(string(format)), err)
	}
	if err := checkShape(raw); err != nil {
		return nil, err
	}
	var doc fileDoc
	if err := unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse workflow %s: %w", strings.ToUpper(string(format)), err)
	}

	f := &File{
		ID:          doc.ID,
		Name:        doc.Name,
		Edges:       doc.Edges,
		Trigger:     doc.Trigger,
		Credentials: doc.Credentials,
		Nodes:       make([]workflow.Node, 0, len(doc.Nodes)),
	}
	for i, nd := range doc.Nodes {
		node, err := nd.node()
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		f.Nodes = append(f.Nodes, node)
	}
	if err := workflow.Validate(f.Nodes, f.Edges); err != nil {
		return nil, err
	}
	return f, nil
}

// node merges the flat fields with the data block; flat fields win.
func (nd nodeDoc) node() (workflow.Node, error) {
	fields := nd.nodeFields
	if nd.Data != nil {
		if fields.Type == "" || !workflow.NodeType(fields.Type).Valid() && workflow.NodeType(nd.Data.Type).Valid() {
			fields.Type = nd.Data.Type
		}
		if fields.Label == "" {
			fields.Label = nd.Data.Label
		}
		if fields.Enabled == nil {
			fields.Enabled = nd.Data.Enabled
		}
		if fields.Config == nil {
			fields.Config = nd.Data.Config
		}
	}

	t := workflow.NodeType(fields.Type)
	if !t.Valid() {
		return workflow.Node{}, fmt.Errorf("node %q has unknown type %q", nd.ID, fields.Type)
	}
	config := fields.Config
	if config == nil {
		config = map[string]any{}
	}
	return workflow.Node{
		ID:      nd.ID,
		Type:    t,
		Label:   fields.Label,
		Enabled: fields.Enabled,
		Config:  config,
	}, nil
}

// Input builds a run request. A nil trigger input falls back to the file's
// default trigger.
func (f *File) Input(executionID string, trigger map[string]any) workflow.ExecutionInput {
	if trigger == nil {
		trigger = f.Trigger
	}
	return workflow.ExecutionInput{
		Nodes:        f.Nodes,
		Edges:        f.Edges,
		TriggerInput: trigger,
		ExecutionID:  executionID,
		WorkflowID:   f.ID,
	}
}
