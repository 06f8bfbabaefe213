// Package savestate implements the persisted-graph record (§3.7, §6.4):
// collecting a snapshot of every hosted plug-in and edge in a graph.Graph,
// and restoring a graph from one. Grounded on the yaml.v3-tagged
// persistence style used throughout the pack for on-disk state, and on
// original_source/src/engine/save_state.rs for the field set a restore
// needs to carry.
package savestate

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/meadowlarkdaw/dropseed-go/pkg/graph"
)

// Two sentinel indices identify the graph's fixed input/output nodes in
// an EdgeSaveState, since they never appear in GraphSaveState.Plugins.
const (
	GraphInputIndex  = -1
	GraphOutputIndex = -2
)

// PluginSaveState is one plug-in's persisted record: everything needed
// to re-scan, re-instantiate, and restore it to its prior configuration.
type PluginSaveState struct {
	ScannedKey string `yaml:"scanned_key"`
	Active     bool   `yaml:"active"`
	StateBlob  []byte `yaml:"state_blob,omitempty"`

	// Backup port descriptors, used to keep the plug-in routable as an
	// UnloadedPlugin task if the scanned key no longer resolves.
	BackupAudioIn  []AudioPort `yaml:"backup_audio_in,omitempty"`
	BackupAudioOut []AudioPort `yaml:"backup_audio_out,omitempty"`
	BackupNoteIn   []NotePort  `yaml:"backup_note_in,omitempty"`
	BackupNoteOut  []NotePort  `yaml:"backup_note_out,omitempty"`
}

// AudioPort and NotePort mirror pluginhost's port descriptors with
// yaml tags, kept distinct so pluginhost stays free of a persistence
// dependency.
type AudioPort struct {
	StableID uint32 `yaml:"stable_id"`
	Channels uint16 `yaml:"channels"`
	TypeHint string `yaml:"type_hint,omitempty"`
	Main     uint8  `yaml:"main"`
}

type NotePort struct {
	StableID uint32 `yaml:"stable_id"`
	Main     uint8  `yaml:"main"`
}

// EdgeSaveState is one persisted connection. SrcPluginIndex/DstPluginIndex
// index into GraphSaveState.Plugins, or are one of the GraphInputIndex/
// GraphOutputIndex sentinels for the graph's fixed nodes.
type EdgeSaveState struct {
	Type           graph.PortType  `yaml:"type"`
	SrcPluginIndex int             `yaml:"src_plugin_index"`
	DstPluginIndex int             `yaml:"dst_plugin_index"`
	SrcPort        graph.PortChannel `yaml:"src_port"`
	DstPort        graph.PortChannel `yaml:"dst_port"`
}

// GraphSaveState is the full persisted snapshot of a graph.Graph.
type GraphSaveState struct {
	Plugins []PluginSaveState `yaml:"plugins"`
	Edges   []EdgeSaveState   `yaml:"edges"`
}

// Encode renders a graph save state into its on-disk YAML form, the
// exact encoding §6.4 delegates to the serialisation collaborator.
func (s GraphSaveState) Encode() ([]byte, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("savestate: encode: %w", err)
	}
	return out, nil
}

// Decode parses a graph save state previously produced by Encode.
func Decode(data []byte) (GraphSaveState, error) {
	var s GraphSaveState
	if err := yaml.Unmarshal(data, &s); err != nil {
		return GraphSaveState{}, fmt.Errorf("savestate: decode: %w", err)
	}
	return s, nil
}
