package plugins

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/linht/pir-manager/pyd1598"
)

// sensorEntry is one sensor of the stored list, keys in file order
type sensorEntry []entryField

type entryField struct {
	key   string
	value interface{}
}

func (e sensorEntry) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, f := range e {
		if i > 0 {
			buf = append(buf, ',')
		}
		k, _ := json.Marshal(f.key)
		v, err := json.Marshal(f.value)
		if err != nil {
			return nil, fmt.Errorf("sensor field %s: %w", f.key, err)
		}
		buf = append(append(append(buf, k...), ':'), v...)
	}
	return append(buf, '}'), nil
}

// entryValue converts the nodes of the sensor list. Integer, boolean and null
// scalars keep their JSON type; any other scalar is passed as text.
func entryValue(node *yaml.Node) interface{} {
	switch node.Kind {
	case yaml.MappingNode:
		e := make(sensorEntry, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			e = append(e, entryField{node.Content[i].Value, entryValue(node.Content[i+1])})
		}
		return e
	case yaml.SequenceNode:
		list := make([]interface{}, 0, len(node.Content))
		for _, item := range node.Content {
			list = append(list, entryValue(item))
		}
		return list
	}

	switch node.ShortTag() {
	case "!!int":
		var n int64
		if node.Decode(&n) == nil {
			return n
		}
	case "!!bool":
		var b bool
		if node.Decode(&b) == nil {
			return b
		}
	case "!!null":
		return nil
	}
	return node.Value
}

// mappingValue returns the value node of key in a mapping node
func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// setMappingValue replaces the value of key, or appends the pair
func setMappingValue(node *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			// keep comments attached to the old value
			value.HeadComment = node.Content[i+1].HeadComment
			value.LineComment = node.Content[i+1].LineComment
			node.Content[i+1] = value
			return
		}
	}
	node.Content = append(node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: key, Tag: "!!str"},
		value)
}

func scalarNode(value interface{}) *yaml.Node {
	switch v := value.(type) {
	case string:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: v, Tag: "!!str"}
	case int:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: strconv.Itoa(v), Tag: "!!int"}
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: strconv.FormatBool(v), Tag: "!!bool"}
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: fmt.Sprintf("%v", v)}
	}
}

// profileNode renders a complete profile in register order
func profileNode(c pyd1598.Config) *yaml.Node {
	p := ProfileFromConfig(c)
	node := &yaml.Node{Kind: yaml.MappingNode}
	pairs := []struct {
		key   string
		value interface{}
	}{
		{"threshold", *p.Threshold},
		{"blind_time", *p.BlindTime},
		{"pulse_counter", *p.PulseCounter},
		{"window_time", *p.WindowTime},
		{"operation_mode", p.OperationMode},
		{"signal_source", p.SignalSource},
		{"hpf_cutoff", p.HPFCutoff},
		{"count_mode", p.CountMode},
	}
	for _, kv := range pairs {
		node.Content = append(node.Content, scalarNode(kv.key), scalarNode(kv.value))
	}
	return node
}

// ProfileStore persists sensor profiles into the pir section of the
// configuration file. Comments and key order of the file are kept.
type ProfileStore struct {
	mu   sync.Mutex
	path string
}

func NewProfileStore(path string) (*ProfileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required to store profiles")
	}
	return &ProfileStore{path: path}, nil
}

func (ps *ProfileStore) read() (*yaml.Node, *yaml.Node, error) {
	data, err := os.ReadFile(ps.path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML into yaml.Node to preserve key order
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, nil, fmt.Errorf("config file %s is empty", ps.path)
	}

	sensors := mappingValue(mappingValue(root.Content[0], "pir"), "sensors")
	if sensors == nil || sensors.Kind != yaml.SequenceNode {
		return nil, nil, fmt.Errorf("config file %s has no pir.sensors list", ps.path)
	}
	return &root, sensors, nil
}

// Load returns the stored sensor list as ordered JSON
func (ps *ProfileStore) Load() (interface{}, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	_, sensors, err := ps.read()
	if err != nil {
		return nil, err
	}
	return entryValue(sensors), nil
}

// Save writes the given configurations as the profiles of the matching
// sensors and returns how many were updated. Sensors missing from the file
// are skipped.
func (ps *ProfileStore) Save(configs map[string]pyd1598.Config) (int, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	root, sensors, err := ps.read()
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, item := range sensors.Content {
		name := mappingValue(item, "name")
		if name == nil {
			continue
		}
		c, ok := configs[name.Value]
		if !ok {
			continue
		}
		setMappingValue(item, "profile", profileNode(c))
		updated++
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return 0, fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(ps.path, buf.Bytes(), 0644); err != nil {
		return 0, fmt.Errorf("failed to write config file: %w", err)
	}
	return updated, nil
}
