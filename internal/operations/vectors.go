package operations

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Distance is the similarity function of a vector space.
type Distance string

const (
	DistanceCosine Distance = "Cosine"
	DistanceEuclid Distance = "Euclid"
	DistanceDot    Distance = "Dot"
)

func (d Distance) Valid() bool {
	switch d {
	case DistanceCosine, DistanceEuclid, DistanceDot:
		return true
	}
	return false
}

// VectorParams configures one vector space of a collection.
type VectorParams struct {
	Size               uint64              `json:"size"`
	Distance           Distance            `json:"distance"`
	HnswConfig         *HnswConfigDiff     `json:"hnsw_config,omitempty"`
	QuantizationConfig *QuantizationConfig `json:"quantization_config,omitempty"`
	OnDisk             *bool               `json:"on_disk,omitempty"`
}

func (p VectorParams) validate(field string) error {
	if p.Size == 0 {
		return invalid(field+".size", "must be at least 1")
	}
	if !p.Distance.Valid() {
		return invalid(field+".distance", "unknown distance %q", p.Distance)
	}
	if p.HnswConfig != nil {
		if err := p.HnswConfig.validate(field + ".hnsw_config"); err != nil {
			return err
		}
	}
	if p.QuantizationConfig != nil {
		if err := p.QuantizationConfig.validate(field + ".quantization_config"); err != nil {
			return err
		}
	}
	return nil
}

// VectorsConfig is either a single unnamed vector space or a set of named
// ones. On the wire the single form is the params object itself and the
// named form is a map from vector name to params.
type VectorsConfig struct {
	Single *VectorParams
	Multi  map[string]VectorParams
}

// SingleVector is shorthand for a collection with one unnamed vector space.
func SingleVector(size uint64, distance Distance) VectorsConfig {
	return VectorsConfig{Single: &VectorParams{Size: size, Distance: distance}}
}

// NamedVectors builds a multi-vector config.
func NamedVectors(params map[string]VectorParams) VectorsConfig {
	return VectorsConfig{Multi: params}
}

// Names returns the vector names in sorted order, or a single empty name for
// the unnamed form.
func (v VectorsConfig) Names() []string {
	if v.Single != nil {
		return []string{""}
	}
	names := make([]string, 0, len(v.Multi))
	for name := range v.Multi {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Empty reports whether neither form is configured.
func (v VectorsConfig) Empty() bool { return v.Single == nil && v.Multi == nil }

func (v VectorsConfig) Validate() error {
	switch {
	case v.Single != nil && v.Multi != nil:
		return invalid("vectors", "must be either a single vector config or named vectors, not both")
	case v.Single != nil:
		return v.Single.validate("vectors")
	case len(v.Multi) == 0:
		return invalid("vectors", "must configure at least one vector")
	}
	for _, name := range v.Names() {
		if name == "" {
			return invalid("vectors", "vector names must not be empty")
		}
		if err := v.Multi[name].validate("vectors." + name); err != nil {
			return err
		}
	}
	return nil
}

func (v VectorsConfig) MarshalJSON() ([]byte, error) {
	if v.Single != nil {
		return json.Marshal(v.Single)
	}
	if v.Multi == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v.Multi)
}

func (v *VectorsConfig) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = VectorsConfig{}
		return nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("vectors: %w", err)
	}
	// The single form has a numeric "size"; in the named form every value is
	// an object, even for a vector called "size".
	if size, ok := probe["size"]; ok && !bytes.HasPrefix(bytes.TrimSpace(size), []byte("{")) {
		var single VectorParams
		if err := json.Unmarshal(data, &single); err != nil {
			return fmt.Errorf("vectors: %w", err)
		}
		*v = VectorsConfig{Single: &single}
		return nil
	}
	multi := make(map[string]VectorParams, len(probe))
	if err := json.Unmarshal(data, &multi); err != nil {
		return fmt.Errorf("vectors: %w", err)
	}
	*v = VectorsConfig{Multi: multi}
	return nil
}
