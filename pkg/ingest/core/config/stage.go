package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/tigerroll/shoreline/pkg/ingest/support/exception"
)

// StageType identifies how a stage executes.
type StageType int

const (
	// StageTypeUnknown is the zero value; it never survives compilation.
	StageTypeUnknown StageType = iota
	// StageTypeIngestion writes a record and its dependents to the versioned
	// store with delta detection.
	StageTypeIngestion
	// StageTypeModel runs a registered transformation function over a record.
	StageTypeModel
)

// String returns the configuration name of the stage type.
func (t StageType) String() string {
	switch t {
	case StageTypeIngestion:
		return "ingestion"
	case StageTypeModel:
		return "model"
	default:
		return "unknown"
	}
}

// DependentConfig describes one dependent table of a data source.
type DependentConfig struct {
	// Table is the dependent table name.
	Table string `yaml:"table"`
	// ParentKeyColumn is the column holding the parent business key.
	ParentKeyColumn string `yaml:"parent_key_column"`
}

// SourceConfig describes one data source: where its main entity lives and
// which dependent tables hang off it.
type SourceConfig struct {
	// Name identifies the source; ingestion stages reference it.
	Name string `yaml:"name"`
	// Table is the main entity table name in the versioned store.
	Table string `yaml:"table"`
	// KeyColumn is the row column holding the business key.
	KeyColumn string `yaml:"key_column"`
	// ChangeTimestampColumn is the row column whose value decides whether a
	// record changed since the stored current version.
	ChangeTimestampColumn string `yaml:"change_timestamp_column"`
	// Dependents lists the dependent tables replaced wholesale on update.
	Dependents []DependentConfig `yaml:"dependents"`
}

// StageConfig is the declarative definition of one pipeline stage.
type StageConfig struct {
	// Name uniquely identifies the stage within the pipeline.
	Name string `yaml:"name"`
	// Type is "ingestion" or "model".
	Type string `yaml:"type"`
	// DependsOn lists names of stages that must have succeeded for this
	// record before this stage runs.
	DependsOn []string `yaml:"depends_on"`
	// Properties carries the type-specific settings, decoded at compile time.
	Properties map[string]interface{} `yaml:"properties"`
}

// PipelineConfig is the full declarative pipeline definition.
type PipelineConfig struct {
	Sources []SourceConfig `yaml:"sources"`
	Stages  []StageConfig  `yaml:"stages"`
}

// IngestionSettings are the decoded properties of an ingestion stage.
type IngestionSettings struct {
	// Source names the SourceConfig whose dataset this stage ingests.
	Source string `mapstructure:"source"`
}

// ModelSettings are the decoded properties of a model stage.
type ModelSettings struct {
	// Function names the registered transformation to run.
	Function string `mapstructure:"function"`
	// Source optionally names an earlier model stage whose output, rather
	// than the record's main row, the function receives.
	Source string `mapstructure:"source"`
	// InputColumns restricts which row columns the function receives.
	// Empty means all columns.
	InputColumns []string `mapstructure:"input_columns"`
}

// CompiledStage is one stage with its type resolved to an enum, its
// dependencies resolved to stage indexes and its properties decoded. The
// dispatch table is built once at startup so per-record execution never
// branches on configuration strings.
type CompiledStage struct {
	Name  string
	Type  StageType
	Index int
	// DependsOn holds the indexes of prerequisite stages; each is always
	// smaller than Index.
	DependsOn []int
	// SourceIndex points into CompiledGraph.Sources for ingestion stages,
	// -1 otherwise.
	SourceIndex int
	// ModelSourceIndex is the index of the model stage named by
	// Model.Source, -1 when the stage reads the main row.
	ModelSourceIndex int
	Ingestion        IngestionSettings
	Model            ModelSettings
}

// CompiledGraph is the validated, executable form of a PipelineConfig.
type CompiledGraph struct {
	Sources []SourceConfig
	Stages  []CompiledStage

	stageIndex  map[string]int
	sourceIndex map[string]int
}

// StageIndex returns the index of the named stage, or -1.
func (g *CompiledGraph) StageIndex(name string) int {
	if i, ok := g.stageIndex[name]; ok {
		return i
	}
	return -1
}

// SourceFor returns the SourceConfig an ingestion stage targets.
func (g *CompiledGraph) SourceFor(s *CompiledStage) *SourceConfig {
	if s.SourceIndex < 0 || s.SourceIndex >= len(g.Sources) {
		return nil
	}
	return &g.Sources[s.SourceIndex]
}

// Compile validates the pipeline definition and builds the dispatch table.
// It rejects unknown stage types, duplicate names, dependencies on stages
// that do not exist or come later in the sequence, ingestion stages
// referencing unknown sources, and sources that do not name their key and
// change timestamp columns. All of these are configuration errors and
// surface at startup.
func (p *PipelineConfig) Compile() (*CompiledGraph, error) {
	if len(p.Stages) == 0 {
		return nil, exception.NewPermanentError(moduleName, "pipeline defines no stages", nil)
	}

	g := &CompiledGraph{
		Sources:     p.Sources,
		Stages:      make([]CompiledStage, 0, len(p.Stages)),
		stageIndex:  make(map[string]int, len(p.Stages)),
		sourceIndex: make(map[string]int, len(p.Sources)),
	}
	for i, src := range p.Sources {
		if src.Name == "" {
			return nil, exception.NewPermanentError(moduleName, fmt.Sprintf("source at index %d has no name", i), nil)
		}
		if _, dup := g.sourceIndex[src.Name]; dup {
			return nil, exception.NewPermanentError(moduleName, fmt.Sprintf("duplicate source name '%s'", src.Name), nil)
		}
		if src.KeyColumn == "" {
			return nil, exception.NewPermanentError(moduleName, fmt.Sprintf("source '%s' has no key column", src.Name), nil)
		}
		if src.ChangeTimestampColumn == "" {
			return nil, exception.NewPermanentError(moduleName, fmt.Sprintf("source '%s' has no change timestamp column", src.Name), nil)
		}
		g.sourceIndex[src.Name] = i
	}

	for i, sc := range p.Stages {
		if sc.Name == "" {
			return nil, exception.NewPermanentError(moduleName, fmt.Sprintf("stage at index %d has no name", i), nil)
		}
		if _, dup := g.stageIndex[sc.Name]; dup {
			return nil, exception.NewPermanentError(moduleName, fmt.Sprintf("duplicate stage name '%s'", sc.Name), nil)
		}

		cs := CompiledStage{Name: sc.Name, Index: i, SourceIndex: -1, ModelSourceIndex: -1}

		switch sc.Type {
		case "ingestion":
			cs.Type = StageTypeIngestion
			if err := decodeProperties(sc.Properties, &cs.Ingestion); err != nil {
				return nil, exception.NewPermanentError(moduleName, fmt.Sprintf("stage '%s': invalid properties", sc.Name), err)
			}
			srcIdx, ok := g.sourceIndex[cs.Ingestion.Source]
			if !ok {
				return nil, exception.NewPermanentError(moduleName,
					fmt.Sprintf("stage '%s' references unknown source '%s'", sc.Name, cs.Ingestion.Source), nil)
			}
			cs.SourceIndex = srcIdx
		case "model":
			cs.Type = StageTypeModel
			if err := decodeProperties(sc.Properties, &cs.Model); err != nil {
				return nil, exception.NewPermanentError(moduleName, fmt.Sprintf("stage '%s': invalid properties", sc.Name), err)
			}
			if cs.Model.Function == "" {
				return nil, exception.NewPermanentError(moduleName,
					fmt.Sprintf("model stage '%s' names no function", sc.Name), nil)
			}
		default:
			return nil, exception.NewPermanentError(moduleName,
				fmt.Sprintf("stage '%s' has type '%s'", sc.Name, sc.Type), exception.ErrUnknownStageType)
		}

		for _, dep := range sc.DependsOn {
			depIdx, ok := g.stageIndex[dep]
			if !ok {
				return nil, exception.NewPermanentError(moduleName,
					fmt.Sprintf("stage '%s' depends on '%s', which does not exist or comes later in the pipeline", sc.Name, dep), nil)
			}
			cs.DependsOn = append(cs.DependsOn, depIdx)
		}

		if cs.Type == StageTypeModel && cs.Model.Source != "" {
			srcIdx, ok := g.stageIndex[cs.Model.Source]
			if !ok {
				return nil, exception.NewPermanentError(moduleName,
					fmt.Sprintf("stage '%s' consumes output of '%s', which does not exist or comes later in the pipeline", sc.Name, cs.Model.Source), nil)
			}
			if g.Stages[srcIdx].Type != StageTypeModel {
				return nil, exception.NewPermanentError(moduleName,
					fmt.Sprintf("stage '%s' consumes output of '%s', which is not a model stage and produces none", sc.Name, cs.Model.Source), nil)
			}
			cs.ModelSourceIndex = srcIdx
			// Consuming a stage's output implies depending on it.
			implied := true
			for _, dep := range cs.DependsOn {
				if dep == srcIdx {
					implied = false
					break
				}
			}
			if implied {
				cs.DependsOn = append(cs.DependsOn, srcIdx)
			}
		}

		g.stageIndex[sc.Name] = i
		g.Stages = append(g.Stages, cs)
	}

	return g, nil
}

// decodeProperties binds a raw YAML properties map onto a typed settings
// struct, erroring on keys the struct does not know.
func decodeProperties(props map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(props)
}
