package pipeline

import (
	"fmt"
	"path/filepath"
	"time"

	"streamcast/internal/model"
	"streamcast/internal/schema"
	"streamcast/internal/stream"
	"streamcast/internal/util"
)

// Plan describes what Run would do, without opening anything.
type Plan struct {
	Name         string
	DatasetDir   string
	Source       string // "files" or the consumer command line
	PendingFiles int
	Schema       schema.Schema
	Input        schema.Schema // schema after dropping the label
	Label        string

	ModelURI string // empty means the latest logged model

	Trigger     string
	SinkKind    model.SinkKind
	SinkTarget  string // redacted
	PartitionBy string
	Checkpoint  string
	Display     bool

	MaxFilesPerTrigger   int
	MaxRecordsPerTrigger int
	Partitions           int

	Progressions int
	PollInterval time.Duration
	ReadyTimeout time.Duration
	Unbounded    bool
	KeepRunning  bool

	trigger stream.Trigger
}

// Plan validates the options and resolves defaults.
func (s *Service) Plan() (*Plan, error) {
	o := s.opts
	if err := o.Validate(); err != nil {
		return nil, err
	}
	trig, err := stream.ParseTrigger(o.Trigger)
	if err != nil {
		return nil, err
	}
	sch, err := ResolveSchema(o.SchemaFile)
	if err != nil {
		return nil, err
	}
	if sch.Index(o.Label) < 0 {
		return nil, fmt.Errorf("label %q is not a column of %s", o.Label, sch)
	}
	input := sch.Drop(o.Label)
	if o.PartitionBy != "" && input.Index(o.PartitionBy) < 0 {
		return nil, fmt.Errorf("partition column %q is not an input column", o.PartitionBy)
	}

	p := &Plan{
		Name:                 o.Name,
		DatasetDir:           o.DatasetDir,
		Source:               "files",
		Schema:               sch,
		Input:                input,
		Label:                o.Label,
		ModelURI:             o.ModelURI,
		Trigger:              trig.String(),
		SinkKind:             o.SinkKind(),
		PartitionBy:          o.PartitionBy,
		Display:              o.Display,
		MaxFilesPerTrigger:   o.MaxFilesPerTrigger,
		MaxRecordsPerTrigger: o.MaxRecordsPerTrigger,
		Partitions:           o.Partitions,
		Progressions:         o.Progressions,
		PollInterval:         o.PollInterval,
		ReadyTimeout:         o.ReadyTimeout,
		Unbounded:            o.Unbounded,
		KeepRunning:          o.KeepRunning,
		trigger:              trig,
	}

	if o.Source != "" {
		p.Source = o.Source
	} else {
		files, err := stream.ListFiles(o.DatasetDir, "")
		if err != nil {
			return nil, err
		}
		p.PendingFiles = len(files)
	}

	switch p.SinkKind {
	case model.SinkMemory:
		p.SinkTarget = "memory"
	case model.SinkPostgres:
		p.SinkTarget = util.RedactURL(o.Sink)
	default:
		p.SinkTarget = o.Sink
		if p.SinkTarget == "" {
			p.SinkTarget = filepath.Join(o.TablesDir, util.SanitizeName(o.Name))
		}
	}

	p.Checkpoint = o.Checkpoint
	if p.Checkpoint == "" {
		p.Checkpoint = filepath.Join(o.CheckpointsDir, util.SanitizeName(o.Name))
	}
	return p, nil
}

// ResolveSchema loads a TOML schema declaration, or returns the listings
// schema when path is empty.
func ResolveSchema(path string) (schema.Schema, error) {
	if path == "" {
		return schema.Listings(), nil
	}
	return schema.LoadFile(path)
}
