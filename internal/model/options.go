// Package model holds the option types shared by the CLI, the pipeline and the TUI.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// SinkKind identifies where scored rows are written.
type SinkKind string

const (
	SinkTable    SinkKind = "table"
	SinkPostgres SinkKind = "postgres"
	SinkMemory   SinkKind = "memory"
)

// DefaultLabel is the column the lesson model predicts.
const DefaultLabel = "price"

// ErrUnboundedWait is returned when a zero ready timeout is given without --unbounded.
var ErrUnboundedWait = errors.New("ready timeout of 0 requires --unbounded")

// ErrConflictingWait is returned when --unbounded is combined with a ready timeout.
var ErrConflictingWait = errors.New("--unbounded cannot be combined with a non-zero ready timeout")

// RunOptions holds everything needed to start a scoring stream and wait for it.
type RunOptions struct {
	DatasetDir  string `validate:"required"`
	SchemaFile  string // optional TOML declaration; default is the listings schema
	Label       string `validate:"required"`
	Name        string `validate:"required"`
	Trigger     string
	Sink        string // table path, postgres:// URL or "memory"
	PartitionBy string
	Checkpoint  string
	ModelURI    string // runs:/<id>/<path>; empty uses the latest logged model
	Display     bool   // also keep a memory preview of scored rows

	// Source is empty for the dataset directory, or a consumer command line
	// whose stdout carries JSON records.
	Source               string
	MaxFilesPerTrigger   int `validate:"gte=0"`
	MaxRecordsPerTrigger int `validate:"gte=0"`
	Partitions           int `validate:"gte=1,lte=1024"`

	Progressions int           `validate:"gte=1"`
	PollInterval time.Duration `validate:"gt=0"`
	ReadyTimeout time.Duration `validate:"gte=0"`
	Unbounded    bool
	KeepRunning  bool

	TrackingDir    string `validate:"required"`
	TablesDir      string
	CheckpointsDir string
}

// Validate checks tags and the cross-field rules.
func (o RunOptions) Validate() error {
	if err := validator.New().Struct(o); err != nil {
		return fmt.Errorf("invalid run options: %w", err)
	}
	if o.ReadyTimeout == 0 && !o.Unbounded {
		return ErrUnboundedWait
	}
	if o.Unbounded && o.ReadyTimeout > 0 {
		return ErrConflictingWait
	}
	return nil
}

// SinkKind classifies the Sink value.
func (o RunOptions) SinkKind() SinkKind {
	switch {
	case o.Sink == string(SinkMemory):
		return SinkMemory
	case strings.HasPrefix(o.Sink, "postgres://"), strings.HasPrefix(o.Sink, "postgresql://"):
		return SinkPostgres
	default:
		return SinkTable
	}
}

// TrainOptions configures model fitting.
type TrainOptions struct {
	DatasetDir   string `validate:"required"`
	SchemaFile   string
	Label        string  `validate:"required"`
	RunName      string  `validate:"required"`
	ArtifactPath string  `validate:"required"`
	Lambda       float64 `validate:"gte=0"`
	TrackingDir  string  `validate:"required"`
}

// Validate checks the struct tags.
func (o TrainOptions) Validate() error {
	if err := validator.New().Struct(o); err != nil {
		return fmt.Errorf("invalid train options: %w", err)
	}
	return nil
}
