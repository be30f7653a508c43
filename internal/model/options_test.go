package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validRun() RunOptions {
	return RunOptions{
		DatasetDir:   "/data/listings",
		Label:        DefaultLabel,
		Name:         "lesson03_stream",
		Partitions:   4,
		Progressions: 3,
		PollInterval: 5 * time.Second,
		ReadyTimeout: 2 * time.Minute,
		TrackingDir:  "/tmp/mlruns",
	}
}

func TestRunOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RunOptions)
		wantErr error
		bad     bool
	}{
		{name: "ok", mutate: func(*RunOptions) {}},
		{name: "missing name", mutate: func(o *RunOptions) { o.Name = "" }, bad: true},
		{name: "zero progressions", mutate: func(o *RunOptions) { o.Progressions = 0 }, bad: true},
		{name: "zero interval", mutate: func(o *RunOptions) { o.PollInterval = 0 }, bad: true},
		{name: "negative files", mutate: func(o *RunOptions) { o.MaxFilesPerTrigger = -1 }, bad: true},
		{name: "zero timeout", mutate: func(o *RunOptions) { o.ReadyTimeout = 0 }, wantErr: ErrUnboundedWait, bad: true},
		{name: "zero timeout unbounded", mutate: func(o *RunOptions) { o.ReadyTimeout = 0; o.Unbounded = true }},
		{name: "timeout and unbounded", mutate: func(o *RunOptions) { o.ReadyTimeout = 2 * time.Minute; o.Unbounded = true }, wantErr: ErrConflictingWait, bad: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validRun()
			tt.mutate(&o)
			err := o.Validate()
			if !tt.bad {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestSinkKind(t *testing.T) {
	for sink, want := range map[string]SinkKind{
		"":                         SinkTable,
		"/tmp/tables/listings":     SinkTable,
		"memory":                   SinkMemory,
		"postgres://db/listings":   SinkPostgres,
		"postgresql://db/listings": SinkPostgres,
	} {
		o := RunOptions{Sink: sink}
		assert.Equal(t, want, o.SinkKind(), sink)
	}
}

func TestTrainOptionsValidate(t *testing.T) {
	o := TrainOptions{DatasetDir: "d", Label: "price", RunName: "train", ArtifactPath: "model", TrackingDir: "t"}
	assert.NoError(t, o.Validate())
	o.Lambda = -1
	assert.Error(t, o.Validate())
}
