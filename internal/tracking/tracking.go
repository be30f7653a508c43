// Package tracking records training runs and the model artifacts they log.
//
// Layout under the tracking root:
//
//	<run-id>/meta.yaml
//	<run-id>/artifacts/<artifact-path>/MLmodel
package tracking

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"streamcast/internal/regress"
	"streamcast/internal/schema"
)

const (
	metaFile        = "meta.yaml"
	descriptorFile  = "MLmodel"
	artifactsDir    = "artifacts"
	LinearFlavor    = "streamcast.linear"
	PredictionField = "prediction"
)

type RunStatus string

const (
	StatusRunning  RunStatus = "RUNNING"
	StatusFinished RunStatus = "FINISHED"
	StatusFailed   RunStatus = "FAILED"
)

var (
	ErrRunNotFound   = errors.New("run not found")
	ErrModelNotFound = errors.New("model not found")
	ErrInvalidURI    = errors.New("invalid model URI")
)

// RunMeta is the persisted summary of a run.
type RunMeta struct {
	ID        string             `yaml:"run_id"`
	Name      string             `yaml:"run_name"`
	Status    RunStatus          `yaml:"status"`
	StartTime time.Time          `yaml:"start_time"`
	EndTime   *time.Time         `yaml:"end_time,omitempty"`
	Params    map[string]string  `yaml:"params,omitempty"`
	Metrics   map[string]float64 `yaml:"metrics,omitempty"`
	Artifacts []string           `yaml:"artifacts,omitempty"`
}

// Descriptor is the content of an MLmodel file.
type Descriptor struct {
	Flavor  string         `yaml:"flavor"`
	RunID   string         `yaml:"run_id"`
	Path    string         `yaml:"artifact_path"`
	Created time.Time      `yaml:"utc_time_created"`
	Label   string         `yaml:"label"`
	Inputs  []schema.Field `yaml:"inputs"`
	Output  string         `yaml:"output"`
	Linear  *regress.Model `yaml:"linear"`
}

// Store is a file-backed run store.
type Store struct {
	root   string
	logger arbor.ILogger
}

// Open prepares a store rooted at dir.
func Open(dir string, logger arbor.ILogger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("tracking dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create tracking dir: %w", err)
	}
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &Store{root: dir, logger: logger}, nil
}

// Root returns the tracking directory.
func (s *Store) Root() string { return s.root }

// Run is an open training run.
type Run struct {
	store *Store
	mu    sync.Mutex
	meta  RunMeta
}

// StartRun creates a new run directory and returns a handle to it.
func (s *Store) StartRun(name string) (*Run, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	r := &Run{
		store: s,
		meta: RunMeta{
			ID:        id,
			Name:      name,
			Status:    StatusRunning,
			StartTime: time.Now().UTC(),
			Params:    map[string]string{},
			Metrics:   map[string]float64{},
		},
	}
	if err := os.MkdirAll(filepath.Join(s.root, id, artifactsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	if err := r.flush(); err != nil {
		return nil, err
	}
	s.logger.Info().Str("run_id", id).Str("run_name", name).Msg("Started run")
	return r, nil
}

// ID returns the run ID.
func (r *Run) ID() string { return r.meta.ID }

// Meta returns a copy of the run summary.
func (r *Run) Meta() RunMeta {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta
}

func (r *Run) LogParam(key, value string) {
	r.mu.Lock()
	r.meta.Params[key] = value
	r.mu.Unlock()
}

func (r *Run) LogMetric(key string, value float64) {
	r.mu.Lock()
	r.meta.Metrics[key] = value
	r.mu.Unlock()
}

// LogModel writes a linear model artifact and returns its runs:/ URI.
func (r *Run) LogModel(path string, m *regress.Model, label string, inputs schema.Schema) (string, error) {
	if m == nil {
		return "", errors.New("model is nil")
	}
	clean, err := cleanArtifactPath(path)
	if err != nil {
		return "", err
	}
	d := Descriptor{
		Flavor:  LinearFlavor,
		RunID:   r.meta.ID,
		Path:    clean,
		Created: time.Now().UTC(),
		Label:   label,
		Inputs:  inputs.Fields,
		Output:  PredictionField,
		Linear:  m,
	}
	dir := filepath.Join(r.store.root, r.meta.ID, artifactsDir, filepath.FromSlash(clean))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	b, err := yaml.Marshal(&d)
	if err != nil {
		return "", fmt.Errorf("encode model: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, descriptorFile), b, 0o644); err != nil {
		return "", fmt.Errorf("write model: %w", err)
	}

	r.mu.Lock()
	r.meta.Artifacts = append(r.meta.Artifacts, clean)
	r.mu.Unlock()
	if err := r.flush(); err != nil {
		return "", err
	}
	uri := FormatURI(r.meta.ID, clean)
	r.store.logger.Info().Str("run_id", r.meta.ID).Str("uri", uri).Msg("Logged model")
	return uri, nil
}

// End marks the run finished (or failed when err != nil) and persists it.
func (r *Run) End(err error) error {
	r.mu.Lock()
	now := time.Now().UTC()
	r.meta.EndTime = &now
	r.meta.Status = StatusFinished
	if err != nil {
		r.meta.Status = StatusFailed
	}
	r.mu.Unlock()
	return r.flush()
}

func (r *Run) flush() error {
	r.mu.Lock()
	b, err := yaml.Marshal(&r.meta)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	p := filepath.Join(r.store.root, r.meta.ID, metaFile)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return os.Rename(tmp, p)
}

// GetRun reads a run summary.
func (s *Store) GetRun(id string) (RunMeta, error) {
	if !validRunID(id) {
		return RunMeta{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	b, err := os.ReadFile(filepath.Join(s.root, id, metaFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RunMeta{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return RunMeta{}, err
	}
	var m RunMeta
	if err := yaml.Unmarshal(b, &m); err != nil {
		return RunMeta{}, fmt.Errorf("decode run %s: %w", id, err)
	}
	return m, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns() ([]RunMeta, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []RunMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := s.GetRun(e.Name())
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

// LatestModelURI returns the URI of the most recent finished run's first artifact.
func (s *Store) LatestModelURI() (string, error) {
	runs, err := s.ListRuns()
	if err != nil {
		return "", err
	}
	for _, r := range runs {
		if r.Status == StatusFinished && len(r.Artifacts) > 0 {
			return FormatURI(r.ID, r.Artifacts[0]), nil
		}
	}
	return "", ErrModelNotFound
}

// FormatURI builds runs:/<id>/<path>.
func FormatURI(runID, path string) string {
	return "runs:/" + runID + "/" + path
}

// ParseURI splits runs:/<id>/<path>.
func ParseURI(uri string) (runID, path string, err error) {
	rest, ok := strings.CutPrefix(uri, "runs:/")
	if !ok {
		return "", "", fmt.Errorf("%w: %q (want runs:/<run-id>/<path>)", ErrInvalidURI, uri)
	}
	rest = strings.TrimLeft(rest, "/")
	runID, path, ok = strings.Cut(rest, "/")
	if !ok || !validRunID(runID) || path == "" {
		return "", "", fmt.Errorf("%w: %q (want runs:/<run-id>/<path>)", ErrInvalidURI, uri)
	}
	path, err = cleanArtifactPath(path)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	return runID, path, nil
}

// ResolveURI returns the artifact directory behind a runs:/ URI.
func (s *Store) ResolveURI(uri string) (string, error) {
	runID, path, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, runID, artifactsDir, filepath.FromSlash(path)), nil
}

// LoadModel reads the descriptor behind a runs:/ URI.
func (s *Store) LoadModel(uri string) (*Descriptor, error) {
	dir, err := s.ResolveURI(uri)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(dir, descriptorFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, uri)
		}
		return nil, err
	}
	var d Descriptor
	if err := yaml.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", uri, err)
	}
	if d.Flavor != LinearFlavor || d.Linear == nil {
		return nil, fmt.Errorf("model %s: unsupported flavor %q", uri, d.Flavor)
	}
	return &d, nil
}

// validRunID rejects IDs that would step outside their run directory.
func validRunID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

func cleanArtifactPath(p string) (string, error) {
	p = strings.Trim(filepath.ToSlash(filepath.Clean(p)), "/")
	if p == "" || p == "." || strings.HasPrefix(p, "..") {
		return "", fmt.Errorf("invalid artifact path %q", p)
	}
	return p, nil
}
