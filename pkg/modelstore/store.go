// Package modelstore persists trained ensembles as versioned JSON artifacts
// on disk. One artifact holds everything scoring needs: sub-model
// parameters, scaler, weights, and a checksum, so a reloaded model predicts
// bit-identically to the one that was saved.
package modelstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"logshield/pkg/ensemble"
)

const (
	artifactPrefix = "ensemble_"
	artifactSuffix = ".json"
	// timestampLayout orders lexicographically, so Latest is a sort.
	timestampLayout = "20060102_150405.000000000"
)

// Metadata describes a stored artifact.
type Metadata struct {
	Version   string    `json:"version"`
	TrainedAt time.Time `json:"trained_at"`
	SavedAt   time.Time `json:"saved_at"`
	Samples   int       `json:"n_training_samples"`
	Dim       int       `json:"n_features"`
	Checksum  string    `json:"checksum"` // sha256 over the model payload
}

type artifact struct {
	Meta  Metadata        `json:"metadata"`
	Model json.RawMessage `json:"model"`
}

// ArtifactError reports an artifact that could not be loaded: missing,
// corrupt, or incompatible with the running feature schema. Loading never
// falls back to defaults.
type ArtifactError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ArtifactError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model artifact %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("model artifact %s: %s", e.Path, e.Reason)
}

func (e *ArtifactError) Unwrap() error { return e.Err }

// Store reads and writes model artifacts under one directory.
type Store struct {
	dir string
	log zerolog.Logger
}

// New creates the artifact directory if needed.
func New(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	return &Store{dir: dir, log: log.With().Str("component", "modelstore").Logger()}, nil
}

// Save writes a trained ensemble as a new timestamped artifact and returns
// its path. The write is atomic: temp file in the same directory, fsync,
// rename. Readers never observe a partial artifact.
func (s *Store) Save(e *ensemble.Ensemble) (string, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal model: %w", err)
	}

	sum := sha256.Sum256(payload)
	art := artifact{
		Meta: Metadata{
			Version:   e.Version,
			TrainedAt: e.TrainedAt,
			SavedAt:   time.Now().UTC(),
			Samples:   e.Samples,
			Dim:       e.Dim,
			Checksum:  hex.EncodeToString(sum[:]),
		},
		Model: payload,
	}

	data, err := json.MarshalIndent(&art, "", " ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}

	name := artifactPrefix + art.Meta.SavedAt.Format(timestampLayout) + artifactSuffix
	path := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publish artifact: %w", err)
	}

	s.log.Info().Str("path", path).Int("samples", art.Meta.Samples).
		Str("checksum", art.Meta.Checksum[:12]).Msg("model artifact saved")
	return path, nil
}

// Load reads, verifies, and rehydrates one artifact. featureNames restores
// the runtime naming the artifact does not carry.
func (s *Store) Load(path string, featureNames []string) (*ensemble.Ensemble, *Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, &ArtifactError{Path: path, Reason: "unreadable", Err: err}
	}

	var art artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, nil, &ArtifactError{Path: path, Reason: "malformed JSON", Err: err}
	}

	// The artifact is written indented, which reformats the embedded model
	// payload. The checksum covers the compact form, so compact before
	// hashing.
	var compact bytes.Buffer
	if err := json.Compact(&compact, art.Model); err != nil {
		return nil, nil, &ArtifactError{Path: path, Reason: "malformed model payload", Err: err}
	}
	sum := sha256.Sum256(compact.Bytes())
	if got := hex.EncodeToString(sum[:]); got != art.Meta.Checksum {
		return nil, nil, &ArtifactError{Path: path,
			Reason: fmt.Sprintf("checksum mismatch: artifact says %s, payload is %s", art.Meta.Checksum, got)}
	}

	var e ensemble.Ensemble
	if err := json.Unmarshal(art.Model, &e); err != nil {
		return nil, nil, &ArtifactError{Path: path, Reason: "malformed model payload", Err: err}
	}

	if err := s.validate(&e, &art.Meta, len(featureNames)); err != nil {
		return nil, nil, &ArtifactError{Path: path, Reason: "incompatible model", Err: err}
	}

	e.MarkTrained(featureNames, 0)
	s.log.Info().Str("path", path).Str("version", e.Version).
		Time("trained_at", e.TrainedAt).Int("samples", e.Samples).Msg("model artifact loaded")
	return &e, &art.Meta, nil
}

func (s *Store) validate(e *ensemble.Ensemble, meta *Metadata, wantDim int) error {
	if e.Dim != meta.Dim {
		return fmt.Errorf("payload dim %d disagrees with metadata dim %d", e.Dim, meta.Dim)
	}
	if wantDim > 0 && e.Dim != wantDim {
		return fmt.Errorf("model trained on %d features, schema has %d", e.Dim, wantDim)
	}
	if e.Samples <= 0 {
		return fmt.Errorf("model has no training samples")
	}
	if err := e.Weights.Validate(); err != nil {
		return err
	}
	if err := e.Thresholds.Validate(); err != nil {
		return err
	}
	if e.Scaler == nil || len(e.Scaler.Mean) != e.Dim || len(e.Scaler.Std) != e.Dim {
		return fmt.Errorf("scaler parameters missing or wrong width")
	}
	if e.Forest == nil || len(e.Forest.Trees) == 0 {
		return fmt.Errorf("isolation forest has no trees")
	}
	if e.Cluster == nil {
		return fmt.Errorf("dbscan parameters missing")
	}
	for i, c := range e.Cluster.Centroids {
		if len(c) != e.Dim {
			return fmt.Errorf("centroid %d has %d dimensions, want %d", i, len(c), e.Dim)
		}
	}
	if e.Mixture == nil || len(e.Mixture.Means) == 0 {
		return fmt.Errorf("gmm parameters missing")
	}
	return nil
}

// Latest returns the most recently saved artifact path, by the timestamp
// embedded in the filename. Returns an ArtifactError when the directory
// holds none.
func (s *Store) Latest() (string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", fmt.Errorf("read model dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, artifactPrefix) && strings.HasSuffix(name, artifactSuffix) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", &ArtifactError{Path: s.dir, Reason: "no model artifacts found"}
	}

	sort.Strings(names)
	return filepath.Join(s.dir, names[len(names)-1]), nil
}

// LoadLatest loads the newest artifact in the store.
func (s *Store) LoadLatest(featureNames []string) (*ensemble.Ensemble, *Metadata, error) {
	path, err := s.Latest()
	if err != nil {
		return nil, nil, err
	}
	return s.Load(path, featureNames)
}
