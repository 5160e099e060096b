// Package bootstrap reads the prediction service's last-prediction snapshot,
// the starting point of a console or HTTP session.
package bootstrap

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/rodline/procopt/pkg/logger"
	"github.com/rodline/procopt/pkg/models"
)

// MissingParameterError indicates a mapped parameter absent from the snapshot input
type MissingParameterError struct {
	External string
}

func (e *MissingParameterError) Error() string {
	return "bootstrap input is missing parameter " + e.External
}

// Snapshot is the decoded last-prediction file
type Snapshot struct {
	Params *models.ParameterSet
	// Prediction is the zero triplet when HasPrediction is false
	Prediction    models.Triplet
	HasPrediction bool
	Timestamp     string
	ModelVersion  string
}

type fileFormat struct {
	Input      map[string]float64 `json:"input"`
	Prediction *struct {
		UTS          *float64 `json:"uts"`
		Elongation   *float64 `json:"elongation"`
		Conductivity *float64 `json:"conductivity"`
		Timestamp    string   `json:"timestamp"`
		ModelVersion string   `json:"model_version"`
	} `json:"prediction"`
}

// Load reads a snapshot file
func Load(path string, mapping *models.NameMapping) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bootstrap file %s: %w", path, err)
	}
	defer f.Close()

	snap, err := Decode(f, mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to read bootstrap file %s: %w", path, err)
	}
	return snap, nil
}

// Decode parses a snapshot. Input keys are translated to canonical names and
// ordered by the mapping table; keys outside the table are ignored.
func Decode(r io.Reader, mapping *models.NameMapping) (*Snapshot, error) {
	var doc fileFormat
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if doc.Input == nil {
		return nil, fmt.Errorf("input section is required")
	}

	params, err := ParamsFromExternal(doc.Input, mapping)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Params: params}

	if p := doc.Prediction; p != nil && p.UTS != nil && p.Elongation != nil && p.Conductivity != nil {
		snap.Prediction = models.Triplet{*p.UTS, *p.Elongation, *p.Conductivity}
		snap.HasPrediction = true
		snap.Timestamp = p.Timestamp
		snap.ModelVersion = p.ModelVersion
	}
	return snap, nil
}

// ParamsFromExternal builds a parameter set in canonical order from externally named values
func ParamsFromExternal(input map[string]float64, mapping *models.NameMapping) (*models.ParameterSet, error) {
	canonical := mapping.CanonicalOrder()
	values := make([]float64, len(canonical))
	for i, name := range canonical {
		ext, _ := mapping.External(name)
		v, ok := input[ext]
		if !ok {
			return nil, &MissingParameterError{External: ext}
		}
		values[i] = v
	}

	var ignored []string
	for key := range input {
		if _, ok := mapping.Canonical(key); !ok {
			ignored = append(ignored, key)
		}
	}
	if len(ignored) > 0 {
		sort.Strings(ignored)
		logger.Debug("ignoring unmapped input keys", "keys", ignored)
	}
	return models.NewParameterSet(canonical, values)
}
