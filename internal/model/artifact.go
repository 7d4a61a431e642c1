package model

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/mod/semver"
)

// FormatVersion is the artifact format written by this build. Artifacts
// with a different major version are not loaded.
const FormatVersion = "v1.0.0"

// artifact is the on-disk form of a trained model.
type artifact struct {
	Version   string    `json:"version"`
	TrainedAt time.Time `json:"trained_at"`
	Forest    *Forest   `json:"forest"`
}

func encodeArtifact(f *Forest, trainedAt time.Time) artifact {
	return artifact{Version: FormatVersion, TrainedAt: trainedAt, Forest: f}
}

// decodeArtifact parses and checks an artifact. Format mismatches are
// reported as ErrIncompatibleModel.
func decodeArtifact(data []byte) (*artifact, error) {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	if !semver.IsValid(a.Version) {
		return nil, fmt.Errorf("%w: invalid format version %q", ErrIncompatibleModel, a.Version)
	}
	if semver.Major(a.Version) != semver.Major(FormatVersion) {
		return nil, fmt.Errorf("%w: format %s, this build reads %s", ErrIncompatibleModel, a.Version, semver.Major(FormatVersion))
	}
	if a.Forest == nil {
		return nil, fmt.Errorf("decode model artifact: missing forest")
	}
	if err := a.Forest.check(); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	return &a, nil
}
