// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/blp-engine/pkg/types"
)

// ExportFormat selects the export encoding.
type ExportFormat string

const (
	FormatYAML ExportFormat = "yaml"
	FormatJSON ExportFormat = "json"
)

// Export writes every run, with market summaries, to dir/export.yaml or
// dir/export.json and returns the path written. An empty dir means the
// store directory.
func (s *Store) Export(ctx context.Context, format ExportFormat, dir string) (string, error) {
	records, err := s.exportRecords(ctx)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = s.dir
	}

	var (
		data []byte
		name string
	)
	switch format {
	case FormatYAML:
		data, err = yaml.Marshal(records)
		name = "export.yaml"
	case FormatJSON:
		data, err = json.MarshalIndent(records, "", "  ")
		name = "export.json"
	default:
		return "", fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return "", fmt.Errorf("marshaling %s: %w", format, err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing export: %w", err)
	}
	return path, nil
}

func (s *Store) exportRecords(ctx context.Context) ([]types.RunRecord, error) {
	runs, err := s.List(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("querying for export: %w", err)
	}
	out := make([]types.RunRecord, 0, len(runs))
	for _, r := range runs {
		full, err := s.Get(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, full)
	}
	return out, nil
}
