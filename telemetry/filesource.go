package telemetry

import (
	"context"
	"fmt"
	"maps"
	"os"
	"time"

	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// FileSource serves fixed result sets loaded from a YAML fixture file. It
// stands in for the plant database in development and demos:
//
//	latency: 300ms
//	resources:
//	  inverter-data:
//	    - {id: INV-01, power_kw: 41.2}
//	    - {id: INV-02, power_kw: 39.8}
//	  energy-data:
//	    - {today_kwh: 18250, total_mwh: 4210.5}
//
// Per-ID resources are filtered on the row's "id" column.
type FileSource struct {
	// Latency is added to every query to mimic the cost of the real
	// stored procedures.
	Latency time.Duration

	rows map[string][]Row
}

var _ Source = (*FileSource)(nil)

type fixtureFile struct {
	Latency   string           `yaml:"latency"`
	Resources map[string][]Row `yaml:"resources"`
}

// LoadFile reads a fixture file.
func LoadFile(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("telemetry: read fixtures: %w", err)
	}
	src, err := ParseFixtures(data)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %s: %w", path, err)
	}
	return src, nil
}

// ParseFixtures decodes fixture YAML. Unknown resource names are rejected.
func ParseFixtures(data []byte) (*FileSource, error) {
	var f fixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}

	src := &FileSource{rows: make(map[string][]Row, len(f.Resources))}
	if f.Latency != "" {
		d, err := str2duration.ParseDuration(f.Latency)
		if err != nil {
			return nil, fmt.Errorf("latency: %w", err)
		}
		src.Latency = d
	}
	for name, rows := range f.Resources {
		if _, ok := Lookup(name); !ok {
			return nil, fmt.Errorf("unknown resource %q", name)
		}
		src.rows[name] = rows
	}
	return src, nil
}

// Rows returns copies of the fixture rows for res, filtered by id for PerID
// resources. A resource without fixtures yields no rows.
func (s *FileSource) Rows(ctx context.Context, res Resource, id string) ([]Row, error) {
	if s.Latency > 0 {
		t := time.NewTimer(s.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	var out []Row
	for _, r := range s.rows[res.Name] {
		if res.PerID && id != "" && fmt.Sprint(r["id"]) != id {
			continue
		}
		out = append(out, maps.Clone(r))
	}
	return out, nil
}
