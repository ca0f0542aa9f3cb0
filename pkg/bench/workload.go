// Package bench runs the comparative CPU vs GPU query benchmarks and emits
// reports. Each query is timed twice, once with pg_strom disabled and once
// enabled, over the same generated dataset.
package bench

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Query is one named benchmark statement.
type Query struct {
	Name string `yaml:"name"`
	SQL  string `yaml:"sql"`
}

// Workload describes the benchmark: setup statements run once, then each
// query is timed in CPU and GPU mode.
type Workload struct {
	Setup   []string `yaml:"setup"`
	Queries []Query  `yaml:"queries"`
}

// LoadWorkload reads a yaml workload file; an empty path yields the built-in
// workload generated for the given table scale.
func LoadWorkload(path string, scale int) (*Workload, error) {
	if path == "" {
		return DefaultWorkload(scale), nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // workload path from config
	if err != nil {
		return nil, fmt.Errorf("read workload %s: %w", path, err)
	}
	var w Workload
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse workload %s: %w", path, err)
	}
	if len(w.Queries) == 0 {
		return nil, fmt.Errorf("workload %s has no queries", path)
	}
	return &w, nil
}

// DefaultWorkload generates a synthetic table of the given row count and a
// small set of scan, aggregate and join queries that PG-Strom can offload.
func DefaultWorkload(scale int) *Workload {
	if scale <= 0 {
		scale = 1000000
	}
	return &Workload{
		Setup: []string{
			"DROP TABLE IF EXISTS strombench_data",
			fmt.Sprintf(`CREATE TABLE strombench_data AS
SELECT i AS id,
       (random()*1000)::int AS cat,
       random()*10000 AS x,
       random()*10000 AS y,
       md5(i::text) AS payload
FROM generate_series(1, %d) AS i`, scale),
			"CREATE INDEX ON strombench_data (cat)",
			"VACUUM ANALYZE strombench_data",
		},
		Queries: []Query{
			{Name: "full scan filter", SQL: "SELECT count(*) FROM strombench_data WHERE x > 5000 AND y < 5000"},
			{Name: "aggregate by category", SQL: "SELECT cat, avg(x), max(y) FROM strombench_data GROUP BY cat"},
			{Name: "compute heavy", SQL: "SELECT count(*) FROM strombench_data WHERE sqrt(x*x + y*y) < 7000"},
			{Name: "self join", SQL: "SELECT count(*) FROM strombench_data a JOIN strombench_data b ON a.cat = b.cat AND a.id < b.id WHERE a.x > 9900 AND b.y > 9900"},
		},
	}
}
