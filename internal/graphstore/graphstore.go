// Package graphstore persists named graph definitions and schedule
// configs in an embedded BoltDB file, so dynamically submitted graphs and
// cron schedules survive a process restart even though in-flight run state
// (TaskTable) does not.
package graphstore

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/swarmguard/traceflow/internal/dag"
	"github.com/swarmguard/traceflow/internal/node"
)

var (
	bucketGraphs    = []byte("graphs")
	bucketSchedules = []byte("schedules")
)

// EdgeDef is the wire form of a static graph edge.
type EdgeDef struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// JoinDef is the wire form of a join node's declared upstreams.
type JoinDef struct {
	Name      string   `json:"name"`
	Upstreams []string `json:"upstreams"`
}

// GraphDef is the persisted, data-only description of a graph: enough to
// reconstruct a *dag.Graph against a live node registry. Routers are not
// persisted since they carry Go closures; dynamically submitted graphs are
// restricted to static edges and joins.
type GraphDef struct {
	Name  string    `json:"name"`
	Entry string    `json:"entry"`
	Edges []EdgeDef `json:"edges"`
	Joins []JoinDef `json:"joins"`
}

// Build reconstructs a *dag.Graph from def against registry.
func (def GraphDef) Build(registry *node.Registry) *dag.Graph {
	g := dag.NewGraph(def.Name, def.Entry, registry)
	for _, e := range def.Edges {
		g.AddEdge(e.From, e.To)
	}
	for _, j := range def.Joins {
		g.AddJoin(j.Name, j.Upstreams...)
	}
	return g
}

// ScheduleConfig is a persisted periodic re-submission rule, adapted from
// the reference orchestrator's cron scheduling but scoped down to this
// engine's submit contract.
type ScheduleConfig struct {
	GraphName     string            `json:"graph_name"`
	CronExpr      string            `json:"cron_expr"`
	Enabled       bool              `json:"enabled"`
	InputTemplate map[string]any    `json:"input_template"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Store wraps a BoltDB file holding graph and schedule definitions.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the store at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout:       1 * time.Second,
		FreelistType:  bbolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("graphstore: open: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketGraphs); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketSchedules)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("graphstore: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

// PutGraph persists def under its name, overwriting any prior definition.
func (s *Store) PutGraph(def GraphDef) error {
	b, err := json.Marshal(def)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketGraphs).Put([]byte(def.Name), b)
	})
}

// GetGraph loads a graph definition by name.
func (s *Store) GetGraph(name string) (GraphDef, bool, error) {
	var def GraphDef
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketGraphs).Get([]byte(name))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &def)
	})
	return def, found, err
}

// ListGraphs returns every persisted graph definition.
func (s *Store) ListGraphs() ([]GraphDef, error) {
	var defs []GraphDef
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketGraphs).ForEach(func(_, v []byte) error {
			var def GraphDef
			if err := json.Unmarshal(v, &def); err != nil {
				return err
			}
			defs = append(defs, def)
			return nil
		})
	})
	return defs, err
}

// PutSchedule persists a schedule config keyed by graph name.
func (s *Store) PutSchedule(cfg ScheduleConfig) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedules).Put([]byte(cfg.GraphName), b)
	})
}

// DeleteSchedule removes a persisted schedule by graph name.
func (s *Store) DeleteSchedule(graphName string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedules).Delete([]byte(graphName))
	})
}

// ListSchedules returns every persisted schedule config, used to restore
// cron registrations on startup.
func (s *Store) ListSchedules() ([]ScheduleConfig, error) {
	var cfgs []ScheduleConfig
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedules).ForEach(func(_, v []byte) error {
			var cfg ScheduleConfig
			if err := json.Unmarshal(v, &cfg); err != nil {
				return err
			}
			cfgs = append(cfgs, cfg)
			return nil
		})
	})
	return cfgs, err
}
