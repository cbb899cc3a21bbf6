package store

import (
	"io/fs"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

var storeOps = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "personaproxy",
		Subsystem: "store",
		Name:      "ops_total",
		Help:      "Record store operations by kind.",
	},
	[]string{"op"},
)

func init() {
	prometheus.MustRegister(storeOps)
}

func recordOp(op string) { storeOps.WithLabelValues(op).Inc() }

// DiskUsageBytes returns the best-effort on-disk size of the database
// directory. Used by the readiness probe and the inspect tool.
func (s *Store) DiskUsageBytes() uint64 {
	if s == nil || s.path == "" {
		return 0
	}
	var total uint64
	_ = filepath.WalkDir(s.path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += uint64(fi.Size())
		}
		return nil
	})
	return total
}
