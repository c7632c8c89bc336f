// Package metrics exposes a small prometheus registry populated from
// an engine.State at the end of a run (spec §9 "Global mutable
// counters"). This is a batch CLI, not a long-running daemon, so
// nothing here starts an HTTP server: the counters exist purely so a
// caller that does wire an exporter later gets typed, aggregable
// values, not so they can be scraped from this process itself.
package metrics

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/christofchen/backuppc/pkg/engine"
)

// Registry holds the counters for one run.
type Registry struct {
	reg           *prometheus.Registry
	filesTotal    prometheus.Counter
	dirsTotal     prometheus.Counter
	errorsTotal   prometheus.Counter
	journalDeltas prometheus.Counter
}

// New returns a fresh, unpopulated Registry.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}
	r.filesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backuppc_engine_files_processed_total",
		Help: "Files visited by the deletion/merge/migration engine.",
	})
	r.dirsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backuppc_engine_dirs_processed_total",
		Help: "Directories visited by the deletion/merge/migration engine.",
	})
	r.errorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backuppc_engine_errors_total",
		Help: "Errors recorded during the run.",
	})
	r.journalDeltas = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backuppc_engine_journal_deltas_total",
		Help: "Refcount delta entries journaled during the run.",
	})
	r.reg.MustRegister(r.filesTotal, r.dirsTotal, r.errorsTotal, r.journalDeltas)
	return r
}

// Observe adds the current values of st to the registry's counters;
// calling it twice with the same State counts those values twice.
// Counters only go up, matching State's own monotonic counters.
func (r *Registry) Observe(st *engine.State) {
	r.filesTotal.Add(float64(st.FileCnt))
	r.dirsTotal.Add(float64(st.DirCnt))
	r.errorsTotal.Add(float64(st.Errors))
}

// AddJournalDeltas records how many distinct (compress, digest)
// entries were journaled this run.
func (r *Registry) AddJournalDeltas(n int) {
	r.journalDeltas.Add(float64(n))
}

// DumpText renders the registry in Prometheus text exposition format,
// for inclusion in the run's log rather than being served over HTTP.
func (r *Registry) DumpText() (string, error) {
	mfs, err := r.reg.Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
