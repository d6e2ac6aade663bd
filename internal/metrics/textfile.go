package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"fragility/internal/fileutil"
	"fragility/internal/logging"
	"fragility/internal/pipeline"
)

// Metric family names written to the textfile.
const (
	RunsTotal           = "fragility_runs_total"
	WindowsTotal        = "fragility_windows_total"
	RunErrorsTotal      = "fragility_run_errors_total"
	CacheHitsTotal      = "fragility_cache_hits_total"
	RunSecondsTotal     = "fragility_run_duration_seconds_total"
	LastRunSeconds      = "fragility_last_run_duration_seconds"
	LastSuccessUnixTime = "fragility_last_success_timestamp_seconds"
)

type family struct {
	name  string
	help  string
	typ   dto.MetricType
	label string
}

var families = []family{
	{RunsTotal, "Finished analysis runs by final state.", dto.MetricType_COUNTER, "state"},
	{WindowsTotal, "Analysis windows by outcome.", dto.MetricType_COUNTER, "outcome"},
	{RunErrorsTotal, "Failed analysis runs by error kind.", dto.MetricType_COUNTER, "kind"},
	{CacheHitsTotal, "Runs served entirely from the artifact cache.", dto.MetricType_COUNTER, ""},
	{RunSecondsTotal, "Wall time spent in analysis runs.", dto.MetricType_COUNTER, ""},
	{LastRunSeconds, "Wall time of the most recent run.", dto.MetricType_GAUGE, ""},
	{LastSuccessUnixTime, "Unix time of the most recent successful run.", dto.MetricType_GAUGE, ""},
}

// values maps family name to label value to sample value. Unlabelled
// families use the empty label value.
type values map[string]map[string]float64

func (v values) add(name, label string, delta float64) {
	if v[name] == nil {
		v[name] = make(map[string]float64)
	}
	v[name][label] += delta
}

func (v values) set(name, label string, value float64) {
	if v[name] == nil {
		v[name] = make(map[string]float64)
	}
	v[name][label] = value
}

// Textfile accumulates run metrics in a Prometheus text exposition file.
// It implements pipeline.Collector.
type Textfile struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger
	now    func() time.Time
	mu     sync.Mutex
}

var _ pipeline.Collector = (*Textfile)(nil)

// NewTextfile returns a collector writing to path. The file is created on
// the first observed run.
func NewTextfile(path string, logger *slog.Logger) (*Textfile, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("metrics textfile path is empty")
	}
	if !strings.HasSuffix(path, ".prom") {
		return nil, fmt.Errorf("metrics textfile %q must end in .prom", path)
	}
	return &Textfile{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logging.NewComponentLogger(logger, "metrics"),
		now:    time.Now,
	}, nil
}

// Path returns the textfile location.
func (t *Textfile) Path() string { return t.path }

// ObserveRun folds a finished run into the textfile. Write failures are
// logged; metrics never fail a run.
func (t *Textfile) ObserveRun(report pipeline.Report, err error) {
	if werr := t.update(func(v values) { t.apply(v, report, err) }); werr != nil {
		logging.WarnWithContext(context.Background(), t.logger, "metrics textfile update failed", "metrics_write_failed",
			logging.Error(werr),
			logging.String(logging.FieldImpact, "run counters are missing this run"),
			logging.String(logging.FieldErrorHint, "check metrics.textfile and its directory permissions"),
		)
	}
}

func (t *Textfile) apply(v values, report pipeline.Report, err error) {
	state := string(report.State)
	if state == "" {
		state = "failed"
	}
	v.add(RunsTotal, state, 1)
	v.add(WindowsTotal, "computed", float64(report.WindowsComputed))
	v.add(WindowsTotal, "cached", float64(report.WindowsCached))
	v.add(WindowsTotal, "failed", float64(report.WindowsFailed))
	if report.CacheHit {
		v.add(CacheHitsTotal, "", 1)
	} else {
		v.add(CacheHitsTotal, "", 0)
	}
	seconds := report.Duration.Seconds()
	v.add(RunSecondsTotal, "", seconds)
	v.set(LastRunSeconds, "", seconds)
	if err != nil {
		v.add(RunErrorsTotal, pipeline.ErrorKind(err), 1)
		return
	}
	v.set(LastSuccessUnixTime, "", float64(t.now().Unix()))
}

// update applies fn to the current file contents under the cross-process
// lock and rewrites the file.
func (t *Textfile) update(fn func(values)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("ensure metrics directory: %w", err)
	}

	if err := t.lock.Lock(); err != nil {
		return fmt.Errorf("lock metrics textfile: %w", err)
	}
	defer func() { _ = t.lock.Unlock() }()

	current, err := readValues(t.path)
	if err != nil {
		return err
	}
	fn(current)
	return fileutil.WriteAtomic(t.path, 0o644, func(w io.Writer) error {
		return writeValues(w, current)
	})
}

// Read returns the metric families currently in the textfile.
func Read(path string) (map[string]*dto.MetricFamily, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(f)
	if err != nil {
		return nil, fmt.Errorf("parse metrics textfile: %w", err)
	}
	return mfs, nil
}

func readValues(path string) (values, error) {
	v := make(values)
	mfs, err := Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return v, nil
	}
	if err != nil {
		return nil, err
	}
	for _, fam := range families {
		mf, ok := mfs[fam.name]
		if !ok {
			continue
		}
		for _, m := range mf.GetMetric() {
			label := ""
			for _, lp := range m.GetLabel() {
				if lp.GetName() == fam.label {
					label = lp.GetValue()
				}
			}
			switch {
			case m.Counter != nil:
				v.set(fam.name, label, m.GetCounter().GetValue())
			case m.Gauge != nil:
				v.set(fam.name, label, m.GetGauge().GetValue())
			case m.Untyped != nil:
				v.set(fam.name, label, m.GetUntyped().GetValue())
			}
		}
	}
	return v, nil
}

func writeValues(w io.Writer, v values) error {
	for _, fam := range families {
		samples := v[fam.name]
		if len(samples) == 0 {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, buildFamily(fam, samples)); err != nil {
			return fmt.Errorf("write %s: %w", fam.name, err)
		}
	}
	return nil
}

func buildFamily(fam family, samples map[string]float64) *dto.MetricFamily {
	labels := make([]string, 0, len(samples))
	for label := range samples {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	mf := &dto.MetricFamily{
		Name: proto.String(fam.name),
		Help: proto.String(fam.help),
		Type: fam.typ.Enum(),
	}
	for _, label := range labels {
		m := &dto.Metric{}
		if fam.label != "" {
			m.Label = []*dto.LabelPair{{Name: proto.String(fam.label), Value: proto.String(label)}}
		}
		value := samples[label]
		if fam.typ == dto.MetricType_COUNTER {
			m.Counter = &dto.Counter{Value: proto.Float64(value)}
		} else {
			m.Gauge = &dto.Gauge{Value: proto.Float64(value)}
		}
		mf.Metric = append(mf.Metric, m)
	}
	return mf
}
