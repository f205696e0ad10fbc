package venvpipe

import "github.com/richinsley/venvpipe/synth"

// RunMetricsName is the record name RunMetrics travels under.
const RunMetricsName = "venvpipe.RunMetrics"

// RunMetrics is a small summary a worker can report as its result.
type RunMetrics struct {
	WasIdle      bool
	HasFailed    bool
	PendingItems int64
}

func init() {
	synth.Register(RunMetricsName, func(f *synth.Fields) (any, error) {
		var (
			m   RunMetrics
			err error
		)
		if m.WasIdle, err = f.Bool("was_idle"); err != nil {
			return nil, err
		}
		if m.HasFailed, err = f.Bool("has_failed"); err != nil {
			return nil, err
		}
		if m.PendingItems, err = f.Int("pending_items"); err != nil {
			return nil, err
		}
		return m, nil
	})
}

func (m RunMetrics) RecordName() string {
	return RunMetricsName
}

func (m RunMetrics) RecordFields() []synth.Field {
	return []synth.Field{
		{Name: "was_idle", Value: m.WasIdle},
		{Name: "has_failed", Value: m.HasFailed},
		{Name: "pending_items", Value: m.PendingItems},
	}
}
