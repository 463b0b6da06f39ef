package ledger

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/kode4food/ledger"

type telemetry struct {
	tracer    trace.Tracer
	appended  metric.Int64Counter
	conflicts metric.Int64Counter
	failures  metric.Int64Counter
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) *telemetry {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	return &telemetry{
		tracer: tp.Tracer(instrumentationName),
		appended: counter(meter,
			"ledger.appended_events",
			"The number of events durably appended.",
			"{event}",
		),
		conflicts: counter(meter,
			"ledger.conflicts",
			"The number of appends rejected by a version conflict.",
			"{conflict}",
		),
		failures: counter(meter,
			"ledger.deserialization_failures",
			"The number of events that could not be deserialized on read.",
			"{event}",
		),
	}
}

func counter(m metric.Meter, name, desc, unit string) metric.Int64Counter {
	c, err := m.Int64Counter(name,
		metric.WithDescription(desc),
		metric.WithUnit(unit),
	)
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}
