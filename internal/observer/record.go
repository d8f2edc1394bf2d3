package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObserveCommand wraps one command handling in a span, recording duration
// and a status-tagged counter. Safe on a nil receiver.
func (in *Instruments) ObserveCommand(ctx context.Context, command, chatID string, fn func(context.Context) error) error {
	if in == nil {
		return fn(ctx)
	}

	ctx, span := in.Tracer.Start(ctx, "gateway.command", trace.WithAttributes(
		AttrCommand.String(command),
		AttrChatID.String(chatID),
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	durationMs := float64(time.Since(start)) / float64(time.Millisecond)

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	in.HandleDuration.Record(ctx, durationMs, metric.WithAttributes(AttrCommand.String(command)))
	in.Commands.Add(ctx, 1, metric.WithAttributes(
		AttrCommand.String(command),
		AttrStatus.String(status),
	))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	if err != nil {
		rec.SetSeverity(otellog.SeverityWarn)
	}
	rec.SetBody(otellog.StringValue("command handled"))
	rec.AddAttributes(
		otellog.String("gateway.command", command),
		otellog.String("gateway.chat_id", chatID),
		otellog.Float64("gateway.duration_ms", durationMs),
		otellog.String("gateway.status", status),
	)
	in.Logger.Emit(ctx, rec)

	return err
}

// RecordUpdate counts one received Telegram update.
func (in *Instruments) RecordUpdate(ctx context.Context) {
	if in == nil {
		return
	}
	in.Updates.Add(ctx, 1)
}

// RecordDispatch counts one orchestrator dispatch attempt.
func (in *Instruments) RecordDispatch(ctx context.Context, project, mode string, ok bool) {
	if in == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	in.Dispatches.Add(ctx, 1, metric.WithAttributes(
		AttrProject.String(project),
		AttrMode.String(mode),
		AttrStatus.String(status),
	))
}

// RecordGateDenial counts one blocked request, labeled by the gate.
func (in *Instruments) RecordGateDenial(ctx context.Context, gate string) {
	if in == nil {
		return
	}
	in.GateDenials.Add(ctx, 1, metric.WithAttributes(AttrGate.String(gate)))
}

// RecordSendFailure counts one delivery lost after retries.
func (in *Instruments) RecordSendFailure(ctx context.Context) {
	if in == nil {
		return
	}
	in.SendFails.Add(ctx, 1)
}

// RecordOrch records one orchestrator subprocess duration.
func (in *Instruments) RecordOrch(ctx context.Context, project string, d time.Duration, err error) {
	if in == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	in.OrchDuration.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(
		AttrProject.String(project),
		AttrStatus.String(status),
	))
}

// RecordPlanner records one planner stage duration.
func (in *Instruments) RecordPlanner(ctx context.Context, stage string, d time.Duration, err error) {
	if in == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	in.PlannerDuration.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(
		AttrStage.String(stage),
		AttrStatus.String(status),
	))
}
