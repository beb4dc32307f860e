package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.jacobcolvin.com/pyroagent/capture"
	"go.jacobcolvin.com/pyroagent/ingest"
)

func (a *Agent) loop(r *run) {
	defer close(r.done)

	r.err = a.session(r)
}

// session drives the capture handle from initialization to the final flush.
// Only this goroutine touches a.capture and a.uploader while it runs.
func (a *Agent) session(r *run) (err error) {
	err = a.capture.Initialize(a.config.FrequencyHz, a.config.Blocklist)
	if err == nil {
		err = a.capture.Start()
	}

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrCaptureInit, err)
		a.logger.Error("capture failed to start", slog.Any("error", err))

		return err
	}

	defer func() {
		stopErr := a.capture.Stop()
		if stopErr != nil && !errors.Is(stopErr, capture.ErrNotRunning) {
			err = errors.Join(err, fmt.Errorf("stopping capture: %w", stopErr))
		}
	}()

	ticker := a.newTicker(ingest.WindowWidth)
	defer ticker.Stop()

	// Uploads are never canceled; Stop waits for the one in flight.
	ctx := context.Background()

	for {
		select {
		case <-r.stop:
			return a.cycle(ctx, r.events, EventFlush)

		case <-ticker.C():
			err := a.cycle(ctx, r.events, EventTick)
			if errors.Is(err, capture.ErrUnusable) {
				return err
			}
		}
	}
}

// cycle captures one report and uploads it. The result is logged, counted
// and published before being returned.
func (a *Agent) cycle(ctx context.Context, events *Events, kind EventKind) error {
	start := time.Now()

	ev := Event{Kind: kind, Time: start}

	report, err := a.capture.Report()
	if err != nil {
		ev.Err = fmt.Errorf("%w: %w", ErrCaptureSnapshot, err)
	} else {
		ev.Window = ingest.NewWindow(report.StartTime)
		ev.Err = a.uploader.Ingest(ctx, report, a.name)
	}

	ev.Duration = time.Since(start)

	a.observe(events, ev)

	return ev.Err
}

func (a *Agent) observe(events *Events, ev Event) {
	a.metrics.observe(ev)
	events.Publish(ev)

	attrs := []any{
		slog.String("kind", ev.Kind.String()),
		slog.Int64("from", ev.Window.From),
		slog.Int64("until", ev.Window.Until),
		slog.Duration("duration", ev.Duration),
	}

	if ev.Err != nil {
		a.logger.Warn("profile upload failed", append(attrs, slog.Any("error", ev.Err))...)

		return
	}

	a.logger.Debug("profile uploaded", attrs...)
}
