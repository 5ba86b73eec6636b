// Package synthsvc exposes the synthesis pipeline on the message bus.
package synthsvc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cantabile-labs/cantabile-core/internal/bus"
	"github.com/cantabile-labs/cantabile-core/internal/protocol"
	"github.com/cantabile-labs/cantabile-core/internal/runstore"
	"github.com/cantabile-labs/cantabile-core/internal/synth"
)

// Service runs synthesis requests arriving on the bus. Requests are
// processed one at a time; the pipeline holds no shared state across
// concurrent runs.
type Service struct {
	bus      *bus.Client
	pipeline *synth.Pipeline
	store    *runstore.Store
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	wg       sync.WaitGroup
	logger   *slog.Logger

	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

func NewService(parent context.Context, busClient *bus.Client, pipeline *synth.Pipeline, store *runstore.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)

	meter := otel.Meter("cantabile/synthsvc")
	runs, _ := meter.Int64Counter("synth.runs",
		metric.WithDescription("Completed synthesis runs by status"))
	duration, _ := meter.Float64Histogram("synth.duration",
		metric.WithDescription("Synthesis run duration"),
		metric.WithUnit("ms"))

	return &Service{
		bus:      busClient,
		pipeline: pipeline,
		store:    store,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "synth-service")),
		runs:     runs,
		duration: duration,
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSynthRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SynthRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode synth request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		s.process(req)
	}()
}

func (s *Service) process(req protocol.SynthRequest) {
	started := time.Now()
	result, err := s.pipeline.Run(s.ctx, req.LabelPath, req.OutWavPath)
	elapsed := time.Since(started)

	run := runstore.Run{
		LabelPath:  req.LabelPath,
		OutWavPath: req.OutWavPath,
		Status:     "ok",
		Elapsed:    elapsed,
	}
	out := protocol.SynthResult{
		RequestID: req.RequestID,
		Success:   err == nil,
		Timestamp: time.Now().UTC(),
	}

	if err != nil {
		s.logger.Error("synthesis failed", slog.String("label", req.LabelPath), slogError(err))
		run.Status = "failed"
		run.Error = err.Error()
		out.Error = err.Error()
	} else {
		run.OutWavPath = result.Artifacts.WavPath
		run.BitDepth = result.BitDepth
		run.MaxGain = result.MaxGain
		run.Frames = result.Frames
		run.Samples = result.Samples
		out.OutWavPath = result.Artifacts.WavPath
		out.TimingPath = result.Artifacts.TimingPath
		out.Frames = result.Frames
		out.Samples = result.Samples
		out.BitDepth = result.BitDepth
	}

	s.runs.Add(s.ctx, 1, metric.WithAttributes(attribute.String("status", run.Status)))
	s.duration.Record(s.ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(attribute.String("status", run.Status)))

	if s.store != nil {
		if err := s.store.RecordRun(s.ctx, run); err != nil {
			s.logger.Warn("failed to record run", slogError(err))
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		s.logger.Warn("failed to marshal synth result", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectSynthResult, data); err != nil {
		s.logger.Warn("failed to publish synth result", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
