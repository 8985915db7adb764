package orchestrator

import (
	"context"
	"time"

	"github.com/danielpatrickdp/hybrid-router/internal/config"
	"github.com/danielpatrickdp/hybrid-router/internal/encoder"
	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
	"github.com/danielpatrickdp/hybrid-router/internal/eval"
	"github.com/danielpatrickdp/hybrid-router/internal/features"
	"github.com/danielpatrickdp/hybrid-router/internal/gate"
	"github.com/danielpatrickdp/hybrid-router/internal/logger"
	"github.com/danielpatrickdp/hybrid-router/internal/metrics"
	"github.com/danielpatrickdp/hybrid-router/internal/reservoir"
	"github.com/danielpatrickdp/hybrid-router/internal/router"
	"github.com/danielpatrickdp/hybrid-router/internal/session"
	"github.com/danielpatrickdp/hybrid-router/internal/store"
	"github.com/danielpatrickdp/hybrid-router/internal/training"
)

// #region build

// Build assembles an Orchestrator from cfg. st and rec may be nil. With a
// store, the active version of cfg.Neural.Model is loaded into the neural
// router; a model that was never trained leaves it empty.
// Kill switch: cfg.Neural.Enabled=false (ORCHESTRATOR_NEURAL=false) starts in
// heuristic routing.
func Build(ctx context.Context, cfg config.Config, st *store.Store, rec *metrics.Recorder) (*Orchestrator, error) {
	log := logger.Named("orchestrator")

	layout, err := features.NewLayout(cfg.Features.Dimension)
	if err != nil {
		return nil, err
	}
	enc, closeEnc, err := buildEncoder(cfg.Encoder, layout.Text.Width)
	if err != nil {
		return nil, err
	}
	ex, err := features.NewExtractor(cfg.Features.Dimension, enc, cfg.Heuristic.LongQueryChars)
	if err != nil {
		closeEnc()
		return nil, err
	}

	tmpl, err := reservoir.New(reservoir.Config{
		Size:           cfg.Reservoir.Size,
		InputSize:      cfg.Features.Dimension,
		OutputSize:     cfg.Reservoir.OutputSize,
		LeakRate:       cfg.Reservoir.LeakRate,
		SpectralRadius: cfg.Reservoir.SpectralRadius,
		Sparsity:       cfg.Reservoir.Sparsity,
		InputScaling:   cfg.Reservoir.InputScaling,
		Seed:           cfg.Reservoir.Seed,
	})
	if err != nil {
		closeEnc()
		return nil, err
	}

	var persist session.Persistence
	if st != nil {
		persist = st
	}
	sessions, err := session.NewManager(session.Config{
		HistoryCap:     cfg.Session.HistoryCap,
		DefaultProject: cfg.Session.DefaultProject,
	}, tmpl, persist)
	if err != nil {
		closeEnc()
		return nil, err
	}

	strategy := router.StrategyHeuristic
	if cfg.Neural.Enabled {
		strategy = router.StrategyNeural
	}
	neural := router.NewNeuralRouter(cfg.Features.Dimension)
	rt := router.New(router.NewHeuristicRouter(router.HeuristicConfig(cfg.Heuristic)), neural, strategy)

	if st != nil {
		active, err := training.RestoreActive(ctx, st, cfg.Neural.Model, neural)
		switch {
		case herr.IsKind(err, herr.KindNotFound):
			log.Info().Str("model", cfg.Neural.Model).Msg("no trained router model yet")
		case err != nil:
			closeEnc()
			return nil, err
		default:
			log.Info().
				Str("model", cfg.Neural.Model).
				Str("version", active.VersionID).
				Float64("accuracy", active.Accuracy).
				Msg("router model restored")
		}
	}

	o, err := NewOrchestrator(Deps{
		Gate:             gate.NewGate(gate.GateConfig{MaxQueryLength: cfg.Safety.MaxQueryLength}),
		Extractor:        ex,
		Router:           rt,
		Sessions:         sessions,
		Store:            st,
		Metrics:          rec,
		ContextWindow:    cfg.Session.ContextWindow,
		MaxResponseChars: cfg.Session.MaxResponseChars,
	})
	if err != nil {
		closeEnc()
		return nil, err
	}
	o.closers = append(o.closers, closeEnc)

	log.Info().
		Str("strategy", strategy.String()).
		Int("dimension", cfg.Features.Dimension).
		Int("reservoir", cfg.Reservoir.Size).
		Bool("remote_encoder", cfg.Encoder.Addr != "").
		Msg("orchestrator ready")
	return o, nil
}

// buildEncoder returns the text-band encoder: the hashed bag-of-words, or a
// gRPC client backed by it when an address is configured.
func buildEncoder(cfg config.EncoderConfig, width int) (encoder.Encoder, func() error, error) {
	noop := func() error { return nil }
	hash, err := encoder.NewHashEncoder(width)
	if err != nil {
		return nil, noop, err
	}
	if cfg.Addr == "" {
		return hash, noop, nil
	}
	client, err := encoder.Dial(cfg.Addr, width, time.Duration(cfg.TimeoutMs)*time.Millisecond)
	if err != nil {
		return nil, noop, err
	}
	fb, err := encoder.NewFallback(client, hash)
	if err != nil {
		client.Close()
		return nil, noop, err
	}
	return fb, client.Close, nil
}

// #endregion build

// #region training-worker

// TrainingWorker builds a background worker that retrains the neural router
// from cfg.Training and commits promoted weights under cfg.Neural.Model.
func (o *Orchestrator) TrainingWorker(cfg config.Config) (*training.Worker, error) {
	trainer, err := training.NewTrainer(training.FromConfig(cfg))
	if err != nil {
		return nil, err
	}
	ec := eval.DefaultEvalConfig()
	ec.MinAccuracy = cfg.Training.MinAccuracy
	var models training.ModelStore
	if o.store != nil {
		models = o.store
	}
	return training.NewWorker(trainer, eval.NewEvalHarness(ec), o.router.Neural(), models, cfg.Neural.Model, o.rec), nil
}

// #endregion training-worker
