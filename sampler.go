package commitfit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Phase is the lifecycle stage of a Sampler run.
//
//	Initializing → Optimizing → Sampling → Finalized
//	        └────────────┴───────────┴────→ Failed
type Phase int32

const (
	PhaseInitializing Phase = iota // Test values and starting states
	PhaseOptimizing                // MAP search
	PhaseSampling                  // Chains running
	PhaseFinalized                 // Trace assembled
	PhaseFailed                    // Aborted by an error
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseOptimizing:
		return "optimizing"
	case PhaseSampling:
		return "sampling"
	case PhaseFinalized:
		return "finalized"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Observer receives progress events. DrawCompleted is called from every
// chain goroutine, so implementations must be safe for concurrent use.
type Observer interface {
	PhaseEntered(p Phase)
	DrawCompleted(chain int, tuning bool, acceptance float64)
}

type nopObserver struct{}

func (nopObserver) PhaseEntered(Phase) {}

func (nopObserver) DrawCompleted(int, bool, float64) {}

// Config controls a sampling run.
type Config struct {
	Chains       int      // Independent chains, run in parallel
	Draws        int      // Recorded draws per chain
	Tune         int      // Discarded tuning draws per chain
	TuneInterval int      // Draws between step-size adjustments
	Seed         uint64   // Base seed when Seeds is short
	Seeds        []uint64 // Optional per-chain seeds
	MAP          MAPConfig

	Logger   *slog.Logger // nil discards
	Observer Observer     // nil ignores events
}

// DefaultConfig returns the defaults of the fit command.
func DefaultConfig() Config {
	return Config{
		Chains:       1,
		Draws:        3000,
		Tune:         500,
		TuneInterval: 100,
		MAP:          DefaultMAPConfig(),
	}
}

// Validate checks the run settings.
func (c Config) Validate() error {
	switch {
	case c.Chains < 1:
		return fmt.Errorf("%w: chains must be ≥ 1, got %d", ErrInvalidConfig, c.Chains)
	case c.Draws < 1:
		return fmt.Errorf("%w: draws must be ≥ 1, got %d", ErrInvalidConfig, c.Draws)
	case c.Tune < 0:
		return fmt.Errorf("%w: tune must be ≥ 0, got %d", ErrInvalidConfig, c.Tune)
	case c.TuneInterval < 1:
		return fmt.Errorf("%w: tune interval must be ≥ 1, got %d", ErrInvalidConfig, c.TuneInterval)
	case c.MAP.MaxRounds < 1 || c.MAP.FuncEvaluations < 1:
		return fmt.Errorf("%w: MAP rounds and evaluations must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChainSeed returns the seed of chain i.
func (c Config) ChainSeed(i int) uint64 {
	if i < len(c.Seeds) {
		return c.Seeds[i]
	}
	return c.Seed
}

// Sampler runs MAP seeding followed by parallel MCMC chains.
// A Sampler runs once.
type Sampler struct {
	model    *Model
	cfg      Config
	logger   *slog.Logger
	observer Observer

	phase   atomic.Int32
	started atomic.Bool
}

// NewSampler validates cfg and binds it to m.
func NewSampler(m *Model, cfg Config) (*Sampler, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil model", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Sampler{
		model:    m,
		cfg:      cfg,
		logger:   cfg.Logger,
		observer: cfg.Observer,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	return s, nil
}

// Phase returns the current lifecycle stage.
func (s *Sampler) Phase() Phase {
	return Phase(s.phase.Load())
}

func (s *Sampler) enter(p Phase) {
	s.phase.Store(int32(p))
	s.observer.PhaseEntered(p)
	s.logger.Info("phase", "phase", p.String())
}

// Run executes the full procedure. MAP failure aborts before any chain
// starts; a NaN density in any chain aborts every chain. Cancelling ctx stops
// the chains between draws.
func (s *Sampler) Run(ctx context.Context) (*Trace, error) {
	if s.started.Swap(true) {
		return nil, errors.New("commitfit: sampler already ran")
	}
	m, cfg := s.model, s.cfg

	s.enter(PhaseInitializing)
	start := m.InitialParams()
	states := m.SeedStates(cfg.MAP.Seeding)

	s.enter(PhaseOptimizing)
	began := time.Now()
	mapRes, err := FindMAP(m, start, states, cfg.MAP)
	if err != nil {
		s.enter(PhaseFailed)
		return nil, fmt.Errorf("find MAP: %w", err)
	}
	s.logger.Info("MAP estimate found",
		"logp", mapRes.LogPosterior,
		"rounds", mapRes.Rounds,
		"evaluations", mapRes.Evaluations,
		"elapsed", time.Since(began))

	s.enter(PhaseSampling)
	began = time.Now()
	chains := make([]ChainTrace, cfg.Chains)
	g, gctx := errgroup.WithContext(ctx)
	for i := range chains {
		g.Go(func() error {
			c := newChain(i, cfg.ChainSeed(i), m, mapRes, s.logger)
			ct, err := c.run(gctx, cfg, s.observer)
			if err != nil {
				return fmt.Errorf("chain %d: %w", i, err)
			}
			chains[i] = ct
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.enter(PhaseFailed)
		return nil, err
	}
	s.logger.Info("sampling finished",
		"chains", cfg.Chains,
		"draws", cfg.Draws,
		"tune", cfg.Tune,
		"elapsed", time.Since(began))

	s.enter(PhaseFinalized)
	return &Trace{NumStates: m.K, MAP: mapRes, Chains: chains}, nil
}
