package commitfit

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"reflect"
	"sync"
	"testing"
)

type recordingObserver struct {
	mu     sync.Mutex
	phases []Phase
	draws  map[int]int
	tuning int
}

func (o *recordingObserver) PhaseEntered(p Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, p)
}

func (o *recordingObserver) DrawCompleted(chain int, tuning bool, acceptance float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.draws == nil {
		o.draws = make(map[int]int)
	}
	o.draws[chain]++
	if tuning {
		o.tuning++
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Chains = 2
	cfg.Draws = 20
	cfg.Tune = 20
	cfg.TuneInterval = 10
	cfg.Seeds = []uint64{101, 202}
	return cfg
}

// Two chains of 50 draws on data generated from known values must recover
// the baseline rate and the heterogeneity shape.
func TestSampler_RecoversGeneratingValues(t *testing.T) {
	if testing.Short() {
		t.Skip("posterior recovery runs the full pipeline")
	}
	m, _ := syntheticModel(t, 80, 12, 3, 2024)

	cfg := DefaultConfig()
	cfg.Chains = 2
	cfg.Draws = 50
	cfg.Tune = 200
	cfg.Seeds = []uint64{7, 8}

	s, err := NewSampler(m, cfg)
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	tr, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(tr.Chains) != 2 || tr.Draws() != 50 {
		t.Fatalf("Expected 2×50 draws, got %d×%d", len(tr.Chains), tr.Draws())
	}
	PrintSummary(t, tr, "r", "th0", "G[0]", "G[1]", "Q[0]", "PI[0,0]")
	AssertFinite(t, tr)
	AssertFeasible(t, m, tr)

	truth := truthParams()
	AssertPosteriorMean(t, tr, "th0", truth.Th0, 0.3)

	conv := DefaultAssertionConfig()
	conv.MaxRHat = 1.5 // Short chains from a shared MAP start
	AssertConverged(t, tr, conv, "th0", "G[1]")

	stats, err := tr.Summarize("r")
	if err != nil {
		t.Fatal(err)
	}
	if r := stats[0].Mean; r < truth.R/4 || r > truth.R*4 {
		t.Errorf("Posterior mean of r = %.3f, want within a factor 4 of %.1f", r, truth.R)
	}
}

func TestSampler_Deterministic(t *testing.T) {
	m, _ := syntheticModel(t, 12, 6, 3, 31)

	run := func() *Trace {
		s, err := NewSampler(m, smallConfig())
		if err != nil {
			t.Fatalf("NewSampler: %v", err)
		}
		tr, err := s.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return tr
	}

	a, b := run(), run()
	if !reflect.DeepEqual(a.Chains, b.Chains) {
		t.Fatal("Identical seeds produced different traces")
	}
	if reflect.DeepEqual(a.Chains[0].Samples, a.Chains[1].Samples) {
		t.Error("Different chain seeds produced identical samples")
	}
	t.Logf("✓ Deterministic across runs, chains differ")
}

func TestSampler_PhasesAndDraws(t *testing.T) {
	m, _ := syntheticModel(t, 10, 6, 3, 37)

	obs := &recordingObserver{}
	cfg := smallConfig()
	cfg.Observer = obs
	s, err := NewSampler(m, cfg)
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	tr, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []Phase{PhaseInitializing, PhaseOptimizing, PhaseSampling, PhaseFinalized}
	if !reflect.DeepEqual(obs.phases, want) {
		t.Errorf("Phases = %v, want %v", obs.phases, want)
	}
	if s.Phase() != PhaseFinalized {
		t.Errorf("Final phase = %v", s.Phase())
	}
	for c := 0; c < cfg.Chains; c++ {
		if obs.draws[c] != cfg.Tune+cfg.Draws {
			t.Errorf("Chain %d: %d draws observed, want %d", c, obs.draws[c], cfg.Tune+cfg.Draws)
		}
	}
	if obs.tuning != cfg.Chains*cfg.Tune {
		t.Errorf("Tuning draws observed = %d, want %d", obs.tuning, cfg.Chains*cfg.Tune)
	}

	// Recorded samples are independent copies.
	first := &tr.Chains[0].Samples[0]
	before := first.Th0
	tr.Chains[0].Samples[1].Params.Q[0] = -1
	tr.Chains[0].Samples[1].States[0][0] = -1
	if first.Th0 != before || first.Q[0] == -1 || first.States[0][0] == -1 {
		t.Error("Samples share buffers")
	}

	for _, ch := range tr.Chains {
		if _, ok := ch.Acceptance["th0"]; !ok {
			t.Errorf("Chain %d: no acceptance for th0", ch.Chain)
		}
		// Blocks: Q, K PI rows, r, th0, G and N multipliers.
		if got, want := len(ch.Acceptance), 1+m.K+3+m.N; got != want {
			t.Errorf("Chain %d: %d acceptance entries, want %d", ch.Chain, got, want)
		}
	}

	if _, err := s.Run(context.Background()); err == nil {
		t.Error("Second Run must fail")
	}
}

func TestSampler_MAPFailureStopsBeforeSampling(t *testing.T) {
	m, _ := syntheticModel(t, 10, 6, 3, 41)

	obs := &recordingObserver{}
	cfg := smallConfig()
	cfg.MAP.FuncEvaluations = 1
	cfg.Observer = obs
	s, err := NewSampler(m, cfg)
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}

	_, err = s.Run(context.Background())
	if !errors.Is(err, ErrOptimization) {
		t.Fatalf("Expected ErrOptimization, got %v", err)
	}
	if s.Phase() != PhaseFailed {
		t.Errorf("Phase = %v, want failed", s.Phase())
	}
	if len(obs.draws) != 0 {
		t.Errorf("Chains ran after MAP failure: %v", obs.draws)
	}
}

func TestSampler_Cancelled(t *testing.T) {
	m, _ := syntheticModel(t, 10, 6, 3, 43)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := NewSampler(m, smallConfig())
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	if _, err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if s.Phase() != PhaseFailed {
		t.Errorf("Phase = %v, want failed", s.Phase())
	}
}

func TestNewSampler_InvalidConfig(t *testing.T) {
	m, _ := syntheticModel(t, 5, 6, 3, 47)

	bad := []func(*Config){
		func(c *Config) { c.Chains = 0 },
		func(c *Config) { c.Draws = 0 },
		func(c *Config) { c.Tune = -1 },
		func(c *Config) { c.TuneInterval = 0 },
		func(c *Config) { c.MAP.MaxRounds = 0 },
	}
	for i, mutate := range bad {
		cfg := DefaultConfig()
		mutate(&cfg)
		if _, err := NewSampler(m, cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Mutation %d: expected ErrInvalidConfig, got %v", i, err)
		}
	}
	if _, err := NewSampler(nil, DefaultConfig()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Nil model: expected ErrInvalidConfig, got %v", err)
	}
}

func TestChain_NaNIsInstability(t *testing.T) {
	m, _ := syntheticModel(t, 5, 6, 3, 53)
	res, err := FindMAP(m, m.InitialParams(), m.SeedStates(SeedQuantile), DefaultMAPConfig())
	if err != nil {
		t.Fatalf("FindMAP: %v", err)
	}

	res.Params.Th0 = math.NaN()
	c := newChain(3, 1, m, res, discardLogger())
	_, err = c.step(9)
	if !errors.Is(err, ErrNumericalInstability) {
		t.Fatalf("Expected ErrNumericalInstability, got %v", err)
	}
	var ie *InstabilityError
	if !errors.As(err, &ie) || ie.Chain != 3 || ie.Draw != 9 {
		t.Errorf("Instability not located: %v", err)
	}
	t.Logf("✓ %v", err)
}

func TestChain_ImpossibleCountIsInstability(t *testing.T) {
	m, _ := syntheticModel(t, 5, 6, 3, 53)
	res, err := FindMAP(m, m.InitialParams(), m.SeedStates(SeedQuantile), DefaultMAPConfig())
	if err != nil {
		t.Fatalf("FindMAP: %v", err)
	}

	i := -1
	for j, y := range m.usageTotal {
		if y > 0 {
			i = j
			break
		}
	}
	if i < 0 {
		t.Fatal("Expected a customer with positive usage")
	}

	// A zero multiplier gives every state zero likelihood for a positive count.
	c := newChain(2, 1, m, res, discardLogger())
	c.cur.A[i] = 0
	err = c.gibbs(4)
	if !errors.Is(err, ErrNumericalInstability) {
		t.Fatalf("Expected ErrNumericalInstability, got %v", err)
	}
	var ie *InstabilityError
	if !errors.As(err, &ie) || ie.Chain != 2 || ie.Draw != 4 || ie.Block != "states" {
		t.Errorf("Instability not located: %v", err)
	}
	t.Logf("✓ %v", err)
}

func TestChain_StatesStayFeasible(t *testing.T) {
	m, _ := syntheticModel(t, 15, 6, 3, 59)
	res, err := FindMAP(m, m.InitialParams(), m.SeedStates(SeedQuantile), DefaultMAPConfig())
	if err != nil {
		t.Fatalf("FindMAP: %v", err)
	}

	c := newChain(0, 5, m, res, discardLogger())
	for d := 0; d < 30; d++ {
		if _, err := c.step(d); err != nil {
			t.Fatalf("step %d: %v", d, err)
		}
		if !m.Feasible(c.states) {
			t.Fatalf("Draw %d: infeasible states", d)
		}

		// Tracked statistics must match a fresh recount.
		fresh := newStateStats(m, c.states)
		if !reflect.DeepEqual(fresh, c.stats) {
			t.Fatalf("Draw %d: state statistics drifted", d)
		}
		if math.IsInf(c.logp, 0) || math.IsNaN(c.logp) {
			t.Fatalf("Draw %d: logp %v", d, c.logp)
		}
	}
}

func TestTuneScale(t *testing.T) {
	tests := []struct {
		acc, want float64
	}{
		{0.0005, 0.1},
		{0.01, 0.5},
		{0.1, 0.9},
		{0.3, 1},
		{0.6, 1.1},
		{0.8, 2},
		{0.99, 10},
	}
	for _, tt := range tests {
		if got := tuneScale(1, tt.acc); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("tuneScale(1, %v) = %v, want %v", tt.acc, got, tt.want)
		}
	}
}
