package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/hackgods/provider-availability/internal/logger"
)

// SimConfig drives the load generator. Every round picks a free slot and
// fires Contenders concurrent bookings at it; exactly one must win.
type SimConfig struct {
	APIBaseURL string        `envconfig:"SIM_API_BASE_URL" default:"http://localhost:8080"`
	Duration   time.Duration `envconfig:"SIM_DURATION" default:"30s"`
	Workers    int           `envconfig:"SIM_WORKERS" default:"4"`
	Contenders int           `envconfig:"SIM_CONTENDERS" default:"20"`
	ReadRatio  float64       `envconfig:"SIM_READ_RATIO" default:"0.3"`
	DaysAhead  int           `envconfig:"SIM_DAYS_AHEAD" default:"14"`
	LogLevel   string        `envconfig:"LOG_LEVEL" default:"info"`
}

type OperationMetrics struct {
	Total       int64
	Success     int64
	Conflict    int64
	Unavailable int64
	Error       int64
	Latencies   []time.Duration
	mu          sync.Mutex
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeUnavailable
	outcomeError
)

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeSuccess:
		atomic.AddInt64(&om.Success, 1)
	case outcomeConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case outcomeUnavailable:
		atomic.AddInt64(&om.Unavailable, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking OperationMetrics
	Slots   OperationMetrics

	Rounds int64
	// DoubleBooked counts rounds where more than one contender won.
	DoubleBooked int64
}

type Simulator struct {
	config    SimConfig
	providers []uuid.UUID
	client    *http.Client
	metrics   Metrics
	log       zerolog.Logger
}

type slotView struct {
	Time   string `json:"time"`
	Status string `json:"status"`
}

func main() {
	_ = godotenv.Load()

	var cfg SimConfig
	if err := envconfig.Process("", &cfg); err != nil {
		bootLog := logger.New(logger.Config{})
		bootLog.Fatal().Err(err).Msg("invalid config")
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Service: "simulate"})

	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	providers, err := sim.loadProviders(ctx)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("load providers")
	}
	sim.providers = providers

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("contenders", cfg.Contenders).
		Int("providers", len(providers)).
		Msg("simulator starting")

	sim.Run()
	sim.PrintReport()

	if atomic.LoadInt64(&sim.metrics.DoubleBooked) > 0 {
		os.Exit(1)
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Contenders < 2 {
		return fmt.Errorf("SIM_CONTENDERS must be at least 2")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.DaysAhead <= 0 {
		return fmt.Errorf("SIM_DAYS_AHEAD must be > 0")
	}
	return nil
}

func (s *Simulator) loadProviders(ctx context.Context) ([]uuid.UUID, error) {
	var resp []struct {
		ID uuid.UUID `json:"id"`
	}
	if err := s.getJSON(ctx, "/providers", &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("no providers returned; run cmd/seed first")
	}

	ids := make([]uuid.UUID, 0, len(resp))
	for _, p := range resp {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		provider := s.providers[rng.Intn(len(s.providers))]
		date := time.Now().AddDate(0, 0, 1+rng.Intn(s.config.DaysAhead)).Format("2006-01-02")

		slots, ok := s.fetchSlots(ctx, provider, date)
		if !ok || rng.Float64() < s.config.ReadRatio {
			continue
		}

		free := make([]string, 0, len(slots))
		for _, slot := range slots {
			if slot.Status == "AVAILABLE" {
				free = append(free, slot.Time)
			}
		}
		if len(free) == 0 {
			continue
		}

		s.contend(ctx, provider, date, free[rng.Intn(len(free))])
	}
}

func (s *Simulator) fetchSlots(ctx context.Context, provider uuid.UUID, date string) ([]slotView, bool) {
	start := time.Now()
	var resp struct {
		Slots []slotView `json:"slots"`
	}
	err := s.getJSON(ctx, fmt.Sprintf("/providers/%s/slots?date=%s", provider, date), &resp)
	if err != nil {
		if ctx.Err() == nil {
			s.metrics.Slots.Record(time.Since(start), outcomeError)
		}
		return nil, false
	}
	s.metrics.Slots.Record(time.Since(start), outcomeSuccess)
	return resp.Slots, true
}

// contend fires every contender at the same slot at once.
func (s *Simulator) contend(ctx context.Context, provider uuid.UUID, date, at string) {
	var (
		wg    sync.WaitGroup
		gate  = make(chan struct{})
		wins  int64
		total = s.config.Contenders
	)

	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			if s.doBooking(ctx, provider, date, at) == outcomeSuccess {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	close(gate)
	wg.Wait()

	if ctx.Err() != nil {
		return
	}
	atomic.AddInt64(&s.metrics.Rounds, 1)
	if wins > 1 {
		atomic.AddInt64(&s.metrics.DoubleBooked, 1)
		s.log.Error().
			Str("provider_id", provider.String()).
			Str("date", date).
			Str("time", at).
			Int64("winners", wins).
			Msg("slot booked more than once")
	}
}

func (s *Simulator) doBooking(ctx context.Context, provider uuid.UUID, date, at string) outcome {
	body, _ := json.Marshal(map[string]string{
		"provider_id": provider.String(),
		"patient_id":  uuid.NewString(),
		"date":        date,
		"time":        at,
	})

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/bookings", bytes.NewReader(body))
	if err != nil {
		return outcomeError
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			s.metrics.Booking.Record(latency, outcomeError)
		}
		return outcomeError
	}
	defer resp.Body.Close()

	o := outcomeError
	switch resp.StatusCode {
	case http.StatusCreated:
		o = outcomeSuccess
	case http.StatusConflict:
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "slot_conflict" {
			o = outcomeConflict
		} else {
			o = outcomeUnavailable
		}
	}

	s.metrics.Booking.Record(latency, o)
	return o
}

func (s *Simulator) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (s *Simulator) PrintReport() {
	line := strings.Repeat("=", 80)
	fmt.Println("\n" + line)
	fmt.Println("SIMULATION REPORT")
	fmt.Println(line)
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d, contenders per slot: %d\n", s.config.Workers, s.config.Contenders)
	fmt.Printf("Rounds: %d, double-booked slots: %d\n",
		atomic.LoadInt64(&s.metrics.Rounds), atomic.LoadInt64(&s.metrics.DoubleBooked))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Slots", &s.metrics.Slots)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	unavailable := atomic.LoadInt64(&om.Unavailable)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if unavailable > 0 {
		fmt.Printf("  Unavailable: %d (%.1f%%)\n", unavailable, pct(unavailable))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}
