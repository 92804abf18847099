// Command simulate drives concurrent bookings at a running api-server and
// checks that no dentist ends up with two active appointments at one instant.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/hackgods/dental-queue-scheduling/pkg/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Dentists     []string
	Patients     int
	Day          time.Time
	SlotMinutes  int
	WorkStart    int // hour
	WorkEnd      int // hour
	ConfirmRatio float64
	PatientRatio float64
}

type opMetrics struct {
	total     int64
	success   int64
	conflict  int64
	rejected  int64
	errors    int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *opMetrics) record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.total, 1)
	switch {
	case err != nil || status >= 500:
		atomic.AddInt64(&om.errors, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.conflict, 1)
	case status >= 400:
		atomic.AddInt64(&om.rejected, 1)
	default:
		atomic.AddInt64(&om.success, 1)
	}
	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *opMetrics) stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()
	if len(om.latencies) == 0 {
		return 0, 0, 0, 0
	}
	l := append([]time.Duration(nil), om.latencies...)
	sort.Slice(l, func(i, j int) bool { return l[i] < l[j] })
	var sum time.Duration
	for _, d := range l {
		sum += d
	}
	return sum / time.Duration(len(l)), l[len(l)*50/100], l[min(len(l)*95/100, len(l)-1)], l[len(l)-1]
}

type booked struct {
	mu    sync.Mutex
	codes []string
}

func (b *booked) add(code string) {
	b.mu.Lock()
	b.codes = append(b.codes, code)
	b.mu.Unlock()
}

func (b *booked) random(rng *rand.Rand) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.codes) == 0 {
		return "", false
	}
	return b.codes[rng.Intn(len(b.codes))], true
}

type simulator struct {
	cfg     SimConfig
	client  *http.Client
	logger  *logging.Logger
	runID   string
	slots   []time.Time
	booked  booked
	booking opMetrics
	confirm opMetrics
}

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL")).With("service", "simulate")

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	sim := &simulator{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		runID:  uuid.NewString()[:8],
	}
	sim.slots = daySlots(cfg)
	logger.Info("simulation starting",
		"run_id", sim.runID,
		"workers", cfg.Workers,
		"duration", cfg.Duration,
		"dentists", len(cfg.Dentists),
		"slots_per_dentist", len(sim.slots),
		"day", cfg.Day.Format(time.DateOnly),
	)

	sim.run()
	sim.report()

	dupes, err := sim.verify(context.Background())
	if err != nil {
		logger.Error("verification failed", "error", err)
		os.Exit(1)
	}
	if dupes > 0 {
		logger.Error("double booking detected", "instants", dupes)
		os.Exit(2)
	}
	logger.Info("no double bookings found")
}

func loadConfig() (SimConfig, error) {
	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 20*time.Second),
		Workers:      getInt("SIM_WORKERS", 16),
		Patients:     getInt("SIM_PATIENTS", 500),
		SlotMinutes:  getInt("SLOT_MINUTES", 30),
		WorkStart:    getInt("SIM_WORK_START_HOUR", 9),
		WorkEnd:      getInt("SIM_WORK_END_HOUR", 17),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.2),
		PatientRatio: getFloat("SIM_PATIENT_RATIO", 0.5),
	}
	for _, d := range strings.Split(getEnv("SIM_DENTISTS", "Dr-0001,Dr-0002,Dr-0003"), ",") {
		if d = strings.TrimSpace(d); d != "" {
			cfg.Dentists = append(cfg.Dentists, d)
		}
	}

	day := time.Now().UTC().AddDate(0, 0, 7)
	if v := os.Getenv("SIM_DAY"); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return cfg, fmt.Errorf("SIM_DAY must be YYYY-MM-DD: %w", err)
		}
		day = d
	}
	cfg.Day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	switch {
	case cfg.Workers <= 0:
		return cfg, fmt.Errorf("SIM_WORKERS must be > 0")
	case cfg.Duration <= 0:
		return cfg, fmt.Errorf("SIM_DURATION must be > 0")
	case len(cfg.Dentists) == 0:
		return cfg, fmt.Errorf("SIM_DENTISTS must list at least one dentist")
	case cfg.SlotMinutes <= 0 || cfg.WorkEnd <= cfg.WorkStart:
		return cfg, fmt.Errorf("invalid working hours")
	}
	return cfg, nil
}

// daySlots lists the slot starts on the simulated day. Instants are UTC so
// they line up with a server running in UTC clinic time.
func daySlots(cfg SimConfig) []time.Time {
	var out []time.Time
	start := cfg.Day.Add(time.Duration(cfg.WorkStart) * time.Hour)
	end := cfg.Day.Add(time.Duration(cfg.WorkEnd) * time.Hour)
	for t := start; t.Before(end); t = t.Add(time.Duration(cfg.SlotMinutes) * time.Minute) {
		out = append(out, t)
	}
	return out
}

func (s *simulator) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.worker(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (s *simulator) worker(ctx context.Context, id int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	for ctx.Err() == nil {
		if rng.Float64() < s.cfg.ConfirmRatio {
			s.doConfirm(ctx, rng)
			continue
		}
		s.doBooking(ctx, rng)
	}
}

func (s *simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	origin := "receptionist"
	if rng.Float64() < s.cfg.PatientRatio {
		origin = "patient"
	}
	body, _ := json.Marshal(map[string]any{
		"patientCode": fmt.Sprintf("P-%04d", rng.Intn(s.cfg.Patients)+1),
		"dentistCode": s.cfg.Dentists[rng.Intn(len(s.cfg.Dentists))],
		"when":        s.slots[rng.Intn(len(s.slots))].Format(time.RFC3339),
		"reason":      "simulation " + s.runID,
		"origin":      origin,
	})

	start := time.Now()
	status, resp, err := s.do(ctx, http.MethodPost, "/appointments", body)
	if ctx.Err() != nil {
		return
	}
	s.booking.record(time.Since(start), status, err)
	if status == http.StatusCreated {
		var appt struct {
			Code   string `json:"code"`
			Status string `json:"status"`
		}
		if json.Unmarshal(resp, &appt) == nil && appt.Status == "pending" {
			s.booked.add(appt.Code)
		}
	}
}

func (s *simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	code, ok := s.booked.random(rng)
	if !ok {
		return
	}
	start := time.Now()
	status, _, err := s.do(ctx, http.MethodPost, "/appointments/"+url.PathEscape(code)+"/confirm", []byte(`{"actorCode":"R-SIM"}`))
	if ctx.Err() != nil {
		return
	}
	s.confirm.record(time.Since(start), status, err)
}

func (s *simulator) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "sim-"+s.runID+"-"+uuid.NewString()[:8])

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.Bytes(), err
}

// verify lists each dentist's day and counts instants held by more than one
// active appointment.
func (s *simulator) verify(ctx context.Context) (int, error) {
	dupes := 0
	for _, dentist := range s.cfg.Dentists {
		q := url.Values{}
		q.Set("dentistCode", dentist)
		q.Set("date", s.cfg.Day.Format(time.DateOnly))
		q.Set("status", "pending,confirmed,completed")
		q.Set("limit", "500")
		status, body, err := s.do(ctx, http.MethodGet, "/appointments?"+q.Encode(), nil)
		if err != nil {
			return dupes, err
		}
		if status != http.StatusOK {
			return dupes, fmt.Errorf("list %s: status %d: %s", dentist, status, body)
		}
		var list []struct {
			Code        string    `json:"code"`
			ScheduledAt time.Time `json:"scheduledAt"`
		}
		if err := json.Unmarshal(body, &list); err != nil {
			return dupes, fmt.Errorf("decode %s: %w", dentist, err)
		}
		seen := map[int64]string{}
		for _, a := range list {
			key := a.ScheduledAt.Unix()
			if prev, ok := seen[key]; ok {
				s.logger.Error("duplicate instant", "dentist_code", dentist, "at", a.ScheduledAt, "first", prev, "second", a.Code)
				dupes++
				continue
			}
			seen[key] = a.Code
		}
		s.logger.Info("dentist verified", "dentist_code", dentist, "active", len(list))
	}
	return dupes, nil
}

func (s *simulator) report() {
	fmt.Println("\n" + strings.Repeat("=", 72))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("Run: %s  Duration: %s  Workers: %d\n\n", s.runID, s.cfg.Duration, s.cfg.Workers)
	printOp("Booking", &s.booking)
	printOp("Confirm", &s.confirm)
}

func printOp(name string, om *opMetrics) {
	total := atomic.LoadInt64(&om.total)
	if total == 0 {
		return
	}
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	avg, p50, p95, max := om.stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", om.success, pct(om.success))
	fmt.Printf("  Conflicts: %d (%.1f%%)\n", om.conflict, pct(om.conflict))
	fmt.Printf("  Rejected: %d (%.1f%%)\n", om.rejected, pct(om.rejected))
	fmt.Printf("  Errors: %d (%.1f%%)\n", om.errors, pct(om.errors))
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
