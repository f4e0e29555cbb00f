package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/provider-scheduling/internal/db"
)

// The simulator drives concurrent booking traffic against a running
// api-server and then verifies the no-double-booking invariant straight
// from the database.

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	Contended   bool // all workers fight over one slot
	PostgresDSN string
}

type bookingRequest struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	PatientID  uuid.UUID
}

type DataPool struct {
	Patients []uuid.UUID
	Slots    []uuid.UUID

	mu       sync.RWMutex
	requests []bookingRequest
}

func (dp *DataPool) AddRequest(r bookingRequest) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.requests = append(dp.requests, r)
}

func (dp *DataPool) GetRandomRequest() (bookingRequest, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.requests) == 0 {
		return bookingRequest{}, false
	}
	return dp.requests[rand.Intn(len(dp.requests))], true
}

type OperationMetrics struct {
	Total    int64
	Success  int64
	Conflict int64
	Error    int64

	mu        sync.Mutex
	Latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, p50, p95
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := SimConfig{
		APIBaseURL:  envStr("SIM_API_URL", "http://127.0.0.1:8080"),
		Duration:    envDuration("SIM_DURATION", 30*time.Second),
		Workers:     envInt("SIM_WORKERS", 20),
		Contended:   envBool("SIM_CONTENDED", false),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 0)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	dataPool, err := loadDataPool(context.Background(), pool, cfg.Contended)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded %d patients, %d available slots (contended=%v)",
		len(dataPool.Patients), len(dataPool.Slots), cfg.Contended)
	if len(dataPool.Patients) == 0 || len(dataPool.Slots) == 0 {
		log.Fatal("nothing to simulate: seed and generate slots first")
	}

	createMetrics := &OperationMetrics{}
	confirmMetrics := &OperationMetrics{}
	cancelMetrics := &OperationMetrics{}

	client := &http.Client{Timeout: 10 * time.Second}
	runCtx, stop := context.WithTimeout(context.Background(), cfg.Duration)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(runCtx, client, cfg, dataPool, createMetrics, confirmMetrics, cancelMetrics)
		}()
	}
	wg.Wait()

	report("create", createMetrics)
	report("confirm", confirmMetrics)
	report("cancel", cancelMetrics)

	if err := verifyInvariants(context.Background(), pool); err != nil {
		log.Fatalf("INVARIANT VIOLATION: %v", err)
	}
	log.Println("invariants hold: no slot double-booked")
}

func worker(ctx context.Context, client *http.Client, cfg SimConfig, dp *DataPool, create, confirm, cancelM *OperationMetrics) {
	for ctx.Err() == nil {
		roll := rand.Float64()
		switch {
		case roll < 0.6:
			doCreate(ctx, client, cfg, dp, create)
		case roll < 0.85:
			doConfirm(ctx, client, cfg, dp, confirm)
		default:
			doCancel(ctx, client, cfg, dp, cancelM)
		}
	}
}

func doCreate(ctx context.Context, client *http.Client, cfg SimConfig, dp *DataPool, m *OperationMetrics) {
	patient := dp.Patients[rand.Intn(len(dp.Patients))]
	slot := dp.Slots[rand.Intn(len(dp.Slots))]

	body, _ := json.Marshal(map[string]string{"slot_id": slot.String()})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.APIBaseURL+"/booking-requests", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Patient-ID", patient.String())

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		m.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var out struct {
			ID         uuid.UUID `json:"id"`
			ProviderID uuid.UUID `json:"provider_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err == nil {
			dp.AddRequest(bookingRequest{ID: out.ID, ProviderID: out.ProviderID, PatientID: patient})
		}
		m.Record(latency, true, false)
	case http.StatusConflict:
		io.Copy(io.Discard, resp.Body)
		m.Record(latency, false, true)
	default:
		io.Copy(io.Discard, resp.Body)
		m.Record(latency, false, false)
	}
}

func doConfirm(ctx context.Context, client *http.Client, cfg SimConfig, dp *DataPool, m *OperationMetrics) {
	target, ok := dp.GetRandomRequest()
	if !ok {
		return
	}
	postTransition(ctx, client, m,
		fmt.Sprintf("%s/booking-requests/%s/confirm", cfg.APIBaseURL, target.ID),
		"X-Provider-ID", target.ProviderID)
}

func doCancel(ctx context.Context, client *http.Client, cfg SimConfig, dp *DataPool, m *OperationMetrics) {
	target, ok := dp.GetRandomRequest()
	if !ok {
		return
	}
	postTransition(ctx, client, m,
		fmt.Sprintf("%s/booking-requests/%s/cancel", cfg.APIBaseURL, target.ID),
		"X-Patient-ID", target.PatientID)
}

func postTransition(ctx context.Context, client *http.Client, m *OperationMetrics, url, header string, actor uuid.UUID) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(header, actor.String())

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		m.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		m.Record(latency, true, false)
	case http.StatusConflict:
		m.Record(latency, false, true)
	default:
		m.Record(latency, false, false)
	}
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, contended bool) (*DataPool, error) {
	dp := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT 2000`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dp.Patients = append(dp.Patients, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	limit := 2000
	if contended {
		limit = 1
	}
	slotRows, err := pool.Query(ctx, `
		SELECT id FROM slots
		WHERE status = 'available' AND slot_start > now()
		ORDER BY slot_start
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer slotRows.Close()
	for slotRows.Next() {
		var id uuid.UUID
		if err := slotRows.Scan(&id); err != nil {
			return nil, err
		}
		dp.Slots = append(dp.Slots, id)
	}
	return dp, slotRows.Err()
}

func verifyInvariants(ctx context.Context, pool *pgxpool.Pool) error {
	var doubleHeld int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM (
			SELECT slot_id
			FROM booking_requests
			WHERE status IN ('pending', 'confirmed')
			GROUP BY slot_id
			HAVING count(*) > 1
		) q
	`).Scan(&doubleHeld)
	if err != nil {
		return err
	}
	if doubleHeld > 0 {
		return fmt.Errorf("%d slots have more than one live booking request", doubleHeld)
	}

	var overlapping int
	err = pool.QueryRow(ctx, `
		SELECT count(*)
		FROM slots a
		JOIN slots b
		  ON a.provider_id = b.provider_id
		 AND a.id < b.id
		 AND a.status NOT IN ('cancelled', 'past')
		 AND b.status NOT IN ('cancelled', 'past')
		 AND a.slot_start < b.slot_end
		 AND a.slot_end > b.slot_start
	`).Scan(&overlapping)
	if err != nil {
		return err
	}
	if overlapping > 0 {
		return fmt.Errorf("%d pairs of live slots overlap", overlapping)
	}
	return nil
}

func report(name string, m *OperationMetrics) {
	avg, p50, p95 := m.Stats()
	log.Printf("%-8s total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s",
		name, atomic.LoadInt64(&m.Total), atomic.LoadInt64(&m.Success),
		atomic.LoadInt64(&m.Conflict), atomic.LoadInt64(&m.Error), avg, p50, p95)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
