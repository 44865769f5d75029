// Команда loadtest гоняет параллельных покупателей через hubcart.v1.CheckoutService.
// Каждый сценарий создаёт корзину, кладёт товар и проходит оформление до нужного шага.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	grpcsvc "github.com/vladislavdragonenkov/hubcart/internal/service/grpc"
)

const idempotencyHeader = "idempotency-key"

type loadMode string

const (
	modeCart     loadMode = "cart"
	modeCheckout loadMode = "checkout"
	modeCancel   loadMode = "checkout-cancel"
)

// scenarioName — ключ сводной статистики в collector.
const scenarioName = "scenario"

type config struct {
	addr           string
	total          int
	duration       time.Duration
	concurrency    int
	connections    int
	timeout        time.Duration
	mode           loadMode
	hubID          string
	customerID     string
	variantID      string
	quantity       int
	shippingMethod string
	paymentMethod  string
	// allowSoldOut — FailedPrecondition от PopulateCart и complete считается
	// ожидаемым исходом гонки за остаток, а не ошибкой.
	allowSoldOut bool
	outputPath   string
}

// caller — то, что нужно сценарию от gRPC клиента.
type caller interface {
	Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	Scenarios         int64                   `json:"scenarios"`
	Completed         int64                   `json:"completed"`
	SoldOut           int64                   `json:"sold_out"`
	Failed            int64                   `json:"failed"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeSoldOut
	outcomeFailed
)

type methodStats struct {
	calls     int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu        sync.Mutex
	methods   map[string]*methodStats
	completed int64
	soldOut   int64
	failed    int64
}

func newCollector() *collector {
	return &collector{methods: make(map[string]*methodStats)}
}

func (c *collector) record(method string, latency time.Duration, code codes.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}
	stats.calls++
	if code != codes.OK {
		stats.failed++
	}
	stats.codes[code.String()]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) finish(o outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch o {
	case outcomeCompleted:
		c.completed++
	case outcomeSoldOut:
		c.soldOut++
	default:
		c.failed++
	}
}

func (c *collector) buildReport(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Completed:       c.completed,
		SoldOut:         c.soldOut,
		Failed:          c.failed,
		Methods:         make(map[string]methodReport, len(c.methods)),
	}
	r.Scenarios = r.Completed + r.SoldOut + r.Failed
	r.ErrorRate = ratio(r.Failed, r.Scenarios)
	if elapsed > 0 {
		r.RPS = float64(r.Scenarios) / elapsed.Seconds()
	}

	for name, stats := range c.methods {
		if name == scenarioName {
			r.ScenarioLatencyMs = buildLatencySummary(stats.latencies)
			continue
		}
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		r.Methods[name] = methodReport{
			Calls:     stats.calls,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}
	return r
}

func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
	var (
		cfg  config
		mode string
	)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.IntVar(&cfg.total, "total", 200, "scenarios to run; with -duration acts as an upper bound when > 0")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration")
	fs.IntVar(&cfg.concurrency, "concurrency", 20, "concurrent buyers")
	fs.IntVar(&cfg.connections, "connections", 4, "gRPC client connections")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&mode, "mode", string(modeCheckout), "cart | checkout | checkout-cancel")
	fs.StringVar(&cfg.hubID, "hub", "hub-1", "distributor (hub) id")
	fs.StringVar(&cfg.customerID, "customer", "cust-1", "customer id with a bill address")
	fs.StringVar(&cfg.variantID, "variant", "var-apples", "variant to buy")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity per cart")
	fs.StringVar(&cfg.shippingMethod, "shipping-method", "ship-pickup", "shipping method id")
	fs.StringVar(&cfg.paymentMethod, "payment-method", "pay-card", "payment method id")
	fs.BoolVar(&cfg.allowSoldOut, "allow-sold-out", true, "treat stock conflicts as expected outcome")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report file")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	switch loadMode(strings.TrimSpace(mode)) {
	case modeCart, modeCheckout, modeCancel:
		cfg.mode = loadMode(strings.TrimSpace(mode))
	default:
		return cfg, fmt.Errorf("unsupported mode: %s", mode)
	}

	switch {
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return cfg, errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case strings.TrimSpace(cfg.hubID) == "", strings.TrimSpace(cfg.variantID) == "":
		return cfg, errors.New("hub and variant are required")
	}
	return cfg, nil
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	clients := make([]caller, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		conn, err := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", err)
			os.Exit(1)
		}
		defer conn.Close()
		clients = append(clients, grpcsvc.NewClient(conn))
	}

	result := runLoad(context.Background(), cfg, clients)
	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.Failed > 0 {
		os.Exit(1)
	}
}

func runLoad(ctx context.Context, cfg config, clients []caller) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func(cli caller) {
			defer wg.Done()
			for index := range jobs {
				col.finish(runScenario(ctx, cli, cfg, fmt.Sprintf("%s-%d", runID, index), col))
			}
		}(clients[w%len(clients)])
	}

	dispatchJobs(ctx, jobs, cfg)
	wg.Wait()
	return col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	for i := 0; cfg.total <= 0 || i < cfg.total; i++ {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}

// runScenario — один покупатель. Ключи идемпотентности уникальны на сценарий и шаг.
func runScenario(ctx context.Context, cli caller, cfg config, scenarioID string, col *collector) (result outcome) {
	start := time.Now()
	defer func() {
		code := codes.OK
		if result == outcomeFailed {
			code = codes.Unknown
		}
		col.record(scenarioName, time.Since(start), code)
	}()

	classify := func(err error) outcome {
		if cfg.allowSoldOut && status.Code(err) == codes.FailedPrecondition {
			return outcomeSoldOut
		}
		return outcomeFailed
	}

	created, err := call(ctx, cli, cfg, col, "CreateOrder", "create-"+scenarioID, map[string]interface{}{
		"customer_id": cfg.customerID,
		"hub_id":      cfg.hubID,
	})
	if err != nil {
		return outcomeFailed
	}
	orderID := orderField(created, "id")
	if orderID == "" {
		return outcomeFailed
	}

	_, err = call(ctx, cli, cfg, col, "PopulateCart", "", map[string]interface{}{
		"order_id": orderID,
		"lines":    []interface{}{map[string]interface{}{"variant_id": cfg.variantID, "quantity": cfg.quantity}},
	})
	if err != nil {
		return classify(err)
	}
	if cfg.mode == modeCart {
		return outcomeCompleted
	}

	steps := []map[string]interface{}{
		{"target": "address"},
		{"target": "delivery"},
		{"target": "payment", "shipping_method_id": cfg.shippingMethod},
		{"target": "confirmation", "payment_method_id": cfg.paymentMethod},
	}
	if cfg.mode == modeCheckout {
		steps = append(steps, map[string]interface{}{"target": "complete"})
	}
	for _, step := range steps {
		step["order_id"] = orderID
		target := step["target"].(string)
		if _, err := call(ctx, cli, cfg, col, "Checkout", "step-"+target+"-"+scenarioID, step); err != nil {
			return classify(err)
		}
	}

	if cfg.mode == modeCancel {
		resp, err := call(ctx, cli, cfg, col, "CancelOrder", "cancel-"+scenarioID, map[string]interface{}{
			"order_id": orderID,
			"reason":   "load-test",
		})
		if err != nil || orderField(resp, "state") != "canceled" {
			return outcomeFailed
		}
	}
	return outcomeCompleted
}

func call(ctx context.Context, cli caller, cfg config, col *collector, method, key string, fields map[string]interface{}) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	if key != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, idempotencyHeader, "lt-"+key)
	}

	start := time.Now()
	resp, err := cli.Call(ctx, method, req)
	col.record(method, time.Since(start), status.Code(err))
	return resp, err
}

func orderField(resp *structpb.Struct, name string) string {
	if resp == nil {
		return ""
	}
	order := resp.GetFields()["order"].GetStructValue()
	if order == nil {
		return ""
	}
	return order.GetFields()[name].GetStringValue()
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь задаётся явно флагом -output.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, r report, cfg config) {
	_, _ = fmt.Fprintf(w, "hubcart load test: mode=%s variant=%s hub=%s\n", cfg.mode, cfg.variantID, cfg.hubID)
	_, _ = fmt.Fprintf(w, "scenarios=%d completed=%d sold_out=%d failed=%d error_rate=%.4f\n",
		r.Scenarios, r.Completed, r.SoldOut, r.Failed, r.ErrorRate)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f scenario p50=%.2fms p95=%.2fms p99=%.2fms\n",
		r.DurationSeconds, r.RPS, r.ScenarioLatencyMs.P50, r.ScenarioLatencyMs.P95, r.ScenarioLatencyMs.P99)

	names := make([]string, 0, len(r.Methods))
	for name := range r.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := r.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d failed=%d p95=%.2fms codes=%v\n", name, m.Calls, m.Failed, m.LatencyMs.P95, m.Codes)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile — линейная интерполяция между соседними рангами.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p / 100.0) * float64(len(sorted)-1)
	lower, upper := int(math.Floor(rank)), int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	return sorted[lower] + (sorted[upper]-sorted[lower])*(rank-float64(lower))
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
