// Command multifetch fetches many URLs in parallel and prints one line per
// request: "seq<TAB>status<TAB>bytes<TAB>url" or "seq<TAB>ERR<TAB>message".
//
// URLs come from the arguments or, when none are given, from stdin (one per
// line, blank lines and lines starting with # are ignored).
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/go-multihttp/pkg/logging"
	"github.com/Sternrassler/go-multihttp/pkg/metrics"
	"github.com/Sternrassler/go-multihttp/pkg/parallel"
	"github.com/rs/zerolog/log"
)

const (
	exitOK    = 0
	exitBatch = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// headerFlags collects repeated -header "Name: value" flags.
type headerFlags http.Header

func (h headerFlags) String() string {
	return fmt.Sprint(http.Header(h))
}

func (h headerFlags) Set(value string) error {
	name, v, ok := strings.Cut(value, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("header %q: want \"Name: value\"", value)
	}
	http.Header(h).Add(name, strings.TrimSpace(v))
	return nil
}

// options is the parsed command line.
type options struct {
	method      string
	timeout     time.Duration
	headers     http.Header
	logLevel    string
	pretty      bool
	metricsAddr string
	failOnError bool
	urls        []string
}

func parseFlags(args []string, stdin io.Reader, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("multifetch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{headers: make(http.Header)}
	defaultTimeout, err := time.ParseDuration(getEnv("MULTIFETCH_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("MULTIFETCH_TIMEOUT: %w", err)
	}

	fs.StringVar(&opts.method, "method", http.MethodGet, "request method")
	fs.DurationVar(&opts.timeout, "timeout", defaultTimeout, "per-request timeout (0 disables)")
	fs.Var(headerFlags(opts.headers), "header", "request header \"Name: value\" (repeatable)")
	fs.StringVar(&opts.logLevel, "log-level", getEnv("LOG_LEVEL", "warn"), "log level (trace, debug, info, warn, error)")
	fs.BoolVar(&opts.pretty, "pretty", false, "human-readable log output")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", getEnv("METRICS_ADDR", ""), "serve /metrics and /health on this address")
	fs.BoolVar(&opts.failOnError, "fail", false, "exit non-zero when any request fails")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts.urls = fs.Args()
	if len(opts.urls) == 0 && stdin != nil {
		opts.urls, err = readURLs(stdin)
		if err != nil {
			return nil, fmt.Errorf("read urls: %w", err)
		}
	}
	if len(opts.urls) == 0 {
		return nil, errors.New("no URLs given")
	}
	return opts, nil
}

func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

// result is the printable outcome of one request.
type result struct {
	seq    int
	status int
	bytes  int64
	url    string
	err    error
}

func (r result) String() string {
	if r.err != nil {
		return fmt.Sprintf("%d\tERR\t%v", r.seq, r.err)
	}
	return fmt.Sprintf("%d\t%d\t%d\t%s", r.seq, r.status, r.bytes, r.url)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stdin, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "multifetch: %v\n", err)
		return exitUsage
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(opts.logLevel),
		Pretty: opts.pretty,
		Output: stderr,
	})

	if opts.metricsAddr != "" {
		srv := startMetricsServer(opts.metricsAddr)
		defer stopMetricsServer(srv, 5*time.Second)
	}

	cfg := parallel.DefaultConfig()
	cfg.Options.Timeout = opts.timeout
	cfg.Options.DefaultHeaders = opts.headers

	exec, err := parallel.New(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "multifetch: %v\n", err)
		return exitUsage
	}

	results := make([]result, 0, len(opts.urls))
	onSuccess := func(resp *http.Response, seq int) error {
		results = append(results, result{
			seq:    seq,
			status: resp.StatusCode,
			bytes:  resp.ContentLength,
			url:    opts.urls[seq],
		})
		return nil
	}
	onError := func(err error, seq int) error {
		results = append(results, result{seq: seq, url: opts.urls[seq], err: err})
		if opts.failOnError {
			return err
		}
		return nil
	}

	for _, u := range opts.urls {
		req, err := http.NewRequestWithContext(ctx, opts.method, u, nil)
		if err != nil {
			fmt.Fprintf(stderr, "multifetch: %v\n", err)
			return exitUsage
		}
		exec.AddRequest(req, onSuccess, onError)
	}

	log.Info().Int("urls", len(opts.urls)).Str("method", opts.method).Msg("Fetching")
	execErr := exec.Execute()

	sort.Slice(results, func(i, j int) bool { return results[i].seq < results[j].seq })
	for _, r := range results {
		fmt.Fprintln(stdout, r)
	}

	if execErr != nil {
		fmt.Fprintf(stderr, "multifetch: %v\n", execErr)
		return exitBatch
	}
	return exitOK
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", healthHandler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}

// stopMetricsServer shuts srv down, giving open connections timeout to finish.
func stopMetricsServer(srv *http.Server, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Str("addr", srv.Addr).Msg("Metrics server shutdown failed")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
