package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go-socks5-gateway/internal/accesslog"
	"go-socks5-gateway/internal/config"
	"go-socks5-gateway/internal/metrics"
	"go-socks5-gateway/internal/monitor"
	"go-socks5-gateway/internal/resolver"
	"go-socks5-gateway/internal/selector"
	"go-socks5-gateway/internal/session"
	"go-socks5-gateway/internal/userstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	testConfig := flag.Bool("t", false, "test configuration and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if *testConfig {
			fmt.Fprintf(os.Stderr, "configuration test FAILED: %v\n", err)
			os.Exit(1)
		}
		log.Fatalf("[main] %v", err)
	}

	if *testConfig {
		fmt.Printf("configuration file %s test OK\n", *configPath)
		fmt.Printf("  socks5:  %s:%d\n", cfg.SOCKS5Addr, cfg.SOCKS5Port)
		fmt.Printf("  monitor: %s:%d\n", cfg.MonitorAddr, cfg.MonitorPort)
		fmt.Printf("  users:   %d\n", len(cfg.Users))
		os.Exit(0)
	}

	log.Printf("[main] GOMAXPROCS: %d", runtime.GOMAXPROCS(0))

	signal.Ignore(syscall.SIGPIPE)

	var registerer prometheus.Registerer
	if cfg.MetricsPort != 0 {
		registry := prometheus.NewRegistry()
		registerer = registry
		go serveMetrics(cfg.MetricsAddr, cfg.MetricsPort, registry)
	}

	m := metrics.New(registerer)

	users := userstore.New(userstore.DefaultCapacity)
	seed := make([]userstore.User, len(cfg.Users))
	for i, u := range cfg.Users {
		seed[i] = userstore.User{Name: u.Name, Password: u.Password}
	}
	if err := users.Seed(seed); err != nil {
		log.Fatalf("[main] %v", err)
	}

	sel, err := selector.New()
	if err != nil {
		log.Fatalf("[main] selector: %v", err)
	}
	defer sel.Close()

	resolverPool := resolver.NewPool(cfg.ResolverWorkers, sel.Wake)
	defer resolverPool.Shutdown()

	access := &accesslog.Writer{Logger: log.New(os.Stdout, "[access] ", log.LstdFlags)}

	mgr := session.NewManager(cfg, sel, resolverPool, m, users, access)
	if err := mgr.Listen(); err != nil {
		log.Fatalf("[main] %v", err)
	}

	monSrv := monitor.NewServer(sel, m, users)
	if err := monSrv.Listen(cfg.MonitorAddr, cfg.MonitorPort); err != nil {
		log.Fatalf("[main] monitor: %v", err)
	}

	log.Printf("[main] socks5 listening on %s:%d", cfg.SOCKS5Addr, cfg.SOCKS5Port)
	log.Printf("[main] monitor listening on %s:%d", cfg.MonitorAddr, cfg.MonitorPort)
	log.Printf("[main] %d users loaded, resolver pool size %d", users.Len(), cfg.ResolverWorkers)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go runLoop(sel, resolverPool, cfg.IdleTimeoutSeconds, done, sigCh)
	<-done

	log.Println("[main] shutting down")
	mgr.Shutdown()
	monSrv.Close()
}

// runLoop is the single-threaded event loop: every Wait() round trip
// services whatever fds are ready, then drains any resolver results
// that completed on a worker goroutine. It returns (closing done) once
// a shutdown signal arrives or Wait fails.
func runLoop(sel *selector.Selector, res *resolver.Pool, idleTimeoutSeconds int, done chan<- struct{}, sigCh <-chan os.Signal) {
	timeoutMillis := idleTimeoutSeconds * 1000
	if timeoutMillis <= 0 {
		timeoutMillis = 5000
	}

	for {
		select {
		case sig := <-sigCh:
			log.Printf("[main] received signal %s", sig)
			close(done)
			return
		default:
		}

		if _, err := sel.Wait(timeoutMillis); err != nil {
			log.Printf("[main] selector wait: %v", err)
			close(done)
			return
		}
		res.DrainCompleted()
	}
}

func serveMetrics(addr string, port int, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	listenAddr := fmt.Sprintf("%s:%d", addr, port)
	log.Printf("[main] prometheus /metrics on %s", listenAddr)
	if err := http.ListenAndServe(listenAddr, mux); err != nil {
		log.Printf("[main] metrics server: %v", err)
	}
}
