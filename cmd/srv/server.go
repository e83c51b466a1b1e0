package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	_ "net/http/pprof" // for web based profiling while running

	"github.com/glycerine/ipaddr"
	"github.com/glycerine/taurus"
	"github.com/glycerine/taurus/hash"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var echoed int64

func main() {

	taurus.Exit1IfVersionReq()

	fmt.Printf("%v", taurus.GetCodeVersion("srv"))

	log.SetFlags(log.LstdFlags | log.Lshortfile) // Add Lshortfile for short file names

	var addr = flag.String("s", "0.0.0.0:8443", "server address to bind and listen on")
	var useQUIC = flag.Bool("q", false, "use QUIC instead of TCP")
	var compressAlgo = flag.String("press", "s2", "select sending compression algorithm; one of: s2, lz4, zstd:01, zstd:03, zstd:07, zstd:11; or empty for none")
	var localOnly = flag.Bool("local", false, "deny any peer not connecting from a loopback address")
	var maxConn = flag.Int("maxconn", 0, "limit simultaneous TCP connections; 0 means no limit")
	var profile = flag.String("prof", "", "host:port to start web profiler and /metrics on. host can be empty for all localhost interfaces")
	var seconds = flag.Int("sec", 0, "run for this many seconds")
	var max = flag.Int("max", 0, "set runtime.GOMAXPROCS to this value.")
	var verboseDigest = flag.Bool("v", false, "log a running blake3 digest of everything echoed, per peer, at disconnect")
	var statsJSON = flag.Bool("json", false, "print connector stats as JSON on exit")

	flag.Parse()

	if *max > 0 {
		runtime.GOMAXPROCS(*max)
	}

	cfg := taurus.NewConfig()
	cfg.Name = "srv"
	cfg.CompressAlgo = *compressAlgo
	cfg.MaxConnections = *maxConn
	reg := prometheus.NewRegistry()
	cfg.Metrics = reg

	if *profile != "" {
		fmt.Printf("webprofile starting at '%v'...\n", *profile)
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			http.ListenAndServe(*profile, nil)
		}()
	}

	digests := make(map[*taurus.Peer]*hash.Blake3)

	handler := &taurus.HandlerFuncs{
		Connected: func(peer *taurus.Peer) {
			log.Printf("srv: peer connected: %v", peer)
			if *verboseDigest {
				digests[peer] = hash.NewBlake3()
			}
		},
		ConnectionDenied: func(peer *taurus.Peer, reason taurus.DisconnectReason) {
			log.Printf("srv: peer denied (%v): %v", reason, peer)
		},
		Disconnected: func(peer *taurus.Peer, reason taurus.DisconnectReason) {
			if d, ok := digests[peer]; ok {
				log.Printf("srv: peer %v echoed %v messages, digest %v", peer, d.Count(), d.SumString())
				delete(digests, peer)
			}
			log.Printf("srv: peer disconnected (%v): %v", reason, peer)
		},
		MessageReceived: func(peer *taurus.Peer, msg []byte) {
			if d, ok := digests[peer]; ok {
				d.Write(msg)
			}
			peer.Connector().SendMessageToPeerAsync(peer, msg)
			atomic.AddInt64(&echoed, 1)
		},
	}

	var decide taurus.Decider
	if *localOnly {
		decide = func(peer *taurus.Peer) *taurus.PendingDecision {
			_, hostport, _ := strings.Cut(peer.Endpoint, "://")
			isLocal, _ := taurus.IsLocalhost(hostport)
			return taurus.Resolved(isLocal)
		}
	}

	var srv *taurus.Connector
	var err error
	if *useQUIC {
		var b *taurus.QUICBackend
		b, err = taurus.NewQUICBackend(cfg)
		if err == nil {
			srv, err = taurus.NewConnector(cfg, b, handler, decide)
		}
		if err == nil {
			_, err = b.Listen(*addr)
		}
	} else {
		b := taurus.NewTCPBackend(cfg)
		srv, err = taurus.NewConnector(cfg, b, handler, decide)
		if err == nil {
			_, err = b.Listen(*addr)
		}
	}
	if err != nil {
		log.Printf("srv could not start: '%v'\n", err)
		os.Exit(1)
	}

	if strings.HasPrefix(*addr, "0.0.0.0:") {
		log.Printf("srv listening on %v (external IP %v)", *addr, ipaddr.GetExternalIP())
	} else {
		log.Printf("srv listening on %v", *addr)
	}

	t0 := time.Now()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	var deadline <-chan time.Time
	if *seconds > 0 {
		deadline = time.After(time.Second * time.Duration(*seconds))
	}

	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-tick.C:
			srv.ProcessEvents()
		case <-stop:
			break loop
		case <-deadline:
			break loop
		}
	}

	n := atomic.LoadInt64(&echoed)
	elap := time.Since(t0)
	if n > 0 {
		fmt.Printf("\n\nserver elapsed: %v for messages echoed: %v  => %v msg/second.\n", elap, n, float64(n)/elap.Seconds())
	}
	if err := srv.Close(taurus.ReasonDisposed); err != nil {
		log.Printf("srv close: %v", err)
	}
	if *statsJSON {
		by, err := json.MarshalIndent(srv.Stats(), "", "  ")
		if err == nil {
			fmt.Println(string(by))
		}
	}
}
