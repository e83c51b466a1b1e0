package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	tdigest "github.com/caio/go-tdigest"
	"github.com/glycerine/taurus"
	"github.com/glycerine/taurus/hash"
	json "github.com/goccy/go-json"
)

var td *tdigest.TDigest

// waitFor pumps ProcessEvents until cond holds.
func waitFor(c *taurus.Connector, timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			return false
		}
		c.ProcessEvents()
		time.Sleep(50 * time.Microsecond)
	}
	return true
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile) // Add Lshortfile for short file names

	taurus.Exit1IfVersionReq()

	var dest = flag.String("s", "127.0.0.1:8443", "server address to send echo requests to.")
	var useQUIC = flag.Bool("q", false, "use QUIC instead of TCP")
	var compressAlgo = flag.String("press", "s2", "select sending compression algorithm; one of: s2, lz4, zstd:01, zstd:03, zstd:07, zstd:11; or empty for none")
	var n = flag.Int("n", 1, "number of messages to send")
	var size = flag.Int("size", 64, "bytes per message")
	var quiet = flag.Bool("quiet", false, "operate quietly")
	var statsJSON = flag.Bool("json", false, "print connector stats as JSON on exit")

	var wait = flag.Duration("wait", 10*time.Second, "time to wait for each echo")

	flag.Parse()

	if *size <= 0 {
		log.Printf("-size must be positive")
		os.Exit(1)
	}

	// compress of 100 still gives 1000x compression,
	// about 8KB for 1e6 samples; good accuracy at tails
	var err error
	td, err = tdigest.New(tdigest.Compression(100))
	panicOn(err)

	cfg := taurus.NewConfig()
	cfg.Name = "cli"
	cfg.CompressAlgo = *compressAlgo

	var server *taurus.Peer
	connected := false
	var gone *taurus.DisconnectReason
	var echoes [][]byte

	handler := &taurus.HandlerFuncs{
		Connected: func(peer *taurus.Peer) {
			connected = true
		},
		Disconnected: func(peer *taurus.Peer, reason taurus.DisconnectReason) {
			gone = &reason
		},
		MessageReceived: func(peer *taurus.Peer, msg []byte) {
			echoes = append(echoes, msg)
		},
	}

	var cli *taurus.Connector
	ctx := context.Background()
	if *useQUIC {
		var b *taurus.QUICBackend
		b, err = taurus.NewQUICBackend(cfg)
		if err == nil {
			cli, err = taurus.NewConnector(cfg, b, handler, nil)
		}
		if err == nil {
			server, err = b.Dial(ctx, *dest)
		}
	} else {
		b := taurus.NewTCPBackend(cfg)
		cli, err = taurus.NewConnector(cfg, b, handler, nil)
		if err == nil {
			server, err = b.Dial(ctx, *dest)
		}
	}
	if err != nil {
		log.Printf("client could not connect: '%v'\n", err)
		os.Exit(1)
	}
	defer cli.Close(taurus.ReasonDisposed)

	if !waitFor(cli, *wait, func() bool { return connected || gone != nil }) || !connected {
		log.Printf("client: server never accepted us")
		os.Exit(1)
	}
	log.Printf("client connected to %v\n", server)

	sent := hash.NewBlake3()
	got := hash.NewBlake3()
	msg := make([]byte, *size)

	if *n > 1 {
		log.Printf("about to send n = %v messages of %v bytes.\n", *n, *size)
	}
	var i int
	slowest := -1.0
	defer func() {
		q999 := td.Quantile(0.999)
		q99 := td.Quantile(0.99)
		q50 := td.Quantile(0.50)
		log.Printf("client did %v round trips. err = '%v' slowest='%v nanosec'; q999='%v nanoseconds'; q99='%v nanoseconds'; q50='%v nanoseconds'\n", i, err, slowest, q999, q99, q50)
	}()
	for i = 0; i < *n; i++ {
		rand.Read(msg)
		sent.Write(msg)
		echoes = echoes[:0]

		t0 := time.Now()
		res := cli.SendMessageToPeerAsync(server, msg)
		if !waitFor(cli, *wait, func() bool { return len(echoes) > 0 || gone != nil }) || gone != nil {
			err = fmt.Errorf("no echo for message %v", i)
			break
		}
		elap := float64(time.Since(t0))
		if res.Err() != nil {
			err = res.Err()
			break
		}
		panicOn(td.Add(elap)) // nanoseconds
		if elap > slowest {
			slowest = elap
		}
		for _, e := range echoes {
			got.Write(e)
		}
	}

	if err == nil {
		if sent.SumString() != got.SumString() {
			err = fmt.Errorf("echo mismatch: sent %v, got back %v", sent.SumString(), got.SumString())
		} else if !*quiet {
			log.Printf("client: all %v echoes match, digest %v", sent.Count(), sent.SumString())
		}
	}
	if *statsJSON {
		by, jerr := json.MarshalIndent(cli.Stats(), "", "  ")
		if jerr == nil {
			fmt.Println(string(by))
		}
	}
}

func panicOn(err error) {
	if err != nil {
		panic(err)
	}
}
