// Command privsep-bench drives a bootstrapped key daemon with repeated sign
// operations and reports throughput and per-call latency, exercising the
// same Bootstrap/LoadPrivateKeyFile/ProxyKey path a real TLS listener would.
package main

import (
	"crypto"
	"crypto/sha256"
	"flag"
	"log"
	"log/slog"
	"time"

	"github.com/privsep/keyd/pkg/privsep"
	"github.com/privsep/keyd/pkg/privsep/logging"
)

func main() {
	// Bootstrap re-execs this binary as the key daemon; that copy serves
	// here and never returns.
	privsep.RunDaemonIfRequested(privsep.Config{Logger: logging.New(slog.Default())})

	keyPath := flag.String("key", "", "path to a PEM-encoded RSA private key")
	iterations := flag.Int("n", 1000, "number of sign calls to issue")
	flag.Parse()

	if *keyPath == "" {
		log.Fatal("privsep-bench: -key is required")
	}

	cfg := privsep.Config{Logger: logging.New(slog.Default())}
	inst, err := privsep.Bootstrap(cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer inst.Close()

	key, err := inst.LoadPrivateKeyFile(*keyPath)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}

	digest := sha256.Sum256([]byte("privsep-bench payload"))

	start := time.Now()
	for i := 0; i < *iterations; i++ {
		if _, err := key.Sign(nil, digest[:], crypto.SHA256); err != nil {
			log.Fatalf("sign call %d: %v", i, err)
		}
	}
	elapsed := time.Since(start)

	log.Printf("%d sign calls in %s (%.1f calls/sec, %s/call)",
		*iterations, elapsed, float64(*iterations)/elapsed.Seconds(), elapsed/time.Duration(*iterations))
}
