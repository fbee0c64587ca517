// Package dblock serialises integration tests that share one Postgres
// database across test binaries.
package dblock

import (
	"net"
	"os"
	"testing"
	"time"
)

const defaultAddr = "127.0.0.1:45432"

// Acquire blocks until this process owns the database lock and releases it
// when t finishes. The lock is a loopback listener so a crashed test binary
// frees it automatically. LEDGER_TEST_DB_LOCK overrides the address.
func Acquire(t testing.TB) {
	t.Helper()
	addr := os.Getenv("LEDGER_TEST_DB_LOCK")
	if addr == "" {
		addr = defaultAddr
	}
	deadline := time.Now().Add(5 * time.Minute)
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			t.Cleanup(func() { ln.Close() })
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("database lock %s not acquired: %v", addr, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
