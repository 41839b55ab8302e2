package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CodeByAnshuman/Chat-App/pkg/secure"
)

// chat-gencert writes a self-signed server certificate and key suitable for
// local testing. Clients trust it with -ca <cert>.
func main() {
	hosts := flag.String("hosts", "localhost,127.0.0.1", "comma-separated DNS names and IPs")
	certPath := flag.String("cert", "server.crt", "output certificate path")
	keyPath := flag.String("key", "server.key", "output key path")
	days := flag.Int("days", 365, "validity in days")
	flag.Parse()

	var names []string
	for _, h := range strings.Split(*hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			names = append(names, h)
		}
	}
	certPEM, keyPEM, err := secure.GenerateSelfSigned(names, time.Duration(*days)*24*time.Hour)
	if err != nil {
		fatalf("generate: %v", err)
	}
	if err := writeFile(*certPath, certPEM, 0o644); err != nil {
		fatalf("write cert: %v", err)
	}
	if err := writeFile(*keyPath, keyPEM, 0o600); err != nil {
		fatalf("write key: %v", err)
	}
	fmt.Printf("wrote %s and %s for %s\n", *certPath, *keyPath, strings.Join(names, ", "))
}

func writeFile(path string, data []byte, perm os.FileMode) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, perm)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
