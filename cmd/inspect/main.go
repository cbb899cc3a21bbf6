// inspect dumps raw store rows by key prefix, for debugging a database
// offline. Run against a copy; pebble takes an exclusive lock.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"personaproxy/pkg/logger"
	"personaproxy/pkg/store"
)

func main() {
	var (
		path   string
		prefix string
		keys   bool
	)
	flag.StringVar(&path, "path", "", "pebble store directory")
	flag.StringVar(&prefix, "prefix", "", "key prefix to dump (empty for everything)")
	flag.BoolVar(&keys, "keys", false, "print keys only")
	flag.Parse()
	if path == "" {
		fmt.Fprintln(os.Stderr, "--path required")
		os.Exit(2)
	}

	logger.InitWithLevel("error")
	st, err := store.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", path, err)
		os.Exit(1)
	}
	defer st.Close()

	var n int
	err = st.ScanPrefix(prefix, func(k string, v []byte) bool {
		if keys {
			fmt.Println(k)
		} else {
			fmt.Printf("%s\t%s\n", k, v)
		}
		n++
		return true
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%d rows, %s on disk\n", n, humanize.Bytes(st.DiskUsageBytes()))
}
