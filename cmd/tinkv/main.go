// Command tinkv is a command-line front end for a TinKV store:
// get/set/del/keys/scan/stats/compact against a data directory.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/epokhe/tinkv/core"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  tinkv [-dir <data-dir>] [-v] <command> [args...]")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  get <key>")
	fmt.Fprintln(os.Stderr, "  set <key> <value>")
	fmt.Fprintln(os.Stderr, "  del <key>")
	fmt.Fprintln(os.Stderr, "  keys")
	fmt.Fprintln(os.Stderr, "  scan <prefix>")
	fmt.Fprintln(os.Stderr, "  stats")
	fmt.Fprintln(os.Stderr, "  compact")
	os.Exit(1)
}

func main() {
	dir := flag.String("dir", "./tinkv-data", "path to data directory")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	logger := newLogger(*verbose)
	defer logger.Sync()

	db, err := core.Open(*dir, core.WithLogger(logger))
	if err != nil {
		log(err)
	}
	defer db.Close()

	cmd, rest := args[0], args[1:]
	if err := dispatch(db, cmd, rest); err != nil {
		log(err)
	}
}

func newLogger(verbose bool) *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	return l.Sugar()
}

func log(err error) {
	fmt.Fprintf(os.Stderr, "tinkv: %v\n", err)
	os.Exit(1)
}

func dispatch(db *core.Engine, cmd string, args []string) error {
	switch cmd {
	case "get":
		if len(args) != 1 {
			usage()
		}
		value, ok, err := db.Get([]byte(args[0]))
		if err != nil {
			return err
		}
		if ok {
			fmt.Println(string(value))
		}
		return nil

	case "set":
		if len(args) != 2 {
			usage()
		}
		return db.Set([]byte(args[0]), []byte(args[1]))

	case "del":
		if len(args) != 1 {
			usage()
		}
		return db.Remove([]byte(args[0]))

	case "keys":
		for _, key := range db.Keys() {
			fmt.Println(string(key))
		}
		return nil

	case "scan":
		if len(args) != 1 {
			usage()
		}
		prefix := []byte(args[0])
		return db.ForEach(func(key, value []byte) bool {
			if bytes.HasPrefix(key, prefix) {
				fmt.Printf("%s\t%s\n", key, value)
			}
			return true
		})

	case "stats":
		s := db.Stats()
		fmt.Printf("total_active_entries: %d\n", s.TotalActiveEntries)
		fmt.Printf("total_stale_entries: %d\n", s.TotalStaleEntries)
		fmt.Printf("size_of_stale_entries: %d\n", s.SizeOfStaleEntries)
		fmt.Printf("total_data_files: %d\n", s.TotalDataFiles)
		fmt.Printf("size_of_all_data_files: %d\n", s.SizeOfAllDataFiles)
		return nil

	case "compact":
		return db.Compact()

	default:
		usage()
		return nil
	}
}
