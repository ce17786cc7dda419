// Command tinkv-server exposes a TinKV store over a Redis-compatible
// wire protocol so it can be driven with redis-cli or redis-benchmark.
//
// Protocol reference: https://redis.io/docs/reference/protocol-spec/
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"path"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/epokhe/tinkv/core"
	"github.com/epokhe/tinkv/internal/tinkverr"
)

func main() {
	dir := flag.String("dir", "./tinkv-data", "data directory")
	addr := flag.String("addr", "127.0.0.1:7379", "listen address")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	logger := newLogger(*verbose)
	defer logger.Sync()

	db, err := core.Open(*dir, core.WithLogger(logger))
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	logger.Infow("tinkv-server listening", "addr", *addr, "dir", *dir)

	srv := &server{db: db, logger: logger}
	for {
		conn, err := listener.Accept()
		if err != nil {
			logger.Warnw("accept error", "err", err)
			continue
		}
		go srv.handleConnection(conn)
	}
}

func newLogger(verbose bool) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	return l.Sugar()
}

// server serializes every command against the engine: the engine is
// single-writer, but a RESP server fans connections out across
// goroutines, so access is guarded by one mutex.
type server struct {
	db     *core.Engine
	logger *zap.SugaredLogger
	mu     sync.Mutex
}

func (s *server) handleConnection(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	defer writer.Flush()

	for {
		args, err := parseRESP(reader)
		if err != nil {
			if err == io.EOF {
				return
			}
			writer.WriteString(writeError("ERR Protocol error: " + err.Error()))
			writer.Flush()
			return
		}

		resp := s.execute(args)
		if _, err := writer.WriteString(resp); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
}

// parseRESP reads one RESP array-of-bulk-strings command, the only
// request shape clients send.
func parseRESP(reader *bufio.Reader) ([]string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if len(line) == 0 || line[0] != '*' {
		return nil, errors.New("expected array")
	}

	count, err := strconv.Atoi(line[1:])
	if err != nil || count < 0 {
		return nil, fmt.Errorf("invalid array length")
	}

	args := make([]string, count)
	for i := 0; i < count; i++ {
		hdr, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		hdr = strings.TrimRight(hdr, "\r\n")
		if len(hdr) == 0 || hdr[0] != '$' {
			return nil, errors.New("expected bulk string")
		}
		n, err := strconv.Atoi(hdr[1:])
		if err != nil {
			return nil, fmt.Errorf("invalid bulk length")
		}
		if n < 0 {
			args[i] = ""
			continue
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(reader, buf); err != nil {
			return nil, err
		}
		args[i] = string(buf[:n])
	}
	return args, nil
}

func (s *server) execute(args []string) string {
	if len(args) == 0 {
		return writeError("ERR empty command")
	}
	cmd := strings.ToUpper(args[0])

	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd {
	case "PING":
		if len(args) > 2 {
			return writeError("ERR wrong number of arguments for 'ping' command")
		}
		if len(args) == 2 {
			return writeBulkString(args[1])
		}
		return writeSimpleString("PONG")

	case "GET":
		if len(args) != 2 {
			return writeError("ERR wrong number of arguments for 'get' command")
		}
		value, ok, err := s.db.Get([]byte(args[1]))
		if err != nil {
			return writeError(errString(err))
		}
		if !ok {
			return writeNull()
		}
		return writeBulkString(string(value))

	case "MGET":
		if len(args) < 2 {
			return writeError("ERR wrong number of arguments for 'mget' command")
		}
		var b strings.Builder
		fmt.Fprintf(&b, "*%d\r\n", len(args)-1)
		for _, key := range args[1:] {
			value, ok, err := s.db.Get([]byte(key))
			if err != nil || !ok {
				b.WriteString(writeNull())
				continue
			}
			b.WriteString(writeBulkString(string(value)))
		}
		return b.String()

	case "SET":
		if len(args) != 3 {
			return writeError("ERR wrong number of arguments for 'set' command")
		}
		if err := s.db.Set([]byte(args[1]), []byte(args[2])); err != nil {
			return writeError(errString(err))
		}
		return writeSimpleString("OK")

	case "MSET":
		if len(args) < 3 || len(args)%2 != 1 {
			return writeError("ERR wrong number of arguments for 'mset' command")
		}
		for i := 1; i < len(args); i += 2 {
			if err := s.db.Set([]byte(args[i]), []byte(args[i+1])); err != nil {
				return writeError(errString(err))
			}
		}
		return writeSimpleString("OK")

	case "DEL":
		if len(args) < 2 {
			return writeError("ERR wrong number of arguments for 'del' command")
		}
		var n int
		for _, key := range args[1:] {
			if err := s.db.Remove([]byte(key)); err == nil {
				n++
			} else if !errors.Is(err, tinkverr.ErrKeyNotFound) {
				return writeError(errString(err))
			}
		}
		return writeInteger(n)

	case "EXISTS":
		if len(args) < 2 {
			return writeError("ERR wrong number of arguments for 'exists' command")
		}
		var n int
		for _, key := range args[1:] {
			if _, ok, err := s.db.Get([]byte(key)); err == nil && ok {
				n++
			}
		}
		return writeInteger(n)

	case "KEYS":
		if len(args) != 2 {
			return writeError("ERR wrong number of arguments for 'keys' command")
		}
		pattern := args[1]
		var matched []string
		for _, key := range s.db.Keys() {
			if ok, _ := path.Match(pattern, string(key)); ok {
				matched = append(matched, string(key))
			}
		}
		var b strings.Builder
		fmt.Fprintf(&b, "*%d\r\n", len(matched))
		for _, k := range matched {
			b.WriteString(writeBulkString(k))
		}
		return b.String()

	case "DBSIZE":
		return writeInteger(s.db.Len())

	case "INFO":
		stats := s.db.Stats()
		info := fmt.Sprintf(
			"# Keyspace\r\ntinkv_active_entries:%d\r\ntinkv_stale_entries:%d\r\ntinkv_stale_bytes:%d\r\ntinkv_data_files:%d\r\ntinkv_data_bytes:%d\r\n",
			stats.TotalActiveEntries, stats.TotalStaleEntries, stats.SizeOfStaleEntries,
			stats.TotalDataFiles, stats.SizeOfAllDataFiles,
		)
		return writeBulkString(info)

	case "COMMAND":
		return "*0\r\n"

	case "FLUSHDB", "FLUSHALL":
		for _, key := range s.db.Keys() {
			if err := s.db.Remove(key); err != nil {
				return writeError(errString(err))
			}
		}
		return writeSimpleString("OK")

	case "COMPACT":
		if err := s.db.Compact(); err != nil {
			return writeError(errString(err))
		}
		return writeSimpleString("OK")

	default:
		return writeError(fmt.Sprintf("ERR unknown command '%s'", args[0]))
	}
}

func errString(err error) string {
	return "ERR " + err.Error()
}

func writeSimpleString(s string) string { return fmt.Sprintf("+%s\r\n", s) }
func writeBulkString(s string) string   { return fmt.Sprintf("$%d\r\n%s\r\n", len(s), s) }
func writeInteger(i int) string         { return fmt.Sprintf(":%d\r\n", i) }
func writeNull() string                 { return "$-1\r\n" }
func writeError(msg string) string      { return fmt.Sprintf("-%s\r\n", msg) }
