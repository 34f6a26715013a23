// guck-query prints events from a local guck store as JSON Lines. It is a
// read-only consumer of the on-disk format; result and output sizes are
// bounded by the mcp section of the resolved configuration.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/valyala/fastjson"

	log "github.com/sirupsen/logrus"

	"github.com/gucklabs/guck-go/guck"
	"github.com/gucklabs/guck-go/guck/config"
	"github.com/gucklabs/guck-go/guck/event"
	"github.com/gucklabs/guck-go/guck/store"
)

type options struct {
	Service  string `long:"service" description:"only events for this service"`
	RunID    string `long:"run-id" description:"only events for this run"`
	Level    string `long:"level" description:"only events at this level"`
	Since    string `long:"since" description:"lookback window, e.g. 15m or 2h (default: mcp.default_lookback_ms)"`
	Limit    int    `long:"limit" description:"maximum number of events (capped by mcp.max_results)"`
	Config   string `long:"config" description:"explicit config file or directory"`
	StoreDir string `long:"store-dir" description:"store directory (default: resolved from configuration)"`
	LogLevel string `long:"log-level" default:"warn" description:"internal log level"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		log.WithError(err).Fatal("Failed to parse command line arguments")
	}
	if err := guck.SetLogLevel(opts.LogLevel); err != nil {
		log.WithError(err).Fatal("Failed to set log level. Valid log levels are:", log.AllLevels)
	}

	if err := run(opts, os.Stdout); err != nil {
		log.WithError(err).Fatal("query failed")
	}
}

func run(opts options, out *os.File) error {
	var loadOpts []config.Option
	if opts.Config != "" {
		loadOpts = append(loadOpts, config.WithConfigPath(opts.Config))
	}
	loaded := config.Load(loadOpts...)
	mcp := loaded.Config.MCP

	storeDir := opts.StoreDir
	if storeDir == "" {
		storeDir = config.ResolveStoreDir(loaded.Config, loaded.RootDir)
	}

	query, err := buildQuery(opts, mcp)
	if err != nil {
		return err
	}

	written := 0
	reader := store.NewReader(storeDir)
	err = reader.Scan(query, func(line []byte) error {
		line = truncateMessage(line, mcp.MaxMessageChars)
		if mcp.MaxOutputChars > 0 && written+len(line)+1 > mcp.MaxOutputChars {
			return errOutputCap
		}
		written += len(line) + 1
		_, err := fmt.Fprintf(out, "%s\n", line)
		return err
	})
	if errors.Is(err, errOutputCap) {
		return nil
	}
	return err
}

var errOutputCap = errors.New("output cap reached")

func buildQuery(opts options, mcp config.MCPConfig) (store.Query, error) {
	q := store.Query{
		Service: opts.Service,
		RunID:   opts.RunID,
		Limit:   opts.Limit,
	}
	if opts.Level != "" {
		q.Levels = []event.Level{event.ParseLevel(opts.Level)}
	}
	if mcp.MaxResults > 0 && (q.Limit <= 0 || q.Limit > mcp.MaxResults) {
		q.Limit = mcp.MaxResults
	}

	lookback := time.Duration(mcp.DefaultLookbackMS) * time.Millisecond
	if opts.Since != "" {
		parsed, err := time.ParseDuration(opts.Since)
		if err != nil {
			return q, fmt.Errorf("invalid --since value %q: %w", opts.Since, err)
		}
		lookback = parsed
	}
	if lookback > 0 {
		q.Since = time.Now().UTC().Add(-lookback)
	}
	return q, nil
}

// truncateMessage shortens the message field of one stored line when the
// configured cap is exceeded. The line is re-marshaled only in that case.
func truncateMessage(line []byte, maxChars int) []byte {
	if maxChars <= 0 {
		return line
	}
	msg := fastjson.GetString(line, "message")
	if len([]rune(msg)) <= maxChars {
		return line
	}
	var decoded map[string]any
	if err := json.Unmarshal(line, &decoded); err != nil {
		return line
	}
	decoded["message"] = string([]rune(msg)[:maxChars])
	reencoded, err := json.Marshal(decoded)
	if err != nil {
		return line
	}
	return bytes.TrimSpace(reencoded)
}
