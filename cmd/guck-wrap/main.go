// guck-wrap runs a child command with its stdout and stderr captured into
// the guck event store while still forwarding them to the parent's streams.
// The child is marked with GUCK_WRAPPED=1 so an embedded SDK inside it does
// not install a second capture layer.
//
//	guck-wrap [--service name] [--config path] -- command args...
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"

	"github.com/gucklabs/guck-go/guck"
	"github.com/gucklabs/guck-go/guck/config"
	"github.com/gucklabs/guck-go/guck/event"
)

type options struct {
	Service  string `long:"service" description:"service name recorded on captured events"`
	Config   string `long:"config" description:"explicit config file or directory"`
	LogLevel string `long:"log-level" default:"warn" description:"internal log level"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Usage = "[OPTIONS] -- command [args...]"
	args, err := parser.Parse()
	if err != nil {
		if flags.WroteHelp(err) {
			fmt.Println(err)
			return
		}
		log.WithError(err).Fatal("Failed to parse command line arguments")
	}
	if len(args) == 0 {
		log.Fatal("no command given; usage: guck-wrap [OPTIONS] -- command [args...]")
	}
	if err := guck.SetLogLevel(opts.LogLevel); err != nil {
		log.WithError(err).Fatal("Failed to set log level. Valid log levels are:", log.AllLevels)
	}

	os.Exit(run(opts, args))
}

func run(opts options, args []string) int {
	var emitterOpts []guck.EmitterOption
	if opts.Config != "" {
		emitterOpts = append(emitterOpts, guck.WithLoadOptions(config.WithConfigPath(opts.Config)))
	}
	if opts.Service != "" {
		emitterOpts = append(emitterOpts, guck.WithService(opts.Service))
	}
	emitter := guck.NewEmitter(emitterOpts...)

	stdout := guck.NewLineWriter(os.Stdout, event.SourceStdout, event.LevelInfo, emitter)
	stderr := guck.NewLineWriter(os.Stderr, event.SourceStderr, event.LevelError, emitter)
	defer stdout.Flush()
	defer stderr.Flush()

	child := exec.Command(args[0], args[1:]...)
	child.Stdin = os.Stdin
	child.Env = append(os.Environ(), guck.EnvWrapped+"=1")

	outPipe, err := child.StdoutPipe()
	if err != nil {
		log.WithError(err).Error("Failed to open stdout pipe")
		return 1
	}
	errPipe, err := child.StderrPipe()
	if err != nil {
		log.WithError(err).Error("Failed to open stderr pipe")
		return 1
	}

	if err := child.Start(); err != nil {
		log.WithError(err).Errorf("Failed to start %q", args[0])
		return 1
	}

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(stdout, outPipe)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(stderr, errPipe)
		return err
	})
	if err := g.Wait(); err != nil {
		log.WithError(err).Warn("stream pump ended with error")
	}

	if err := child.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		log.WithError(err).Error("child process failed")
		return 1
	}
	return 0
}
