package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kbirk/peerchan/pkg/async"
	"github.com/kbirk/peerchan/pkg/channel"
	"github.com/kbirk/peerchan/pkg/log"
	"github.com/kbirk/peerchan/pkg/middleware"
	"github.com/kbirk/peerchan/pkg/resource"
	"github.com/kbirk/peerchan/pkg/transport"
	"github.com/kbirk/peerchan/pkg/transport/tcp"
	"github.com/kbirk/peerchan/pkg/transport/websocket"
)

const (
	version = "0.0.1"
)

var (
	mode    string
	count   int
	timeout time.Duration
	debug   bool
)

var (
	red     = color.New(color.FgRed, color.Bold).SprintFunc()
	green   = color.New(color.FgGreen, color.Bold).SprintFunc()
	cyan    = color.New(color.FgCyan, color.Bold).SprintFunc()
	magenta = color.New(color.FgMagenta, color.Bold).SprintFunc()
	white   = color.New(color.FgWhite, color.Bold).SprintFunc()
)

type peer struct {
	ch *channel.Channel
	m  *resource.Manager
}

func (p *peer) Dispose() {
	p.ch.Dispose()
}

func newPeer(name string, tr channel.Transport, logger *log.ZapLogger, handler channel.IncomingRequestFunc) (*peer, error) {
	p := &peer{}
	ch, err := channel.New(channel.Config{
		Transport: tr,
		Name:      name,
		Logger:    logger.Named(name),
	}, func(ch *channel.Channel, b *channel.Builder) {
		p.m = resource.NewManager(ch, resource.WithLogger(logger.Named(name+".resources")))
		b.Use(middleware.NewTracing(logger.Named(name+".trace"), ch))
		b.Use(p.m)
		if handler != nil {
			b.UseIncomingRequest(handler)
		}
	})
	if err != nil {
		return nil, err
	}
	p.ch = ch
	return p, nil
}

// serve answers the demo requests: echo returns the payload, answer wraps a
// deferred value and countdown wraps a stream.
func serve(m **resource.Manager) channel.IncomingRequestFunc {
	return func(ctx *channel.IncomingRequestContext, next channel.Next) error {
		req, ok := ctx.Request.Payload.(map[string]any)
		if !ok {
			return next()
		}
		switch req["op"] {
		case "echo":
			return ctx.SetResult(req["text"])
		case "answer":
			d := async.Go(func() (any, error) {
				time.Sleep(100 * time.Millisecond)
				return "42", nil
			})
			id, err := (*m).WrapDeferred(context.Background(), d)
			if err != nil {
				return err
			}
			return ctx.SetResult(id)
		case "countdown":
			values := make([]any, 0, count)
			for i := count; i > 0; i-- {
				values = append(values, i)
			}
			id, err := (*m).WrapStream(context.Background(), async.Of(values...))
			if err != nil {
				return err
			}
			return ctx.SetResult(id)
		}
		return next()
	}
}

func connect(logger *log.ZapLogger) (channel.Transport, channel.Transport, error) {
	switch mode {
	case "pipe":
		a, b := transport.NewPipe(transport.PipeConfig{
			Codec: transport.NewWireCodec(),
		})
		return a, b, nil
	case "tcp":
		server := tcp.NewServerTransport(tcp.ServerTransportConfig{Host: "localhost", NoDelay: true})
		if err := server.Listen(); err != nil {
			return nil, nil, err
		}
		defer server.Close()

		client := tcp.NewClientTransport(tcp.ClientTransportConfig{
			Host:        "localhost",
			Port:        server.Addr().(*net.TCPAddr).Port,
			NoDelay:     true,
			DialTimeout: timeout,
		})

		return dial(server.Accept, client.Connect, server.Close, logger)
	case "websocket":
		server := websocket.NewServerTransport(websocket.ServerTransportConfig{Host: "localhost"})
		if err := server.Listen(); err != nil {
			return nil, nil, err
		}
		defer server.Close()

		client := websocket.NewClientTransport(websocket.ClientTransportConfig{
			Host:             "localhost",
			Port:             server.Addr().(*net.TCPAddr).Port,
			HandshakeTimeout: timeout,
		})
		return dial(server.Accept, client.Connect, server.Close, logger)
	}
	return nil, nil, fmt.Errorf("unknown mode %q", mode)
}

// dial connects both sides concurrently and returns the dialing side first.
// A failed connect closes the server so that accept returns.
func dial(accept, connect func() (transport.Conn, error), abort func() error, logger *log.ZapLogger) (channel.Transport, channel.Transport, error) {
	var accepted, dialed transport.Conn
	var g errgroup.Group
	g.Go(func() error {
		var err error
		accepted, err = accept()
		return err
	})
	g.Go(func() error {
		var err error
		dialed, err = connect()
		if err != nil {
			abort()
		}
		return err
	})
	if err := g.Wait(); err != nil {
		if dialed != nil {
			dialed.Close()
		}
		if accepted != nil {
			accepted.Close()
		}
		return nil, nil, err
	}
	return transport.NewConnTransport(dialed, transport.ConnTransportConfig{Logger: logger}),
		transport.NewConnTransport(accepted, transport.ConnTransportConfig{Logger: logger}),
		nil
}

func toID(v any) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case float64:
		if n >= 0 {
			return uint64(n), nil
		}
	}
	return 0, fmt.Errorf("unexpected resource id %v", v)
}

func run(ctx context.Context, logger *log.ZapLogger) error {
	a, b, err := connect(logger)
	if err != nil {
		return err
	}

	suffix := uuid.NewString()[:8]

	var remoteManager *resource.Manager
	remote, err := newPeer("remote-"+suffix, b, logger, serve(&remoteManager))
	if err != nil {
		return err
	}
	defer remote.Dispose()
	remoteManager = remote.m

	local, err := newPeer("local-"+suffix, a, logger, nil)
	if err != nil {
		return err
	}
	defer local.Dispose()

	res, err := local.ch.SendRequest(ctx, map[string]any{"op": "echo", "text": "hello"})
	if err != nil {
		return err
	}
	os.Stdout.WriteString(fmt.Sprintf("%s %s\n", magenta("[echo]"), white(res)))

	res, err = local.ch.SendRequest(ctx, map[string]any{"op": "answer"})
	if err != nil {
		return err
	}
	id, err := toID(res)
	if err != nil {
		return err
	}
	deferred := local.m.GetListeningDeferred(id)
	if deferred == nil {
		return fmt.Errorf("no deferred listener for %d", id)
	}
	answer, err := deferred.Wait(ctx)
	if err != nil {
		return err
	}
	os.Stdout.WriteString(fmt.Sprintf("%s %s %s\n", magenta("[deferred]"), cyan(id), white(answer)))

	res, err = local.ch.SendRequest(ctx, map[string]any{"op": "countdown"})
	if err != nil {
		return err
	}
	id, err = toID(res)
	if err != nil {
		return err
	}
	stream := local.m.GetListeningStream(id)
	if stream == nil {
		return fmt.Errorf("no stream listener for %d", id)
	}

	done := make(chan error, 1)
	sub := stream.Subscribe(async.Observer{
		Next: func(v any) {
			os.Stdout.WriteString(fmt.Sprintf("%s %s %s\n", magenta("[stream]"), cyan(id), white(v)))
		},
		Error: func(err error) {
			done <- err
		},
		Complete: func() {
			done <- nil
		},
	})
	defer sub.Unsubscribe()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	owned, listening := local.m.Counts()
	os.Stdout.WriteString(fmt.Sprintf("%s owned=%d listening=%d\n", magenta("[resources]"), owned, listening))
	return nil
}

func main() {

	flag.StringVar(&mode, "mode", "pipe", "Transport between the peers: pipe, tcp or websocket")
	flag.IntVar(&count, "count", 3, "Number of values the countdown stream emits")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "Overall timeout")
	flag.BoolVar(&debug, "debug", false, "Log channel traffic")
	showVersion := flag.Bool("version", false, "Print the version and exit")

	flag.Parse()

	if *showVersion {
		os.Stdout.WriteString(version + "\n")
		return
	}

	if count < 0 {
		os.Stderr.WriteString("Invalid `--count` argument, must not be negative\n")
		os.Exit(1)
	}

	var logger *log.ZapLogger
	var err error
	if debug {
		logger, err = log.NewDevelopment()
	} else {
		logger, err = log.NewProduction()
	}
	if err != nil {
		os.Stderr.WriteString(red("ERROR: ") + fmt.Sprintf("Failed to create logger: %v\n", err.Error()))
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		os.Stderr.WriteString(red("ERROR: ") + fmt.Sprintf("%v\n", err.Error()))
		os.Exit(1)
	}

	os.Stdout.WriteString(green("SUCCESS: ") + fmt.Sprintf("Demo over %s finished\n", mode))
}
