package main

/*
* CLI to serve and call duplex-rpc endpoints
 */

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/op/go-logging"
	"github.com/urfave/cli"

	"duplex-rpc/client"
	"duplex-rpc/codec"
	"duplex-rpc/endpoint"
	"duplex-rpc/logger"
	"duplex-rpc/middleware"
	"duplex-rpc/registry"
	"duplex-rpc/server"
	"duplex-rpc/transport"
)

var log *logging.Logger

var wireFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "codec",
		Value: "json",
		Usage: "Wire encoding: json or binary",
	},
	cli.StringFlag{
		Name:  "delimiter",
		Usage: "Frame delimiter for json (default NUL)",
	},
	cli.BoolFlag{
		Name:  "compress",
		Usage: "Compress binary frames with zstd",
	},
	cli.StringFlag{
		Name:  "etcd",
		Usage: "Comma separated etcd endpoints; empty disables the registry",
	},
	cli.StringFlag{
		Name:  "service, s",
		Value: server.DefaultServiceName,
		Usage: "Service name in the registry",
	},
}

func wireFromFlags(c *cli.Context) (transport.Wire, error) {
	switch c.String("codec") {
	case "json", "":
		return transport.Wire{Codec: codec.CodecTypeJSON, Delimiter: c.String("delimiter")}, nil
	case "binary":
		return transport.Wire{Codec: codec.CodecTypeBinary, Compress: c.Bool("compress")}, nil
	}
	return transport.Wire{}, fmt.Errorf("unknown codec %q", c.String("codec"))
}

func registryFromFlags(c *cli.Context) (*registry.EtcdRegistry, error) {
	if c.String("etcd") == "" {
		return nil, nil
	}
	return registry.NewEtcdRegistry(strings.Split(c.String("etcd"), ","))
}

func serveCommand(c *cli.Context) (err error) {
	w, err := wireFromFlags(c)
	if err != nil {
		return err
	}
	opts := []server.Option{
		server.WithServiceName(c.String("service")),
		server.WithWeight(c.Int("weight")),
	}
	if w.Codec == codec.CodecTypeBinary {
		opts = append(opts, server.WithBinary(w.Compress))
	} else {
		opts = append(opts, server.WithJSON(w.Delimiter))
	}
	if d := c.Duration("heartbeat"); d > 0 {
		opts = append(opts, server.WithHeartbeat(d))
	}

	svr := server.NewServer(func(ep *endpoint.Endpoint) (any, error) {
		return &Demo{started: time.Now()}, nil
	}, opts...)
	svr.Use(middleware.RecoverMiddleware())
	svr.Use(middleware.LoggingMiddleware())
	if rps := c.Float64("rate"); rps > 0 {
		svr.Use(middleware.RateLimitMiddleware(rps, int(rps)+1))
	}
	if n := c.Int("retries"); n > 0 {
		svr.Use(middleware.RetryMiddleware(n, 50*time.Millisecond))
	}

	etcd, err := registryFromFlags(c)
	if err != nil {
		return err
	}
	var reg registry.Registry
	if etcd != nil {
		defer etcd.Close()
		reg = etcd
	}

	served := make(chan error, 1)
	go func() { served <- svr.Serve("tcp", c.String("listen"), c.String("advertise"), reg) }()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err = <-served:
		return err
	case sig := <-sigs:
		log.Noticef("received %s, shutting down", sig)
	}
	if err := svr.Shutdown(c.Duration("grace")); err != nil {
		log.Warning(err)
	}
	return <-served
}

func callCommand(c *cli.Context) (err error) {
	if c.NArg() < 1 {
		return cli.NewExitError("usage: duplexctl call [flags] <method> [args...]", 2)
	}
	w, err := wireFromFlags(c)
	if err != nil {
		return err
	}
	method := c.Args().First()
	args, err := parseArgs(c.Args().Tail())
	if err != nil {
		return err
	}
	var kwargs map[string]any
	if raw := c.String("kwargs"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &kwargs); err != nil {
			return fmt.Errorf("bad --kwargs: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
	defer cancel()

	// The server may call back while serving; answer who we are.
	whoami := endpoint.WithHandler("name", func([]any, map[string]any) (any, error) {
		host, _ := os.Hostname()
		return "duplexctl@" + host, nil
	})

	var result any
	if addr := c.String("addr"); addr != "" {
		t, err := transport.Dial(ctx, "tcp", addr, w)
		if err != nil {
			return err
		}
		ep := endpoint.New(t, whoami)
		defer ep.Close()
		result, err = ep.SyncCallContext(ctx, method, args, kwargs)
		if err != nil {
			return err
		}
	} else {
		etcd, err := registryFromFlags(c)
		if err != nil {
			return err
		}
		if etcd == nil {
			return cli.NewExitError("either --addr or --etcd is required", 2)
		}
		defer etcd.Close()
		opts := []client.Option{client.WithEndpointOptions(whoami)}
		if w.Codec == codec.CodecTypeBinary {
			opts = append(opts, client.WithBinary(w.Compress))
		} else {
			opts = append(opts, client.WithJSON(w.Delimiter))
		}
		cl := client.NewClient(etcd, nil, opts...)
		defer cl.Close()
		result, err = cl.CallContext(ctx, c.String("service"), method, args, kwargs)
		if err != nil {
			return err
		}
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// parseArgs reads every argument as JSON, falling back to the raw string.
func parseArgs(raw []string) ([]any, error) {
	args := make([]any, 0, len(raw))
	for _, s := range raw {
		dec := json.NewDecoder(bytes.NewReader([]byte(s)))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil || dec.More() {
			args = append(args, s)
			continue
		}
		args = append(args, v)
	}
	return args, nil
}

func main() {
	log = logger.Setup("", logging.WARNING)

	app := cli.NewApp()
	app.Name = "duplexctl"
	app.Usage = "serve and call bidirectional RPC endpoints"
	app.Version = "0.1.0"
	app.Commands = []cli.Command{
		cli.Command{
			Name:  "serve",
			Usage: "Serve the demo provider",
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:  "listen, l",
					Value: "127.0.0.1:7000",
					Usage: "Listen address",
				},
				cli.StringFlag{
					Name:  "advertise",
					Usage: "Address announced in the registry (default: the listen address)",
				},
				cli.IntFlag{
					Name:  "weight",
					Value: 1,
					Usage: "Balancing weight announced in the registry",
				},
				cli.Float64Flag{
					Name:  "rate",
					Usage: "Limit incoming calls per second per connection (0 = unlimited)",
				},
				cli.IntFlag{
					Name:  "retries",
					Usage: "Re-run handlers that fail with a temporary error up to this many times",
				},
				cli.DurationFlag{
					Name:  "heartbeat",
					Usage: "Keepalive frame interval (0 = off)",
				},
				cli.DurationFlag{
					Name:  "grace",
					Value: 5 * time.Second,
					Usage: "How long shutdown waits for running calls",
				},
			}, wireFlags...),
			Action: serveCommand,
		},
		cli.Command{
			Name:      "call",
			Usage:     "Call a remote operation and print its result as JSON",
			ArgsUsage: "<method> [args...]",
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:  "addr, a",
					Usage: "Connect to this address instead of asking the registry",
				},
				cli.StringFlag{
					Name:  "kwargs, k",
					Usage: "Keyword arguments as a JSON object",
				},
				cli.DurationFlag{
					Name:  "timeout",
					Value: 10 * time.Second,
					Usage: "Give up after this long",
				},
			}, wireFlags...),
			Action: callCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
