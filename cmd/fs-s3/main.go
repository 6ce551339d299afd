package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wpnpeiris/fs-s3/internal/server"
)

var usageStr = `
Usage: fs-s3 [options]

Server Options:
    --listen <host:port>             HTTP bind address (default: localhost:4568, port 0 picks a free port)
    --hostname <name>                Host name for virtual-host-style bucket addressing (default: localhost)
    --directory <path>               Data root directory (default: a fresh temporary directory)
    --remove-buckets-on-close        Delete all buckets when the server shuts down

TLS Options:
    --tls.cert <path>                TLS certificate file; with --tls.key, serve HTTPS
    --tls.key <path>                 TLS private key file; with --tls.cert, serve HTTPS

CORS Options:
    --cors <path>                    CORSConfiguration XML file applied to all buckets
    --no-cors                        Disable cross-origin resource sharing entirely

Static Website Options:
    --website.index <key>            Serve all buckets as static websites using this index document
    --website.error <key>            Error document key used with --website.index

Logging Options:
    --silent                         Suppress all log output
    --log.format <format>            Log output format: logfmt or json (default: logfmt)
    --log.level <level>              Log level: debug, info, warning, error (default: info)

HTTP Server Timeout Options:
    --http.read-timeout <duration>   HTTP server read timeout (default: 15m)
    --http.write-timeout <duration>  HTTP server write timeout (default: 15m)
    --http.idle-timeout <duration>   HTTP server idle timeout (default: 120s)
    --http.read-header-timeout <dur> HTTP server read header timeout (default: 30s)

Common Options:
    -h, --help                       Show this message
    -v, --version                    Show version

Examples:
    # Start on the default port with a temporary data directory
    fs-s3

    # Persist objects under ./data and pick a free port
    fs-s3 --listen localhost:0 --directory ./data

    # Serve every bucket as a static website
    fs-s3 --website.index index.html --website.error error.html
`

// Version is set at build time via -ldflags.
var Version string

// printVersionAndExit will print our version and exit.
func printVersionAndExit() {
	fmt.Printf("fs-s3: v%s\n", Version)
	os.Exit(0)
}

// usage will print out the flag options of fs-s3.
func usage() {
	fmt.Printf("%s\n", usageStr)
	os.Exit(0)
}

func main() {
	fs := flag.NewFlagSet("fs-s3", flag.ExitOnError)
	fs.Usage = usage
	opts, err := server.ConfigureOptions(fs, os.Args[1:], printVersionAndExit, fs.Usage)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if opts == nil {
		return
	}

	gateway, err := server.NewGatewayServer(opts)
	if err != nil {
		server.LogAndExit(err.Error())
	}
	if err := gateway.Listen(); err != nil {
		server.LogAndExit(err.Error())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- gateway.Serve()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			server.LogAndExit(err.Error())
		}
	case <-sigCh:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := gateway.Shutdown(ctx); err != nil {
			server.LogAndExit(err.Error())
		}
	}
}
