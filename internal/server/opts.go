package server

import (
	"flag"
	"time"
)

// Options holds all configuration options for the fs-s3 server.
type Options struct {
	ServerListen         string
	Hostname             string
	Directory            string
	CertFile             string
	KeyFile              string
	CORSFile             string
	NoCORS               bool
	IndexDocument        string
	ErrorDocument        string
	RemoveBucketsOnClose bool
	Silent               bool
	LogFormat            string
	LogLevel             string
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	ReadHeaderTimeout    time.Duration
}

// ConfigureOptions parses command-line arguments and returns an Options struct.
// It handles -h/--help and -v/--version flags by calling the provided callbacks.
// Returns nil options and nil error when help or version flags are used.
func ConfigureOptions(fs *flag.FlagSet, args []string, printVersion, printHelp func()) (*Options, error) {
	opts := &Options{}
	var (
		showVersion bool
		showHelp    bool
	)
	fs.BoolVar(&showVersion, "v", false, "Print version information.")
	fs.BoolVar(&showVersion, "version", false, "Print version information.")
	fs.BoolVar(&showHelp, "h", false, "Print usage.")
	fs.BoolVar(&showHelp, "help", false, "Print usage.")

	fs.StringVar(&opts.ServerListen, "listen", "localhost:4568", "Network host:port to listen on (port 0 picks a free port)")
	fs.StringVar(&opts.Hostname, "hostname", "localhost", "Host name for virtual-host-style bucket addressing")
	fs.StringVar(&opts.Directory, "directory", "", "Data root directory (default: a fresh temporary directory)")
	fs.StringVar(&opts.CertFile, "tls.cert", "", "TLS certificate file; with tls.key, serve HTTPS")
	fs.StringVar(&opts.KeyFile, "tls.key", "", "TLS private key file; with tls.cert, serve HTTPS")
	fs.StringVar(&opts.CORSFile, "cors", "", "Path to a CORSConfiguration XML file applied to all buckets")
	fs.BoolVar(&opts.NoCORS, "no-cors", false, "Disable cross-origin resource sharing entirely")
	fs.StringVar(&opts.IndexDocument, "website.index", "", "Serve all buckets as static websites using this index document")
	fs.StringVar(&opts.ErrorDocument, "website.error", "", "Error document key used with website.index")
	fs.BoolVar(&opts.RemoveBucketsOnClose, "remove-buckets-on-close", false, "Delete all buckets when the server shuts down")
	fs.BoolVar(&opts.Silent, "silent", false, "Suppress all log output")
	fs.StringVar(&opts.LogFormat, "log.format", "logfmt", "log output format: logfmt or json")
	fs.StringVar(&opts.LogLevel, "log.level", "info", "log level: debug, info, warning, error")
	fs.DurationVar(&opts.ReadTimeout, "http.read-timeout", 15*time.Minute, "HTTP server read timeout (for large uploads)")
	fs.DurationVar(&opts.WriteTimeout, "http.write-timeout", 15*time.Minute, "HTTP server write timeout (for large downloads)")
	fs.DurationVar(&opts.IdleTimeout, "http.idle-timeout", 120*time.Second, "HTTP server idle timeout")
	fs.DurationVar(&opts.ReadHeaderTimeout, "http.read-header-timeout", 30*time.Second, "HTTP server read header timeout (slowloris protection)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if showVersion {
		printVersion()
		return nil, nil
	}

	if showHelp {
		printHelp()
		return nil, nil
	}

	return opts, nil
}
