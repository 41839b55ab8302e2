package main

import "flag"

// Options holds CLI options for the server. Non-empty flags override the
// loaded configuration.
type Options struct {
	ConfigPath string
	Listen     string
	Transport  string
	CertFile   string
	KeyFile    string
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("chat-server", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.StringVar(&opts.Listen, "listen", "", "Listen address (default :12345)")
	fs.StringVar(&opts.Transport, "transport", "", "Transport kind: tcp|quic|mem|winpipe")
	fs.StringVar(&opts.CertFile, "cert", "", "Server certificate PEM file")
	fs.StringVar(&opts.KeyFile, "key", "", "Server private key PEM file")
	_ = fs.Parse(args)
	return opts
}

func (o Options) apply(listen, kind, cert, key *string) {
	if o.Listen != "" {
		*listen = o.Listen
	}
	if o.Transport != "" {
		*kind = o.Transport
	}
	if o.CertFile != "" {
		*cert = o.CertFile
	}
	if o.KeyFile != "" {
		*key = o.KeyFile
	}
}
