package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/jaxxstorm/probedigest/internal/config"
)

var Version = "dev"

type CLI struct {
	Config     kong.ConfigFlag `help:"YAML file with flag defaults." placeholder:"PATH"`
	Resolve    ResolveCmd      `cmd:"" help:"Group DNS answers seen by many probes."`
	Traceroute TracerouteCmd   `cmd:"" help:"Assemble a traceroute seen by many probes hop by hop."`
	Reach      ReachCmd        `cmd:"" help:"Check whether a target answers pings from many probes."`
	Cert       CertCmd         `cmd:"" help:"Group the TLS certificates a target presents to many probes."`
	Version    VersionCmd      `cmd:"" help:"Print version."`
}

// Source selects where probe results come from: an existing measurement, a
// results file, or a new measurement.
type Source struct {
	MeasurementID  int           `name:"measurement-id" short:"m" help:"Analyze an existing measurement instead of creating one."`
	Latest         int           `help:"With --measurement-id, keep only the last N results of each probe."`
	File           string        `type:"existingfile" help:"Read raw results (Atlas JSON) from a file."`
	AtlasKey       string        `name:"atlas-key" env:"ATLAS_KEY" help:"API key. Defaults to the first line of ~/.atlas/auth."`
	AtlasURL       string        `name:"atlas-url" default:"https://atlas.ripe.net/api/v2/measurements" hidden:""`
	Percentage     float64       `short:"p" default:"0.9" help:"Stop waiting once this share of probes reported."`
	WaitTimeout    time.Duration `default:"30m" help:"Give up waiting for results after this long."`
	Requested      int           `short:"r" default:"5" help:"Number of probes to request."`
	Country        string        `short:"c" help:"Select probes in this country code."`
	Area           string        `short:"a" help:"Select probes in this area (WW, West, North-Central, South-Central, North-East, South-East)."`
	ASN            string        `name:"asn" help:"Select probes in this AS."`
	Prefix         string        `short:"f" help:"Select probes in this prefix."`
	Probes         []string      `sep:"," help:"Select these probe ids."`
	OldMeasurement string        `name:"old-measurement" short:"g" help:"Reuse the probes of an earlier measurement."`
	Include        []string      `short:"i" sep:"," help:"Only probes with these tags."`
	Exclude        []string      `short:"e" sep:"," help:"Skip probes with these tags."`
	IPv6           bool          `name:"ipv6" short:"6" help:"Measure over IPv6."`
	Private        bool          `help:"Do not publish the measurement."`
	Spread         int           `short:"w" help:"Spread the tests over this many seconds."`
}

type Display struct {
	Sort            string `enum:"desc,asc" default:"desc" help:"Order classes by count."`
	DisplayProbes   bool   `short:"o" help:"List the probes behind each class."`
	DisplayRTT      bool   `name:"display-rtt" help:"Show the average RTT of each class."`
	Output          string `enum:"pretty,json" default:"pretty" help:"Output format."`
	MachineReadable bool   `short:"b" help:"Print one comma-separated line per measurement."`
	Verbose         bool   `short:"v" help:"Enable verbose logging."`
	Debug           bool   `help:"Enable debug logging (includes raw DNS messages)."`
}

type VersionCmd struct{}

func main() {
	cli := CLI{}
	opts := []kong.Option{
		kong.Name("probedigest"),
		kong.Description("Run or fetch measurements from many vantage points and summarize what the probes saw."),
		kong.UsageOnError(),
	}
	if path := config.DefaultPath(); path != "" {
		opts = append(opts, kong.Configuration(config.Loader, path))
	} else {
		opts = append(opts, kong.Configuration(config.Loader))
	}
	kctx := kong.Parse(&cli, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var (
		code int
		err  error
	)
	switch kctx.Selected().Name {
	case "version":
		fmt.Println(Version)
		return
	case "resolve":
		code, err = runCommand(ctx, cli.Resolve.Display, cli.Resolve.Source.Percentage, func(logger *zap.Logger) (digest, error) {
			return cli.Resolve.run(ctx, logger)
		})
	case "traceroute":
		code, err = runCommand(ctx, cli.Traceroute.Display, cli.Traceroute.Source.Percentage, func(logger *zap.Logger) (digest, error) {
			return cli.Traceroute.run(ctx, logger)
		})
	case "reach":
		code, err = runCommand(ctx, cli.Reach.Display, cli.Reach.Source.Percentage, func(logger *zap.Logger) (digest, error) {
			return cli.Reach.run(ctx, logger)
		})
	case "cert":
		code, err = runCommand(ctx, cli.Cert.Display, cli.Cert.Source.Percentage, func(logger *zap.Logger) (digest, error) {
			return cli.Cert.run(ctx, logger)
		})
	default:
		err = fmt.Errorf("unknown command %q", kctx.Command())
		code = 1
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if code != 0 {
		os.Exit(code)
	}
}

func newLogger(verbose bool, debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}
