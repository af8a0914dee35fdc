// Command predict computes heating and cooling loads for one building from
// the command line.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"buildenergy/config"
	"buildenergy/inference"
	"buildenergy/logging"
	"buildenergy/ml"
)

type options struct {
	configPath  string
	heatingPath string
	coolingPath string
	asJSON      bool
	record      ml.FeatureRecord
}

func parseFlags(args []string) (*options, error) {
	defaults := ml.DefaultFeatureRecord()
	opts := &options{}

	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "config.yaml", "path to the YAML config file")
	fs.StringVar(&opts.heatingPath, "heating", "", "heating model artifact (overrides config)")
	fs.StringVar(&opts.coolingPath, "cooling", "", "cooling model artifact (overrides config)")
	fs.BoolVar(&opts.asJSON, "json", false, "print the result as JSON")
	fs.Float64Var(&opts.record.RelativeCompactness, "x1", defaults.RelativeCompactness, "relative compactness")
	fs.Float64Var(&opts.record.SurfaceArea, "x2", defaults.SurfaceArea, "surface area")
	fs.Float64Var(&opts.record.WallArea, "x3", defaults.WallArea, "wall area")
	fs.Float64Var(&opts.record.RoofArea, "x4", defaults.RoofArea, "roof area")
	fs.Float64Var(&opts.record.OverallHeight, "x5", defaults.OverallHeight, "overall height")
	fs.IntVar(&opts.record.Orientation, "x6", defaults.Orientation, "orientation (1-4)")
	fs.Float64Var(&opts.record.GlazingArea, "x7", defaults.GlazingArea, "glazing area")
	fs.IntVar(&opts.record.GlazingAreaDistribution, "x8", defaults.GlazingAreaDistribution, "glazing area distribution (0-5)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

func run(args []string, stdout io.Writer, logger *zap.Logger) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.heatingPath == "" {
		opts.heatingPath = cfg.Models.HeatingPath
	}
	if opts.coolingPath == "" {
		opts.coolingPath = cfg.Models.CoolingPath
	}

	store, err := ml.Load(opts.heatingPath, opts.coolingPath)
	if err != nil {
		return err
	}
	service := inference.NewService(store,
		inference.WithDomainValidation(cfg.Inference.ValidateDomain),
		inference.WithLogger(logger),
	)

	result, err := service.Predict(context.Background(), opts.record)
	if err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	p := message.NewPrinter(language.English)
	p.Fprintf(stdout, "Heating Load: %.2f kWh/m²\n", result.HeatingLoad)
	p.Fprintf(stdout, "Cooling Load: %.2f kWh/m²\n", result.CoolingLoad)
	return nil
}

func main() {
	logger, err := logging.New(config.LogConfig{Level: "warn", Development: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(os.Args[1:], os.Stdout, logger); err != nil {
		if err == flag.ErrHelp {
			os.Exit(2)
		}
		logger.Error("prediction failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}
