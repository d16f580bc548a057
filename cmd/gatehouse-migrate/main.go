package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/gatehouse-dev/gatehouse/pkg/migrate"
	"github.com/gatehouse-dev/gatehouse/pkg/relmodel"
)

const usage = `Usage: gatehouse-migrate [flags] <command>

Commands:
  validate    Stage 1: count orphaned references (read-only)
  reconcile   Stage 2: resolve legacy keys into typed reference columns
  dedupe      Stage 3: check duplicates and install uniqueness constraints
  install     Stage 4: install foreign keys in dependency order
  verify      Stage 5: assert the constraint catalog matches the model
  rollback    Drop installed constraints and reconciled columns (exact inverse)
  run         All five stages in order

Flags:
`

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("gatehouse-migrate", flag.ExitOnError)
	dsn := fs.String("dsn", os.Getenv("GATEHOUSE_DATABASE_URL"), "PostgreSQL connection string")
	modelPath := fs.String("model", "", "Path to a relationship model artifact (default: compiled-in model)")
	reportPath := fs.String("report", "", "Write the stage report JSON to this file as well as stdout")
	lockTimeout := fs.Duration("lock-timeout", migrate.DefaultLockTimeout, "Per-statement lock timeout for DDL")
	verbose := fs.Bool("v", false, "Enable debug logging")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	command := fs.Arg(0)

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if *dsn == "" {
		log.Error("no DSN: set -dsn or GATEHOUSE_DATABASE_URL")
		return 2
	}

	model, err := loadModel(*modelPath)
	if err != nil {
		log.WithError(err).Error("failed to load relationship model")
		return 1
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.WithError(err).Error("failed to open database")
		return 1
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.PingContext(ctx)
	cancel()
	if err != nil {
		log.WithError(err).Error("failed to reach database")
		return 1
	}

	pipeline, err := migrate.NewPipeline(db, model, log, migrate.WithLockTimeout(*lockTimeout))
	if err != nil {
		log.WithError(err).Error("failed to build pipeline")
		return 1
	}

	log.WithFields(logrus.Fields{
		"command": command,
		"model":   model.Version(),
	}).Info("starting migration stage")

	reports, stageErr := dispatch(context.Background(), pipeline, command)
	if stageErr != nil && len(reports) == 0 && isUsageError(stageErr) {
		fs.Usage()
		return 2
	}

	for _, report := range reports {
		if err := report.WriteJSON(os.Stdout); err != nil {
			log.WithError(err).Error("failed to write report")
			return 1
		}
		if *reportPath != "" {
			if err := report.SaveFile(*reportPath); err != nil {
				log.WithError(err).Error("failed to save report file")
				return 1
			}
		}
	}

	if stageErr != nil {
		log.WithError(stageErr).Error("migration stage failed")
		return migrate.ExitCode(stageErr)
	}

	log.Info("migration stage completed")
	return 0
}

var errUnknownCommand = fmt.Errorf("unknown command")

func isUsageError(err error) bool {
	return err == errUnknownCommand
}

func dispatch(ctx context.Context, pipeline *migrate.Pipeline, command string) ([]*migrate.Report, error) {
	single := func(report *migrate.Report, err error) ([]*migrate.Report, error) {
		if report == nil {
			return nil, err
		}
		return []*migrate.Report{report}, err
	}

	switch command {
	case "validate":
		return single(pipeline.Validate(ctx))
	case "reconcile":
		return single(pipeline.Reconcile(ctx))
	case "dedupe":
		return single(pipeline.Dedupe(ctx))
	case "install":
		return single(pipeline.Install(ctx))
	case "verify":
		return single(pipeline.Verify(ctx))
	case "rollback":
		return single(pipeline.Rollback(ctx))
	case "run":
		return pipeline.Run(ctx)
	default:
		return nil, errUnknownCommand
	}
}

func loadModel(path string) (*relmodel.Model, error) {
	if path == "" {
		return relmodel.Default(), nil
	}
	return relmodel.Load(path)
}
