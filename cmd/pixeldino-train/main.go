// pixeldino-train runs the consistency-based semi-supervised training.
//
// Usage:
//
//	pixeldino-train --name=run1 --seed=42 [flags] config.yml
package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/google/uuid"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"

	pixeldino "github.com/forever-ezio/PixelDINO-test"
	"github.com/forever-ezio/PixelDINO-test/config"
	"github.com/forever-ezio/PixelDINO-test/model"
	"github.com/forever-ezio/PixelDINO-test/optimize"
	"github.com/forever-ezio/PixelDINO-test/training"
)

var (
	flagName         = flag.String("name", "", "Run name; output goes to <output_dir>/<name>. Required.")
	flagSeed         = flag.Int64("seed", -1, "Random seed of the run. Required for reproducibility.")
	flagOutputDir    = flag.String("output_dir", "runs", "Directory run outputs are created under.")
	flagWeight       = flag.Float64("unlabelled_weight", -1, "Override train.semisupervised_weight from the config.")
	flagResume       = flag.String("resume", "", "Checkpoint file to resume from.")
	flagSkipGitCheck = flag.Bool("skip-git-check", false, "Allow running from a dirty git tree.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagName == "" || *flagSeed < 0 || flag.NArg() != 1 {
		klog.Exitf("Usage: %s --name=<run> --seed=<n> [flags] <config.yml>", filepath.Base(os.Args[0]))
	}

	// Refuse to touch anything if the run already exists or the tree is
	// dirty; both checks are side-effect free.
	runDir := filepath.Join(*flagOutputDir, *flagName)
	if err := config.CheckRunDir(runDir); err != nil {
		klog.Exitf("%v", err)
	}
	if !*flagSkipGitCheck {
		if err := config.CheckGitClean(); err != nil {
			klog.Exitf("%v", err)
		}
	}

	cfg, err := config.Load(flag.Arg(0))
	if err != nil {
		klog.Exitf("%+v", err)
	}
	if *flagWeight >= 0 {
		cfg = cfg.WithSemisupervisedWeight(*flagWeight)
	}
	cfg.RunID = uuid.NewString()
	if err := config.CreateRunDir(runDir, cfg); err != nil {
		klog.Exitf("%+v", err)
	}
	klog.Infof("Run %s (%s) writing to %s", *flagName, cfg.RunID, runDir)

	err = exceptions.TryCatch[error](func() {
		backend := backends.MustNew()
		net := model.NewSegmenter(cfg.Model)
		opt := check1(optimize.FromConfig(cfg.Optimizer))
		trainer := check1(training.NewConsistencyTrainer(backend, cfg, net, opt))

		var driver *pixeldino.ConsistencyDriver
		if *flagResume != "" {
			driver = check1(pixeldino.ResumeConsistencyDriver(trainer, *flagResume))
			klog.Infof("Resumed from %s at step %d", *flagResume, driver.StepCount())
		} else {
			driver = pixeldino.NewConsistencyDriver(trainer, *flagSeed)
		}

		run := check1(pixeldino.BuildRun(cfg, runDir, backend, driver, *flagSeed))
		check(run.Train())
		check(run.Sink.Close())
	})
	if err != nil {
		klog.Fatalf("Failed: %+v", err)
	}
}

func check(err error) {
	if err != nil {
		klog.Fatalf("Fatal error: %+v", err)
	}
}

func check1[T any](v T, err error) T {
	check(err)
	return v
}
