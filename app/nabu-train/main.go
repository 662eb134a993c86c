package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tsawler/go-nabu/cluster"
	"github.com/tsawler/go-nabu/model"
)

type options struct {
	configPath  string
	clusterPath string
	job         string
	task        int
	expdir      string
	trainPath   string
	devPath     string
	replicas    int
	classes     int
	blank       int
	seed        int64
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "config/trainer.toml", "trainer configuration")
	flag.StringVar(&opts.clusterPath, "cluster", "", "cluster file; train locally when empty")
	flag.StringVar(&opts.job, "job", cluster.JobWorker, "job of this process: worker or ps")
	flag.IntVar(&opts.task, "task", 0, "task index within the job")
	flag.StringVar(&opts.expdir, "expdir", "exp", "experiment directory")
	flag.StringVar(&opts.trainPath, "train", "", "training corpus (JSON lines)")
	flag.StringVar(&opts.devPath, "dev", "", "validation corpus (JSON lines); valid_utt is used when empty")
	flag.IntVar(&opts.replicas, "replicas", 1, "number of in-process replicas when training locally")
	flag.IntVar(&opts.classes, "classes", 0, "number of output labels; derived from the corpus when 0")
	flag.IntVar(&opts.blank, "blank", model.NoBlank, "label dropped by the greedy decoder")
	flag.Int64Var(&opts.seed, "seed", 1, "parameter initialisation seed")
	flag.Parse()

	if opts.trainPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: nabu-train -train corpus.jsonl [options]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, opts options) error {
	if opts.clusterPath == "" {
		logger := log.New(os.Stderr, "[local] ", log.LstdFlags)
		return runLocal(ctx, opts, logger)
	}

	spec, err := cluster.LoadSpec(opts.clusterPath)
	if err != nil {
		return err
	}
	role, err := cluster.ParseRole(opts.job, opts.task)
	if err != nil {
		return err
	}

	logger := log.New(os.Stderr, fmt.Sprintf("[%s %d] ", role, opts.task), log.LstdFlags)
	if role == cluster.RoleParameterServer {
		return runParameterServer(ctx, opts, spec, logger)
	}
	return runWorker(ctx, opts, spec, role, logger)
}
