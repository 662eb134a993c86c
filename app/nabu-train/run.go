package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/tsawler/go-nabu/checkpoints"
	"github.com/tsawler/go-nabu/cluster"
	"github.com/tsawler/go-nabu/model"
	"github.com/tsawler/go-nabu/optimizer"
	"github.com/tsawler/go-nabu/training"
)

// experiment holds everything every role builds from the configuration and
// the corpora
type experiment struct {
	config     training.TrainerConfig
	source     *training.BatchSource
	validation *training.ValidationCycle
	model      *model.BagOfFrames
	totalSteps uint64
}

func setup(opts options) (*experiment, error) {
	config, err := training.LoadTrainerConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	corpus, err := training.LoadJSONLCorpus(opts.trainPath)
	if err != nil {
		return nil, err
	}
	source, err := training.NewBatchSource(corpus, config.BatchConfig())
	if err != nil {
		return nil, err
	}

	var validSource *training.BatchSource
	switch {
	case opts.devPath != "":
		dev, err := training.LoadJSONLCorpus(opts.devPath)
		if err != nil {
			return nil, err
		}
		if validSource, err = source.WithCorpus(dev); err != nil {
			return nil, err
		}
	case config.ValidUtterances > 0:
		var held training.Corpus
		if source, held, err = source.Split(config.ValidUtterances); err != nil {
			return nil, err
		}
		if validSource, err = source.WithCorpus(held); err != nil {
			return nil, err
		}
	}

	classes := opts.classes
	if classes == 0 {
		if classes, err = countLabels(corpus); err != nil {
			return nil, err
		}
	}
	network, err := model.NewBagOfFrames(source.InputDim(), classes)
	if err != nil {
		return nil, err
	}

	exp := &experiment{
		config:     config,
		source:     source,
		model:      network,
		totalSteps: config.TotalSteps(source.NumBatches()),
	}

	if validSource != nil && config.ValidFrequency > 0 {
		decoder, err := model.NewGreedyDecoder(network, opts.blank)
		if err != nil {
			return nil, err
		}
		exp.validation, err = training.NewValidationCycle(training.ValidationConfig{
			Mode:      config.Mode(),
			Frequency: config.ValidFrequency,
			Adapt:     config.Adapt(),
		}, network, decoder, validSource, os.Stdout)
		if err != nil {
			return nil, err
		}
	}

	return exp, nil
}

// countLabels returns one more than the largest label in corpus
func countLabels(corpus training.Corpus) (int, error) {
	largest := 0
	for i := 0; i < corpus.Len(); i++ {
		utt, err := corpus.Utterance(i)
		if err != nil {
			return 0, err
		}
		for _, label := range utt.Text {
			largest = max(largest, label)
		}
	}
	return max(largest+1, 2), nil
}

// newParameterServer builds the parameter server of an experiment and
// restores the coordination state and any previous final model
func newParameterServer(exp *experiment, opts options, numWorkers int, logger *log.Logger) (*cluster.ParameterServer, error) {
	if exp.config.AggregationTarget > numWorkers {
		return nil, fmt.Errorf("numbatches_to_aggregate %d exceeds the %d worker replicas",
			exp.config.AggregationTarget, numWorkers)
	}

	opt, err := optimizer.NewOptimizer(exp.config.OptimizerConfig())
	if err != nil {
		return nil, err
	}

	store, restored, err := cluster.NewStore(cluster.StatePath(opts.expdir), exp.config.ValidFrequency)
	if err != nil {
		return nil, err
	}
	if restored {
		logger.Printf("restored training state at step %d", store.GlobalStep())
	}

	ps := cluster.NewParameterServer(exp.model.Init(opts.seed), opt,
		exp.config.NewController(exp.totalSteps), store, exp.config.AggregationTarget, logger)

	path := training.ModelCheckpointPath(opts.expdir)
	if _, err := os.Stat(path); err == nil {
		saver, err := checkpointSaver(exp.config)
		if err != nil {
			return nil, err
		}
		checkpoint, err := saver.LoadCheckpoint(path)
		if err != nil {
			return nil, err
		}
		if err := ps.Restore(checkpoint); err != nil {
			return nil, err
		}
		logger.Printf("restored parameters from %s", path)
	}

	return ps, nil
}

func checkpointSaver(config training.TrainerConfig) (*checkpoints.CheckpointSaver, error) {
	format, err := config.Format()
	if err != nil {
		return nil, err
	}
	return checkpoints.NewCheckpointSaver(format), nil
}

func newTrainer(exp *experiment, opts options, replica training.Replica) (*training.Trainer, error) {
	saver, err := checkpointSaver(exp.config)
	if err != nil {
		return nil, err
	}

	return training.NewTrainer(exp.config, training.Collaborators{
		Model:      exp.model,
		Source:     exp.source,
		Replica:    replica,
		Validation: exp.validation,
		Authority:  training.NewCheckpointAuthority(saver, training.ModelCheckpointPath(opts.expdir)),
		Output:     os.Stdout,
	})
}

func report(logger *log.Logger, id string, summary training.TrainingSummary) {
	status := "finished"
	if summary.Stopped {
		status = "stopped"
	}
	logger.Printf("%s %s at step %d: %d steps applied, %d stale, last loss %f",
		id, status, summary.FinalStep, summary.StepsApplied, summary.StaleSteps, summary.LastLoss)
}

// runLocal trains with every replica and the parameter server in this
// process
func runLocal(ctx context.Context, opts options, logger *log.Logger) error {
	if opts.replicas < 1 {
		return fmt.Errorf("at least one replica is required, got %d", opts.replicas)
	}

	exp, err := setup(opts)
	if err != nil {
		return err
	}
	ps, err := newParameterServer(exp, opts, opts.replicas, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for task := 0; task < opts.replicas; task++ {
		id := cluster.ReplicaID(task)
		trainer, err := newTrainer(exp, opts, ps.Replica(id, task == 0))
		if err != nil {
			return err
		}
		g.Go(func() error {
			summary, err := trainer.Train(gctx)
			if err != nil {
				return fmt.Errorf("%s: %v", id, err)
			}
			report(logger, id, summary)
			return nil
		})
	}
	return g.Wait()
}

// runParameterServer serves the parameters until ctx is cancelled
func runParameterServer(ctx context.Context, opts options, spec *cluster.Spec, logger *log.Logger) error {
	addr, err := spec.Address(cluster.JobParameterServer, opts.task)
	if err != nil {
		return err
	}

	exp, err := setup(opts)
	if err != nil {
		return err
	}
	ps, err := newParameterServer(exp, opts, spec.NumWorkers(), logger)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	return cluster.NewService(ps, logger).ListenAndServe(ctx, addr)
}

// runWorker trains one replica against a remote parameter server
func runWorker(ctx context.Context, opts options, spec *cluster.Spec, role cluster.Role, logger *log.Logger) error {
	if _, err := spec.Address(cluster.JobWorker, opts.task); err != nil {
		return err
	}
	psAddr, err := spec.Address(cluster.JobParameterServer, 0)
	if err != nil {
		return err
	}

	exp, err := setup(opts)
	if err != nil {
		return err
	}

	id := cluster.ReplicaID(opts.task)
	client := cluster.NewClient(psAddr, id, role.IsChief())
	if err := waitForServer(ctx, client, logger); err != nil {
		return err
	}

	trainer, err := newTrainer(exp, opts, client)
	if err != nil {
		return err
	}
	summary, err := trainer.Train(ctx)
	if err != nil {
		return err
	}
	report(logger, id, summary)
	return nil
}

// waitForServer polls the parameter server until it answers
func waitForServer(ctx context.Context, client *cluster.Client, logger *log.Logger) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		err := client.Health(ctx)
		if err == nil {
			return nil
		}
		if attempt%10 == 1 {
			logger.Printf("waiting for parameter server: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
