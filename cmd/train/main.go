package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"

	"github.com/nshruti113/vnc-security-monitor/internal/anomaly"
	"github.com/nshruti113/vnc-security-monitor/internal/config"
	"github.com/nshruti113/vnc-security-monitor/internal/dataset"
	"github.com/nshruti113/vnc-security-monitor/internal/logging"
	"github.com/nshruti113/vnc-security-monitor/internal/models"
	"github.com/nshruti113/vnc-security-monitor/internal/storage"
	"go.uber.org/zap"
)

type Flags struct {
	Input       string
	Sessions    int
	AnomalyRate float64
	DatasetDir  string
	Out         string
	Redis       bool
}

func parseFlags(cfg *config.Config, args []string) (Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("train", flag.ContinueOnError)

	fs.StringVar(&flags.Input, "input", "", "session_logs.csv to train on; synthetic data is generated when empty")
	fs.IntVar(&flags.Sessions, "sessions", 1000, "Number of synthetic sessions to generate")
	fs.Float64Var(&flags.AnomalyRate, "anomaly-rate", 0.15, "Fraction of synthetic sessions that are anomalous (0.0 - 1.0)")
	fs.StringVar(&flags.DatasetDir, "dataset-dir", "", "Also write the synthetic dataset CSVs to this directory")
	fs.StringVar(&flags.Out, "out", cfg.ModelPath, "Where to save the trained model")
	fs.BoolVar(&flags.Redis, "redis", cfg.RedisAddr != "", "Also store the model in Redis")

	if err := fs.Parse(args); err != nil {
		return flags, err
	}
	if flags.AnomalyRate < 0 || flags.AnomalyRate > 1 {
		return flags, fmt.Errorf("%w: anomaly rate must be between 0.0 and 1.0", models.ErrConfiguration)
	}
	if flags.Sessions <= 0 {
		return flags, fmt.Errorf("%w: sessions must be positive", models.ErrConfiguration)
	}
	return flags, nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	flags, err := parseFlags(cfg, args)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer logger.Sync()

	corpus, err := loadCorpus(flags, cfg, logger)
	if err != nil {
		return err
	}

	opts := anomaly.TrainOptions{Contamination: cfg.Contamination, Trees: cfg.Trees, Seed: cfg.Seed}
	model, err := anomaly.Train(corpus, opts)
	if err != nil {
		return err
	}
	logger.Info("model trained",
		zap.Int("sessions", model.TrainingSize),
		zap.Int("trees", len(model.Forest.Trees)),
		zap.Float64("offset", model.Forest.Offset))

	for _, fi := range model.TopFeatures(5) {
		logger.Info("feature importance", zap.String("feature", fi.Name), zap.Float64("importance", fi.Importance))
	}

	if eval, err := model.Evaluate(corpus); err == nil {
		logger.Info("training set evaluation",
			zap.Float64("precision", eval.Precision),
			zap.Float64("recall", eval.Recall),
			zap.Float64("f1", eval.F1),
			zap.Float64("accuracy", eval.Accuracy),
			zap.Int("true_positives", eval.TruePositives),
			zap.Int("false_positives", eval.FalsePositives))
	} else {
		logger.Warn("skipping evaluation", zap.Error(err))
	}

	if err := model.SaveFile(flags.Out); err != nil {
		return err
	}
	logger.Info("model saved", zap.String("path", flags.Out))

	if flags.Redis {
		return storeInRedis(cfg, model, logger)
	}
	return nil
}

func loadCorpus(flags Flags, cfg *config.Config, logger *zap.Logger) ([]models.SessionRecord, error) {
	if flags.Input != "" {
		corpus, err := dataset.LoadSessionsFile(flags.Input)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded sessions", zap.String("path", flags.Input), zap.Int("count", len(corpus)))
		return corpus, nil
	}

	bundle := dataset.NewGenerator(cfg.Seed).Generate(flags.Sessions, flags.AnomalyRate)
	logger.Info("generated synthetic sessions",
		zap.Int("count", len(bundle.Sessions)),
		zap.Float64("anomaly_rate", flags.AnomalyRate))

	if flags.DatasetDir != "" {
		if err := bundle.WriteDir(flags.DatasetDir); err != nil {
			return nil, err
		}
		logger.Info("dataset written", zap.String("dir", flags.DatasetDir))
	}
	return bundle.Sessions, nil
}

func storeInRedis(cfg *config.Config, model *anomaly.Model, logger *zap.Logger) error {
	if cfg.RedisAddr == "" {
		return fmt.Errorf("%w: VSM_REDIS_ADDR is not set", models.ErrConfiguration)
	}
	rc, err := storage.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.AlertRetention, logger.Named("redis"))
	if err != nil {
		return err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if err := model.Save(&buf); err != nil {
		return err
	}
	if err := rc.SaveModelBlob(buf.Bytes()); err != nil {
		return err
	}
	logger.Info("model stored in redis", zap.Int("bytes", buf.Len()))
	return nil
}
