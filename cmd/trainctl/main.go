// Command trainctl trains the anomaly ensemble on synthetic security-log
// traffic and writes a versioned model artifact the analyzer can load.
package main

import (
	"flag"
	"math/rand"
	"os"

	"github.com/rs/zerolog"

	"logshield/pkg/ensemble"
	"logshield/pkg/features"
	"logshield/pkg/modelstore"
)

func main() {
	var (
		outDir     = flag.String("out", "models", "model artifact directory")
		nNormal    = flag.Int("normal", 9700, "number of normal training samples")
		nAnomalous = flag.Int("anomalous", 300, "number of anomalous training samples")
		seed       = flag.Int64("seed", 42, "training RNG seed")
		trees      = flag.Int("trees", 100, "isolation forest tree count")
		eps        = flag.Float64("eps", 5.0, "dbscan neighborhood radius")
		minSamples = flag.Int("min-samples", 50, "dbscan core point threshold")
		components = flag.Int("components", 3, "gmm component count")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	rng := rand.New(rand.NewSource(*seed))
	data, labels := generate(rng, *nNormal, *nAnomalous)
	logger.Info().Int("normal", *nNormal).Int("anomalous", *nAnomalous).
		Int("features", features.Dim).Msg("training set generated")

	cfg := ensemble.Config{Seed: *seed}
	cfg.IForest.NumTrees = *trees
	cfg.DBSCAN.Eps = *eps
	cfg.DBSCAN.MinSamples = *minSamples
	cfg.GMM.Components = *components

	model, err := ensemble.New(cfg, features.Names())
	if err != nil {
		logger.Fatal().Err(err).Msg("build ensemble")
	}

	logger.Info().Int("trees", *trees).Float64("eps", *eps).
		Int("components", *components).Msg("training ensemble")
	if err := model.Fit(data); err != nil {
		logger.Fatal().Err(err).Msg("train ensemble")
	}

	report(logger, model, data, labels)

	store, err := modelstore.New(*outDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", *outDir).Msg("open model store")
	}
	path, err := store.Save(model)
	if err != nil {
		logger.Fatal().Err(err).Msg("save model")
	}
	logger.Info().Str("path", path).Int("samples", model.Samples).Msg("model saved")
}

// report scores the training set against its labels and logs the score
// separation, which is the quickest sanity check that training worked.
func report(logger zerolog.Logger, model *ensemble.Ensemble, data [][]float64, labels []int) {
	var normalSum, anomalySum float64
	var normalN, anomalyN, detected int

	for i, row := range data {
		pred, err := model.Predict(row)
		if err != nil {
			logger.Fatal().Err(err).Msg("validation predict")
		}
		if labels[i] == 0 {
			normalSum += pred.RiskScore
			normalN++
		} else {
			anomalySum += pred.RiskScore
			anomalyN++
			if pred.IsAnomaly {
				detected++
			}
		}
	}

	meanNormal := normalSum / float64(normalN)
	meanAnomaly := anomalySum / float64(anomalyN)
	logger.Info().
		Float64("mean_normal_score", meanNormal).
		Float64("mean_anomaly_score", meanAnomaly).
		Float64("separation", meanAnomaly-meanNormal).
		Float64("detection_rate", float64(detected)/float64(anomalyN)).
		Msg("validation")

	if meanAnomaly <= meanNormal {
		logger.Warn().Msg("no score separation between classes; model is likely unusable")
	}
}
