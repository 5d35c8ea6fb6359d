package ensemble

import (
	"fmt"
	"math"
	"math/rand"
)

// GaussianMixture fits a full-covariance mixture by expectation
// maximization on scaled features. Sample log-likelihood under the fitted
// density is the anomaly signal: unlikely points sit far below the training
// mass.
type GaussianMixture struct {
	Components  int           `json:"components"`
	MaxIter     int           `json:"max_iter"`
	Tol         float64       `json:"tol"`
	RegCovar    float64       `json:"reg_covar"`
	Weights     []float64     `json:"weights"`
	Means       [][]float64   `json:"means"`
	Covariances [][][]float64 `json:"covariances"`
}

// GMMConfig holds mixture hyperparameters.
type GMMConfig struct {
	Components int     `yaml:"components" json:"components"`
	MaxIter    int     `yaml:"max_iter" json:"max_iter"`
	Tol        float64 `yaml:"tol" json:"tol"`
}

// NewGaussianMixture creates an untrained mixture, filling zero config
// fields with defaults.
func NewGaussianMixture(cfg GMMConfig) *GaussianMixture {
	if cfg.Components <= 0 {
		cfg.Components = 3
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = 100
	}
	if cfg.Tol <= 0 {
		cfg.Tol = 1e-3
	}
	return &GaussianMixture{
		Components: cfg.Components,
		MaxIter:    cfg.MaxIter,
		Tol:        cfg.Tol,
		RegCovar:   1e-6,
	}
}

// Fit runs EM until the mean log-likelihood moves less than Tol or MaxIter
// is reached. Means initialize from random distinct samples, covariances
// from the per-feature data variance.
func (g *GaussianMixture) Fit(data [][]float64, rng *rand.Rand) error {
	n := len(data)
	if n == 0 {
		return fmt.Errorf("gmm fit: no data provided")
	}
	if n < g.Components {
		return fmt.Errorf("gmm fit: %d samples for %d components", n, g.Components)
	}
	dim := len(data[0])

	g.initParams(data, dim, rng)

	resp := make([][]float64, n)
	for i := range resp {
		resp[i] = make([]float64, g.Components)
	}

	prevLL := math.Inf(-1)
	for iter := 0; iter < g.MaxIter; iter++ {
		// E step.
		totalLL := 0.0
		for i, x := range data {
			ll := g.logProbs(x, resp[i])
			totalLL += ll
			for k := range resp[i] {
				resp[i][k] = math.Exp(resp[i][k] - ll)
			}
		}
		avgLL := totalLL / float64(n)

		// M step.
		g.updateParams(data, resp, dim)

		if math.Abs(avgLL-prevLL) < g.Tol {
			break
		}
		prevLL = avgLL
	}

	return nil
}

func (g *GaussianMixture) initParams(data [][]float64, dim int, rng *rand.Rand) {
	n := len(data)

	g.Weights = make([]float64, g.Components)
	g.Means = make([][]float64, g.Components)
	perm := rng.Perm(n)
	for k := 0; k < g.Components; k++ {
		g.Weights[k] = 1.0 / float64(g.Components)
		g.Means[k] = make([]float64, dim)
		copy(g.Means[k], data[perm[k]])
	}

	// Diagonal data variance as the starting covariance for every component.
	mean := make([]float64, dim)
	for _, x := range data {
		for j, v := range x {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}
	variance := make([]float64, dim)
	for _, x := range data {
		for j, v := range x {
			diff := v - mean[j]
			variance[j] += diff * diff
		}
	}
	for j := range variance {
		variance[j] = variance[j]/float64(n) + g.RegCovar
	}

	g.Covariances = make([][][]float64, g.Components)
	for k := 0; k < g.Components; k++ {
		cov := make([][]float64, dim)
		for i := range cov {
			cov[i] = make([]float64, dim)
			cov[i][i] = variance[i]
		}
		g.Covariances[k] = cov
	}
}

func (g *GaussianMixture) updateParams(data [][]float64, resp [][]float64, dim int) {
	n := len(data)

	for k := 0; k < g.Components; k++ {
		nk := 0.0
		for i := 0; i < n; i++ {
			nk += resp[i][k]
		}
		if nk < 1e-10 {
			// Degenerate component: leave its parameters untouched.
			continue
		}

		g.Weights[k] = nk / float64(n)

		mean := make([]float64, dim)
		for i, x := range data {
			for j, v := range x {
				mean[j] += resp[i][k] * v
			}
		}
		for j := range mean {
			mean[j] /= nk
		}
		g.Means[k] = mean

		cov := make([][]float64, dim)
		for i := range cov {
			cov[i] = make([]float64, dim)
		}
		diff := make([]float64, dim)
		for i, x := range data {
			r := resp[i][k]
			for j, v := range x {
				diff[j] = v - mean[j]
			}
			for a := 0; a < dim; a++ {
				ra := r * diff[a]
				for b := a; b < dim; b++ {
					cov[a][b] += ra * diff[b]
				}
			}
		}
		for a := 0; a < dim; a++ {
			for b := a; b < dim; b++ {
				cov[a][b] /= nk
				cov[b][a] = cov[a][b]
			}
			cov[a][a] += g.RegCovar
		}
		g.Covariances[k] = cov
	}
}

// logProbs fills out[k] with log(w_k) + log N(x | mean_k, cov_k) and
// returns their log-sum-exp, the sample log-likelihood.
func (g *GaussianMixture) logProbs(x []float64, out []float64) float64 {
	for k := 0; k < g.Components; k++ {
		if g.Weights[k] <= 0 {
			out[k] = math.Inf(-1)
			continue
		}
		out[k] = math.Log(g.Weights[k]) + logGaussian(x, g.Means[k], g.Covariances[k], g.RegCovar)
	}
	return logSumExp(out)
}

// LogLikelihood returns log p(x) under the fitted mixture.
func (g *GaussianMixture) LogLikelihood(x []float64) float64 {
	tmp := make([]float64, g.Components)
	return g.logProbs(x, tmp)
}

// logGaussian evaluates the multivariate normal log-density via a Cholesky
// factorization, escalating the diagonal jitter when the covariance is not
// positive definite.
func logGaussian(x, mean []float64, cov [][]float64, jitter float64) float64 {
	dim := len(x)

	var chol [][]float64
	for attempt := 0; attempt < 5; attempt++ {
		var ok bool
		chol, ok = cholesky(cov, jitter*math.Pow(10, float64(attempt)))
		if ok {
			break
		}
		chol = nil
	}
	if chol == nil {
		return math.Inf(-1)
	}

	// Solve L y = (x - mean) by forward substitution.
	y := make([]float64, dim)
	for i := 0; i < dim; i++ {
		sum := x[i] - mean[i]
		for j := 0; j < i; j++ {
			sum -= chol[i][j] * y[j]
		}
		y[i] = sum / chol[i][i]
	}

	quad := 0.0
	logDetHalf := 0.0
	for i := 0; i < dim; i++ {
		quad += y[i] * y[i]
		logDetHalf += math.Log(chol[i][i])
	}

	return -0.5*(float64(dim)*math.Log(2*math.Pi)+quad) - logDetHalf
}

// cholesky returns the lower-triangular factor of cov with extra diagonal
// jitter, or false when cov is not positive definite at that jitter.
func cholesky(cov [][]float64, extra float64) ([][]float64, bool) {
	dim := len(cov)
	chol := make([][]float64, dim)
	for i := range chol {
		chol[i] = make([]float64, dim)
	}

	for i := 0; i < dim; i++ {
		for j := 0; j <= i; j++ {
			sum := cov[i][j]
			if i == j {
				sum += extra
			}
			for k := 0; k < j; k++ {
				sum -= chol[i][k] * chol[j][k]
			}
			if i == j {
				if sum <= 0 {
					return nil, false
				}
				chol[i][i] = math.Sqrt(sum)
			} else {
				chol[i][j] = sum / chol[j][j]
			}
		}
	}
	return chol, true
}

func logSumExp(xs []float64) float64 {
	maxVal := math.Inf(-1)
	for _, v := range xs {
		if v > maxVal {
			maxVal = v
		}
	}
	if math.IsInf(maxVal, -1) {
		return maxVal
	}
	sum := 0.0
	for _, v := range xs {
		sum += math.Exp(v - maxVal)
	}
	return maxVal + math.Log(sum)
}
