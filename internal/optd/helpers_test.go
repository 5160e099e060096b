package optd

import (
	"context"
	"testing"

	"github.com/rodline/procopt/internal/improvement"
	"github.com/rodline/procopt/internal/oracle"
	"github.com/rodline/procopt/internal/session"
	"github.com/rodline/procopt/pkg/config"
	"github.com/rodline/procopt/pkg/models"
)

const bootstrapFile = "../../config/last_prediction.json"

var testDesired = models.Triplet{200, 10, 55}

// metalTempModel hits testDesired when MetalTemp is 750
func metalTempModel() oracle.PredictionOracle {
	return oracle.Func(func(_ context.Context, x []float64) (models.Triplet, error) {
		d := (x[2] - 750) / 50
		f := 1 + d*d
		return models.Triplet{testDesired[0] * f, testDesired[1] * f, testDesired[2] * f}, nil
	})
}

func newTestService(t *testing.T, o oracle.PredictionOracle, opts Options) *Service {
	t.Helper()
	space, err := improvement.NewSearchSpaceBuilder(improvement.SpecsFromConfig(config.DefaultConfig().Parameters))
	if err != nil {
		t.Fatalf("NewSearchSpaceBuilder: %v", err)
	}
	settings := improvement.DefaultSettings()
	settings.Budget, settings.InitialPoints, settings.Candidates = 10, 4, 150
	m := session.NewManager(improvement.NewOptimizer(o, space, settings), nil, models.DefaultWeights)
	if opts.BootstrapPath == "" {
		opts.BootstrapPath = bootstrapFile
	}
	return NewService(m, opts)
}
