package checkpoints

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/samuelsimko/scaling-mlps/config"
)

// DeriveIdentity names the experiment described by cfg. The name is a
// readable prefix of the headline hyper-parameters followed by a hash of
// every field that affects the trained result. Fields tagged
// hash:"ignore" do not contribute.
func DeriveIdentity(cfg *config.Configuration) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("nil configuration")
	}

	sum, err := hashstructure.Hash(cfg, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("hash configuration: %w", err)
	}

	prefix := fmt.Sprintf("%s_%s_%s_res_%d_bs_%d_%s_lr_%s_wd_%s_ep_%d",
		cfg.Model,
		cfg.Architecture,
		cfg.Dataset,
		cfg.Resolution,
		cfg.BatchSize,
		cfg.Optimizer,
		strconv.FormatFloat(cfg.LR, 'g', -1, 64),
		strconv.FormatFloat(cfg.WeightDecay, 'g', -1, 64),
		cfg.Epochs,
	)
	return fmt.Sprintf("%s_%016x", sanitize(prefix), sum), nil
}

// sanitize keeps the identity usable as a single path element.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ', '\t', '\n':
			return '-'
		}
		return r
	}, s)
}
