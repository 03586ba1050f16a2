package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/opensource-finance/heron/internal/domain"
	"gopkg.in/yaml.v3"
)

// Seed is the YAML document used to bootstrap a repository.
type Seed struct {
	Banks    []*domain.Bank      `yaml:"banks"`
	Rows     []*domain.EntityRow `yaml:"rows"`
	Criteria []*domain.Criterion `yaml:"criteria"`
	Rules    []*domain.Rule      `yaml:"rules"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed %s: %w", path, err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes a YAML seed document.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	return &seed, nil
}

// Apply writes the seed into repo. Rules are validated first when validate
// is non-nil; invalid rules are skipped.
func Apply(ctx context.Context, repo domain.Repository, seed *Seed, validate func(*domain.RuleDefinition) error) error {
	for _, b := range seed.Banks {
		if err := repo.SaveBank(ctx, b); err != nil {
			return fmt.Errorf("failed to seed bank %s: %w", b.ID, err)
		}
	}
	for _, r := range seed.Rows {
		if err := repo.SaveRow(ctx, r); err != nil {
			return fmt.Errorf("failed to seed row %s: %w", r.ID, err)
		}
	}
	for _, c := range seed.Criteria {
		if err := repo.SaveCriterion(ctx, c); err != nil {
			return fmt.Errorf("failed to seed criterion %s: %w", c.Key, err)
		}
	}

	skipped := 0
	for _, r := range seed.Rules {
		if validate != nil {
			if err := validate(&r.Definition); err != nil {
				slog.Warn("skipping invalid seed rule",
					"criteria_key", r.CriteriaKey,
					"rule_id", r.ID,
					"error", err,
				)
				skipped++
				continue
			}
		}
		id, err := repo.SaveRule(ctx, r)
		if err != nil {
			return fmt.Errorf("failed to seed rule for %s: %w", r.CriteriaKey, err)
		}
		r.ID = id
	}

	slog.Info("catalog seeded",
		"banks", len(seed.Banks),
		"rows", len(seed.Rows),
		"criteria", len(seed.Criteria),
		"rules", len(seed.Rules)-skipped,
	)
	return nil
}
