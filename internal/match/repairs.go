package match

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/cardsync/internal/model"
)

//go:embed repairs.yaml
var defaultRepairsYAML []byte

// Repair pins a printing to a specific provider card where the provider's
// own catalog is inconsistent. Repairs bypass scoring entirely.
type Repair struct {
	PrintingID     string         `yaml:"printing_id"`
	ProviderCardID string         `yaml:"provider_card_id"`
	Finishes       []model.Finish `yaml:"finishes"`
	Note           string         `yaml:"note"`
}

// Repairs is the manual repair table keyed by printing id.
type Repairs map[string]Repair

type repairFile struct {
	Repairs []Repair `yaml:"repairs"`
}

// ParseRepairs decodes a YAML repair table.
func ParseRepairs(data []byte) (Repairs, error) {
	var f repairFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "match: parse repairs")
	}
	out := make(Repairs, len(f.Repairs))
	for i, r := range f.Repairs {
		if r.PrintingID == "" || r.ProviderCardID == "" {
			return nil, eris.Errorf("match: repair %d: printing_id and provider_card_id are required", i)
		}
		if _, dup := out[r.PrintingID]; dup {
			return nil, eris.Errorf("match: duplicate repair for printing %s", r.PrintingID)
		}
		out[r.PrintingID] = r
	}
	return out, nil
}

// LoadRepairs reads the repair table at path, or the embedded default table
// when path is empty.
func LoadRepairs(path string) (Repairs, error) {
	if path == "" {
		return ParseRepairs(defaultRepairsYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "match: read repairs %s", path)
	}
	return ParseRepairs(data)
}
