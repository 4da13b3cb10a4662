package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const appName = "ocrcore"

// Params holds every recognition threshold. Zero-valued sections in a file
// keep their defaults because the file is decoded on top of DefaultParams.
type Params struct {
	Passes     PassParams      `yaml:"passes" toml:"passes"`
	Selector   SelectorParams  `yaml:"selector" toml:"selector"`
	Diacritics DiacriticParams `yaml:"diacritics" toml:"diacritics"`
	Reject     RejectParams    `yaml:"reject" toml:"reject"`
	Font       FontParams      `yaml:"font" toml:"font"`
	Training   TrainingParams  `yaml:"training" toml:"training"`
}

type PassParams struct {
	EnablePass2       bool `yaml:"enable_pass2" toml:"enable_pass2"`
	EnableDiacritics  bool `yaml:"enable_diacritics" toml:"enable_diacritics"`
	EnableFuzzySpaces bool `yaml:"enable_fuzzy_spaces" toml:"enable_fuzzy_spaces"`
	EnableDictionary  bool `yaml:"enable_dictionary" toml:"enable_dictionary"`
	EnableBigram      bool `yaml:"enable_bigram" toml:"enable_bigram"`
	PrepareWorkers    int  `yaml:"prepare_workers" toml:"prepare_workers"`

	// A word is accepted when its certainty clears AcceptCertainty, or
	// DictAcceptCertainty when the best choice is dictionary valid.
	AcceptCertainty     float32 `yaml:"accept_certainty" toml:"accept_certainty"`
	DictAcceptCertainty float32 `yaml:"dict_accept_certainty" toml:"dict_accept_certainty"`
	// Characters below this certainty are rejected as poor matches.
	PoorMatchCertainty float32 `yaml:"poor_match_certainty" toml:"poor_match_certainty"`
	Adapt              bool    `yaml:"adapt" toml:"adapt"`
}

type SelectorParams struct {
	RatingRatio     float32 `yaml:"rating_ratio" toml:"rating_ratio"`
	CertaintyMargin float32 `yaml:"certainty_margin" toml:"certainty_margin"`
}

type DiacriticParams struct {
	AttachedCert    float32 `yaml:"attached_cert" toml:"attached_cert"`
	AdjacentCert    float32 `yaml:"adjacent_cert" toml:"adjacent_cert"`
	IsolatedCert    float32 `yaml:"isolated_cert" toml:"isolated_cert"`
	NoiseCertFactor float32 `yaml:"noise_cert_factor" toml:"noise_cert_factor"`
	MaxPerBlob      int     `yaml:"max_per_blob" toml:"max_per_blob"`
	MaxPerWord      int     `yaml:"max_per_word" toml:"max_per_word"`
}

type RejectParams struct {
	DocPercent           float64 `yaml:"doc_percent" toml:"doc_percent"`
	BlockPercent         float64 `yaml:"block_percent" toml:"block_percent"`
	RowPercent           float64 `yaml:"row_percent" toml:"row_percent"`
	WholeWordPercent     float64 `yaml:"whole_word_percent" toml:"whole_word_percent"`
	WordRejectFraction   float64 `yaml:"word_reject_fraction" toml:"word_reject_fraction"`
	PreservePerfectWords bool    `yaml:"preserve_perfect_words" toml:"preserve_perfect_words"`
	PreserveDictWords    bool    `yaml:"preserve_dict_words" toml:"preserve_dict_words"`
	UnlvSubstitution     bool    `yaml:"unlv_substitution" toml:"unlv_substitution"`

	// CrunchGarbage rejects words the garbage-word table grades as noise.
	CrunchGarbage bool `yaml:"crunch_garbage" toml:"crunch_garbage"`

	// Garbage-word table
	LongRepetitions int `yaml:"long_repetitions" toml:"long_repetitions"`
	LeaveCaseRun    int `yaml:"leave_case_run" toml:"leave_case_run"`
	MinNeverCrunch  int `yaml:"min_never_crunch" toml:"min_never_crunch"`
}

type FontParams struct {
	MinConfidence float32 `yaml:"min_confidence" toml:"min_confidence"`
}

type TrainingParams struct {
	FragmentMode bool `yaml:"fragment_mode" toml:"fragment_mode"`
	Rebalance    bool `yaml:"rebalance" toml:"rebalance"`
	// DefaultTarget applies to classes missing from an explicit target list.
	DefaultTarget int `yaml:"default_target" toml:"default_target"`
}

// DefaultParams returns the stock thresholds
func DefaultParams() *Params {
	return &Params{
		Passes: PassParams{
			EnablePass2:         true,
			EnableDiacritics:    true,
			EnableFuzzySpaces:   true,
			EnableDictionary:    true,
			EnableBigram:        true,
			PrepareWorkers:      4,
			AcceptCertainty:     -2.5,
			DictAcceptCertainty: -5.0,
			PoorMatchCertainty:  -8.0,
			Adapt:               true,
		},
		Selector: SelectorParams{
			RatingRatio:     1.5,
			CertaintyMargin: 5.5,
		},
		Diacritics: DiacriticParams{
			AttachedCert:    -1.0,
			AdjacentCert:    -3.0,
			IsolatedCert:    -8.0,
			NoiseCertFactor: 0.375,
			MaxPerBlob:      8,
			MaxPerWord:      16,
		},
		Reject: RejectParams{
			DocPercent:           65,
			BlockPercent:         45,
			RowPercent:           40,
			WholeWordPercent:     70,
			WordRejectFraction:   0.85,
			PreservePerfectWords: true,
			PreserveDictWords:    false,
			UnlvSubstitution:     true,
			CrunchGarbage:        true,
			LongRepetitions:      3,
			LeaveCaseRun:         4,
			MinNeverCrunch:       4,
		},
		Font: FontParams{
			MinConfidence: 0.5,
		},
		Training: TrainingParams{
			FragmentMode:  false,
			Rebalance:     false,
			DefaultTarget: 0,
		},
	}
}

// DefaultParamsPath is $XDG_CONFIG_HOME/ocrcore/params.yaml
func DefaultParamsPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "params.yaml")
}

// LoadParams reads a YAML or TOML params file on top of the defaults. An
// empty path means DefaultParamsPath; a missing file yields the defaults.
func LoadParams(path string) (*Params, error) {
	params := DefaultParams()
	if path == "" {
		path = DefaultParamsPath()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return params, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read params file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), params); err != nil {
			return nil, fmt.Errorf("failed to decode TOML params: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, params); err != nil {
			return nil, fmt.Errorf("failed to decode YAML params: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported params file extension %q", filepath.Ext(path))
	}

	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("params validation failed: %w", err)
	}
	return params, nil
}

// Validate checks threshold ordering and ranges
func (p *Params) Validate() error {
	d := p.Diacritics
	if !(d.AttachedCert >= d.AdjacentCert && d.AdjacentCert >= d.IsolatedCert) {
		return fmt.Errorf("diacritic thresholds must loosen attached >= adjacent >= isolated, got %v %v %v",
			d.AttachedCert, d.AdjacentCert, d.IsolatedCert)
	}
	if d.NoiseCertFactor < 0 || d.NoiseCertFactor > 1 {
		return fmt.Errorf("noise_cert_factor must be in [0,1], got %v", d.NoiseCertFactor)
	}
	if d.MaxPerBlob < 1 || d.MaxPerWord < 1 {
		return fmt.Errorf("diacritic limits must be positive")
	}

	r := p.Reject
	for name, v := range map[string]float64{
		"doc_percent":        r.DocPercent,
		"block_percent":      r.BlockPercent,
		"row_percent":        r.RowPercent,
		"whole_word_percent": r.WholeWordPercent,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s must be in [0,100], got %v", name, v)
		}
	}
	if r.WordRejectFraction <= 0 || r.WordRejectFraction > 1 {
		return fmt.Errorf("word_reject_fraction must be in (0,1], got %v", r.WordRejectFraction)
	}

	if p.Selector.RatingRatio < 1 {
		return fmt.Errorf("rating_ratio must be >= 1, got %v", p.Selector.RatingRatio)
	}
	if p.Passes.PrepareWorkers < 1 {
		return fmt.Errorf("prepare_workers must be >= 1, got %d", p.Passes.PrepareWorkers)
	}
	return nil
}
