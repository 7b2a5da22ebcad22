package config

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Rules holds the business thresholds used by validation and derivation.
type Rules struct {
	CreditScore               ScoreRange          `mapstructure:"creditScore"`
	RiskBands                 []RiskBand          `mapstructure:"riskBands"`
	DelinquencyBuckets        []DelinquencyBucket `mapstructure:"delinquencyBuckets"`
	InstallationTypes         []string            `mapstructure:"installationTypes"`
	SolarInstallationTypes    []string            `mapstructure:"solarInstallationTypes"`
	SizelessInstallationTypes []string            `mapstructure:"sizelessInstallationTypes"`
	ApprovedStatuses          []string            `mapstructure:"approvedStatuses"`
	PostalCodePattern         string              `mapstructure:"postalCodePattern"`
	ApplicationIDPattern      string              `mapstructure:"applicationIdPattern"`
}

type ScoreRange struct {
	Min int `mapstructure:"min"`
	Max int `mapstructure:"max"`
}

// RiskBand assigns Label to scores at or above MinScore.
type RiskBand struct {
	Label    string `mapstructure:"label"`
	MinScore int    `mapstructure:"minScore"`
}

// DelinquencyBucket covers MinDays..MaxDays inclusive; a nil MaxDays is open-ended.
type DelinquencyBucket struct {
	Label   string `mapstructure:"label"`
	MinDays int    `mapstructure:"minDays"`
	MaxDays *int   `mapstructure:"maxDays"`
}

const RiskCategoryUnknown = "Unknown"

func DefaultRules() Rules {
	return Rules{
		CreditScore: ScoreRange{Min: 300, Max: 850},
		RiskBands: []RiskBand{
			{Label: "Excellent", MinScore: 750},
			{Label: "Good", MinScore: 700},
			{Label: "Fair", MinScore: 650},
			{Label: "Poor", MinScore: 0},
		},
		DelinquencyBuckets: []DelinquencyBucket{
			{Label: "Current", MinDays: 0, MaxDays: intPtr(0)},
			{Label: "Late", MinDays: 1, MaxDays: intPtr(30)},
			{Label: "Delinquent", MinDays: 31, MaxDays: intPtr(90)},
			{Label: "Default", MinDays: 91, MaxDays: nil},
		},
		InstallationTypes:         []string{"solar_pv", "solar_battery", "heat_pump"},
		SolarInstallationTypes:    []string{"solar_pv", "solar_battery"},
		SizelessInstallationTypes: []string{"heat_pump"},
		ApprovedStatuses:          []string{"approved"},
		PostalCodePattern:         `^[0-9]{5}$`,
	}
}

func intPtr(v int) *int { return &v }

// LoadRules reads rules.yml from path (or the default search paths when empty).
// A missing file yields DefaultRules.
func LoadRules(path string) (Rules, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("rules")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/loanportfolio")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LOANPORTFOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Rules{}, fmt.Errorf("read rules config: %w", err)
		}
		rules := DefaultRules()
		return rules, ValidateRules(rules)
	}

	var loaded Rules
	if err := v.UnmarshalKey("rules", &loaded); err != nil {
		return Rules{}, fmt.Errorf("decode rules config: %w", err)
	}
	rules := withDefaults(loaded)
	rules.normalize()
	if err := ValidateRules(rules); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// withDefaults fills every section the file left out.
func withDefaults(r Rules) Rules {
	defaults := DefaultRules()
	if r.CreditScore == (ScoreRange{}) {
		r.CreditScore = defaults.CreditScore
	}
	if len(r.RiskBands) == 0 {
		r.RiskBands = defaults.RiskBands
	}
	if len(r.DelinquencyBuckets) == 0 {
		r.DelinquencyBuckets = defaults.DelinquencyBuckets
	}
	if len(r.InstallationTypes) == 0 {
		r.InstallationTypes = defaults.InstallationTypes
	}
	if len(r.SolarInstallationTypes) == 0 {
		r.SolarInstallationTypes = defaults.SolarInstallationTypes
	}
	if len(r.SizelessInstallationTypes) == 0 {
		r.SizelessInstallationTypes = defaults.SizelessInstallationTypes
	}
	if len(r.ApprovedStatuses) == 0 {
		r.ApprovedStatuses = defaults.ApprovedStatuses
	}
	if strings.TrimSpace(r.PostalCodePattern) == "" {
		r.PostalCodePattern = defaults.PostalCodePattern
	}
	return r
}

func (r *Rules) normalize() {
	// Installation types are matched exactly, so case variants in the source
	// are flagged rather than folded.
	r.InstallationTypes = trimAll(r.InstallationTypes)
	r.SolarInstallationTypes = trimAll(r.SolarInstallationTypes)
	r.SizelessInstallationTypes = trimAll(r.SizelessInstallationTypes)
	r.ApprovedStatuses = lowerAll(r.ApprovedStatuses)
	sort.SliceStable(r.RiskBands, func(i, j int) bool {
		return r.RiskBands[i].MinScore > r.RiskBands[j].MinScore
	})
	sort.SliceStable(r.DelinquencyBuckets, func(i, j int) bool {
		return r.DelinquencyBuckets[i].MinDays < r.DelinquencyBuckets[j].MinDays
	})
}

func ValidateRules(r Rules) error {
	if r.CreditScore.Min >= r.CreditScore.Max {
		return errors.New("rules.creditScore.min must be below max")
	}
	if len(r.RiskBands) == 0 {
		return errors.New("rules.riskBands cannot be empty")
	}
	if len(r.DelinquencyBuckets) == 0 {
		return errors.New("rules.delinquencyBuckets cannot be empty")
	}
	for i, b := range r.DelinquencyBuckets {
		if b.MaxDays != nil && *b.MaxDays < b.MinDays {
			return fmt.Errorf("rules.delinquencyBuckets[%d]: maxDays below minDays", i)
		}
		if i > 0 {
			prev := r.DelinquencyBuckets[i-1]
			if prev.MaxDays == nil || *prev.MaxDays >= b.MinDays {
				return fmt.Errorf("rules.delinquencyBuckets[%d]: overlaps previous bucket", i)
			}
		}
	}
	if len(r.InstallationTypes) == 0 {
		return errors.New("rules.installationTypes cannot be empty")
	}
	if len(r.ApprovedStatuses) == 0 {
		return errors.New("rules.approvedStatuses cannot be empty")
	}
	if _, err := regexp.Compile(r.PostalCodePattern); err != nil {
		return fmt.Errorf("rules.postalCodePattern: %w", err)
	}
	if _, err := regexp.Compile(r.ApplicationIDPattern); err != nil {
		return fmt.Errorf("rules.applicationIdPattern: %w", err)
	}
	return nil
}

func lowerAll(values []string) []string {
	return trimAll(values, strings.ToLower)
}

func trimAll(values []string, fold ...func(string) string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		for _, f := range fold {
			v = f(v)
		}
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
