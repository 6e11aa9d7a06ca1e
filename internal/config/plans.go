package config

import (
	"errors"
	"fmt"
	"strings"

	"shopassist/internal/domain/entity"

	"github.com/spf13/viper"
)

// LoadPlans reads the plan catalog from plans.yml. An explicit path wins over
// the search paths; a missing file yields the built-in plans.
func LoadPlans(path string) ([]entity.Plan, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("plans")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/shopassist")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SHOPASSIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read plans: %w", err)
		}
		return entity.DefaultPlans(), nil
	}

	var plans []entity.Plan
	if err := v.UnmarshalKey("plans", &plans); err != nil {
		return nil, fmt.Errorf("decode plans: %w", err)
	}
	if len(plans) == 0 {
		return entity.DefaultPlans(), nil
	}
	if err := validatePlans(plans); err != nil {
		return nil, err
	}
	return plans, nil
}

func validatePlans(plans []entity.Plan) error {
	seen := make(map[string]struct{}, len(plans))
	hasDefault := false
	for _, p := range plans {
		if strings.TrimSpace(p.Name) == "" {
			return errors.New("plan name is required")
		}
		if p.MonthlyCredits < 0 {
			return fmt.Errorf("plan %s: monthly_credits must be >= 0", p.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("plan %s declared twice", p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Name == entity.DefaultPlanName {
			hasDefault = true
		}
	}
	if !hasDefault {
		return fmt.Errorf("plan catalog must include %q", entity.DefaultPlanName)
	}
	return nil
}
