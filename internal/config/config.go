// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package config reads blp-engine settings through viper and checks them
// with validator struct tags.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/pdiddy/blp-engine/internal/blperr"
	"github.com/pdiddy/blp-engine/internal/demand"
	"github.com/pdiddy/blp-engine/internal/estimation"
	"github.com/pdiddy/blp-engine/pkg/types"
)

// EnvPrefix is the environment prefix, e.g. BLP_ENGINE_CONTRACTION_DAMPING.
const EnvPrefix = "BLP_ENGINE"

// SetDefaults registers every key with its default so env overrides and
// Unmarshal see the full tree.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("contraction.tolerance", demand.DefaultTolerance)
	v.SetDefault("contraction.max_iterations", demand.DefaultMaxIterations)
	v.SetDefault("contraction.damping", demand.DefaultDamping)
	v.SetDefault("contraction.minimum_share", demand.DefaultMinimumShare)
	v.SetDefault("contraction.workers", 0)

	v.SetDefault("gmm.steps", 1)
	v.SetDefault("gmm.update_weighting", false)
	v.SetDefault("gmm.step_tolerance", 0.0)
	v.SetDefault("gmm.error_on_nonconvergence", true)
	v.SetDefault("gmm.optimizer.method", string(estimation.MethodNelderMead))
	v.SetDefault("gmm.optimizer.max_iterations", 500)
	v.SetDefault("gmm.optimizer.tolerance", 1e-10)

	v.SetDefault("draws.count", 200)
	v.SetDefault("draws.seed", 0)

	v.SetDefault("store.dir", "runs")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", string(types.LogText))
}

// BindEnv enables BLP_ENGINE_* overrides for nested keys.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load applies defaults, decodes v into a Config and validates it.
func Load(v *viper.Viper) (types.Config, error) {
	SetDefaults(v)

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct tags on cfg. Failures wrap blperr.ErrInvalidOptions
// and list every offending key.
func Validate(cfg types.Config) error {
	return validateStruct(cfg)
}

// ValidateManifest checks the required manifest fields.
func ValidateManifest(m types.ProblemManifest) error {
	return validateStruct(m)
}

func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", blperr.ErrInvalidOptions, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", blperr.ErrInvalidOptions, strings.Join(msgs, "; "))
}

// describe renders one field error as "contraction.damping must be lte=1 (got 2)".
func describe(fe validator.FieldError) string {
	ns := fe.Namespace()
	// Drop the root type name.
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	rule := fe.Tag()
	if fe.Param() != "" {
		rule += "=" + fe.Param()
	}
	return fmt.Sprintf("%s must be %s (got %v)", ns, rule, fe.Value())
}

// EstimationOptions converts cfg into estimation options. Weighting is
// always the (Z'Z)⁻¹ default; a robust second step is enabled through
// gmm.update_weighting.
func EstimationOptions(cfg types.Config) estimation.Options {
	return estimation.Options{
		Contraction: demand.ContractionOptions{
			Tolerance:     cfg.Contraction.Tolerance,
			MaxIterations: cfg.Contraction.MaxIterations,
			Damping:       cfg.Contraction.Damping,
			MinimumShare:  cfg.Contraction.MinimumShare,
			Workers:       cfg.Contraction.Workers,
		},
		Weighting:             estimation.InverseZTZ(),
		Steps:                 cfg.GMM.Steps,
		UpdateWeighting:       cfg.GMM.UpdateWeighting,
		StepTolerance:         cfg.GMM.StepTolerance,
		ErrorOnNonConvergence: cfg.GMM.ErrorOnNonConvergence,
		Optimizer: estimation.OptimizerOptions{
			Method:        estimation.OptimizerMethod(cfg.GMM.Optimizer.Method),
			MaxIterations: cfg.GMM.Optimizer.MaxIterations,
			Tolerance:     cfg.GMM.Optimizer.Tolerance,
		},
	}
}
