package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their config key (stream.block_size) rather
// than their Go name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks cfg against the struct tags and cross-field rules.
//
// Each violation is reported as "<field>: failed '<tag>' validation" so
// callers can show every problem at once.
func Validate(cfg *Config) error {
	var msgs []string

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			msgs = append(msgs, formatFieldError(fe))
		}
	}

	s := cfg.Stream
	if s.MaxOutstanding > s.LowWater {
		msgs = append(msgs, fmt.Sprintf("stream.max_outstanding (%s) must not exceed stream.low_water (%s)",
			s.MaxOutstanding, s.LowWater))
	}
	if s.RequestUnit > s.LowWater {
		msgs = append(msgs, fmt.Sprintf("stream.request_unit (%s) must not exceed stream.low_water (%s)",
			s.RequestUnit, s.LowWater))
	}

	if len(msgs) > 0 {
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

func formatFieldError(fe validator.FieldError) string {
	// Drop the leading "Config." namespace.
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed '%s=%s' validation (value: %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s: failed '%s' validation", field, fe.Tag())
}
