package config

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"yqhp/load-probe/pkg/types"
)

// Any non-positive stage duration makes a ramping scenario invalid; positive
// durations with non-negative targets never do.
func TestStageValidationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("stage durations decide validity", prop.ForAll(
		func(durations []int, targets []int) bool {
			n := len(durations)
			if len(targets) < n {
				n = len(targets)
			}
			if n == 0 {
				return true
			}
			stages := make([]types.Stage, n)
			wantValid := true
			for i := 0; i < n; i++ {
				stages[i] = types.Stage{Duration: time.Duration(durations[i]) * time.Second, Target: targets[i]}
				if durations[i] <= 0 {
					wantValid = false
				}
			}

			v := NewValidator()
			v.validateStages("s", stages)
			return (len(v.errors) == 0) == wantValid
		},
		gen.SliceOf(gen.IntRange(-5, 60)),
		gen.SliceOf(gen.IntRange(0, 500)),
	))

	properties.TestingRun(t)
}

// Text without ${ is never changed by expansion.
func TestExpandEnvIdentityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	lookup := func(string) (string, bool) { return "X", true }
	properties.Property("no references means no change", prop.ForAll(
		func(s string) bool {
			if strings.Contains(s, "${") {
				return true
			}
			return string(ExpandEnv([]byte(s), lookup)) == s
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
