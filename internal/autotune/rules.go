package autotune

import (
	"errors"
	"fmt"
	"strings"
)

// Rule names a tuning-rule table that maps (Ku, Pu) to PID gains.
type Rule string

const (
	RuleZieglerNichols Rule = "ziegler-nichols"
	RuleTyreusLuyben   Rule = "tyreus-luyben"
	RuleCianconeMarlin Rule = "ciancone-marlin"
	RulePessenIntegral Rule = "pessen-integral"
	RuleSomeOvershoot  Rule = "some-overshoot"
	RuleNoOvershoot    Rule = "no-overshoot"
	RuleBrewing        Rule = "brewing"
)

// ErrUnknownRule is returned for a rule name outside the table.
var ErrUnknownRule = errors.New("autotune: unknown tuning rule")

// Kp, Ki and Kd divisors per rule.
var divisors = map[Rule][3]float64{
	RuleZieglerNichols: {34, 40, 160},
	RuleTyreusLuyben:   {44, 9, 126},
	RuleCianconeMarlin: {66, 88, 162},
	RulePessenIntegral: {28, 50, 133},
	RuleSomeOvershoot:  {60, 40, 60},
	RuleNoOvershoot:    {100, 40, 60},
	RuleBrewing:        {2.5, 6, 380},
}

// Params are the gains derived from a tuning rule.
type Params struct {
	Kp float64
	Ki float64
	Kd float64
}

// Rules lists every rule in table order.
func Rules() []Rule {
	return []Rule{
		RuleZieglerNichols,
		RuleTyreusLuyben,
		RuleCianconeMarlin,
		RulePessenIntegral,
		RuleSomeOvershoot,
		RuleNoOvershoot,
		RuleBrewing,
	}
}

// ParseRule resolves a rule name, case-insensitively.
func ParseRule(s string) (Rule, error) {
	r := Rule(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := divisors[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRule, s)
	}
	return r, nil
}

// Compute applies rule to the ultimate gain ku and ultimate period pu (seconds).
func Compute(rule Rule, ku, pu float64) (Params, error) {
	d, ok := divisors[rule]
	if !ok {
		return Params{}, fmt.Errorf("%w: %q", ErrUnknownRule, rule)
	}
	kp := ku / d[0]
	return Params{
		Kp: kp,
		Ki: kp / (pu / d[1]),
		Kd: kp * (pu / d[2]),
	}, nil
}
