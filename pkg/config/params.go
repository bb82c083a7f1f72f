package config

import "github.com/cynidn2x/precice/pkg/cplscheme"

// ToParams converts a validated SchemeConfig into the cplscheme.Params
// a BaseCouplingScheme is constructed from. Callers should run
// Validator.Validate first; ToParams itself performs no validation.
func (c *SchemeConfig) ToParams() cplscheme.Params {
	mode := cplscheme.Explicit
	if c.CouplingMode == "implicit" {
		mode = cplscheme.Implicit
	}
	dtMethod := cplscheme.FixedDt
	if c.DtMethod == "first_participant" {
		dtMethod = cplscheme.FirstParticipantDt
	}

	return cplscheme.Params{
		LocalParticipant: c.LocalParticipantName,
		CouplingMode:     mode,
		DtMethod:         dtMethod,
		TimeWindowSize:   c.TimeWindowSize,
		MaxTime:          c.MaxTime,
		MaxTimeWindows:   c.MaxTimeWindows,
		MinIterations:    c.MinIterations,
		MaxIterations:    c.MaxIterations,
		DoesFirstStep:    c.DoesFirstStep,
	}
}
