package mvm

import (
	"go.uber.org/zap"

	"github.com/mvm-go/mvm/errors"
)

// Host is the abstract host port's fatal-error sink. On firmware-class
// hosts such a sink typically does not return; Go has no language-level
// analogue, so Fatal is invoked for every fatal-class condition and the
// triggering error is additionally returned through the normal API path,
// letting hosts that don't override the default sink still observe the
// failure.
type Host interface {
	Fatal(code errors.Code, err error)
}

// DefaultHost logs fatal conditions and returns, leaving the error to
// propagate through the API. Hosts that want firmware-style semantics can
// provide a Host whose Fatal panics or exits.
type DefaultHost struct {
	Log *zap.Logger
}

// Fatal implements Host.
func (h DefaultHost) Fatal(code errors.Code, err error) {
	log := h.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Error("fatal VM condition", zap.String("code", string(code)), zap.Error(err))
}
