package runtime

import (
	"github.com/mvm-go/mvm/value"
	"github.com/mvm-go/mvm/vm"
)

// Kind re-exports the typeof classification.
type Kind = vm.Kind

// TypeOf classifies a value.
func (r *Runtime) TypeOf(v value.Value) (Kind, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	return r.vm.TypeOf(v)
}

// ToString renders a value to UTF-8.
func (r *Runtime) ToString(v value.Value) (string, error) {
	if err := r.ensureOpen(); err != nil {
		return "", err
	}
	return r.vm.ToString(v)
}

// ToBool coerces per the standard truthiness rules.
func (r *Runtime) ToBool(v value.Value) (bool, error) {
	if err := r.ensureOpen(); err != nil {
		return false, err
	}
	return r.vm.ToBool(v)
}

// ToInt32 coerces a numeric value with truncation.
func (r *Runtime) ToInt32(v value.Value) (int32, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	return r.vm.ToInt32(v)
}

// ToFloat64 coerces a numeric value.
func (r *Runtime) ToFloat64(v value.Value) (float64, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	return r.vm.ToFloat64(v)
}

// Equal applies the structural equality rule table.
func (r *Runtime) Equal(a, b value.Value) (bool, error) {
	if err := r.ensureOpen(); err != nil {
		return false, err
	}
	return r.vm.Equal(a, b)
}

// IsNaN reports whether v is the canonical NaN singleton.
func IsNaN(v value.Value) bool { return vm.IsNaN(v) }

// NewUndefined returns the undefined singleton.
func NewUndefined() value.Value { return value.Undefined }

// NewBoolean returns the true or false singleton.
func NewBoolean(b bool) value.Value {
	if b {
		return value.True
	}
	return value.False
}

// NewInt32 packs n into canonical numeric form, allocating an INT32 when it
// does not fit an Int14 immediate.
func (r *Runtime) NewInt32(n int32) (value.Value, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	v, err := r.vm.MakeInt32(n)
	if err != nil {
		return 0, r.fatal(err)
	}
	return v, nil
}

// NewNumber packs f into canonical numeric form.
func (r *Runtime) NewNumber(f float64) (value.Value, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	v, err := r.vm.MakeNumber(f)
	if err != nil {
		return 0, r.fatal(err)
	}
	return v, nil
}

// NewString allocates a heap string holding s's UTF-8 bytes.
func (r *Runtime) NewString(s string) (value.Value, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	v, err := r.vm.NewString(s)
	if err != nil {
		return 0, r.fatal(err)
	}
	return v, nil
}
