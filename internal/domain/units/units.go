package units

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownUnit  = errors.New("unknown unit")
	ErrIncompatible = errors.New("units belong to different groups")
)

type Group string

const (
	GroupMass   Group = "mass"
	GroupVolume Group = "volume"
	GroupCount  Group = "count"
)

// Unit is one row of the conversion table. ToBase is the factor that turns a
// quantity in this unit into the group's base unit (grams, millilitres, pieces).
type Unit struct {
	Code    string
	Group   Group
	ToBase  decimal.Decimal
	Aliases []string
	Active  bool
}

// Builtin returns the default unit table used when an organization has not
// configured its own.
func Builtin() []Unit {
	return []Unit{
		{Code: "mg", Group: GroupMass, ToBase: decimal.NewFromFloat(0.001), Aliases: []string{"milligram"}, Active: true},
		{Code: "g", Group: GroupMass, ToBase: decimal.NewFromInt(1), Aliases: []string{"gram"}, Active: true},
		{Code: "kg", Group: GroupMass, ToBase: decimal.NewFromInt(1000), Aliases: []string{"kilogram"}, Active: true},
		{Code: "mL", Group: GroupVolume, ToBase: decimal.NewFromInt(1), Aliases: []string{"ml", "millilitre", "milliliter"}, Active: true},
		{Code: "L", Group: GroupVolume, ToBase: decimal.NewFromInt(1000), Aliases: []string{"l", "litre", "liter"}, Active: true},
		{Code: "pcs", Group: GroupCount, ToBase: decimal.NewFromInt(1), Aliases: []string{"pc", "piece", "ea"}, Active: true},
	}
}

// Table is an immutable unit lookup built once at startup: the builtin seed
// merged with organization-defined units. Organization units override builtins
// on exact code or alias match, case-insensitive.
type Table struct {
	units map[string]Unit // canonical code (lower-cased) -> unit
	byKey map[string]string
}

func NewTable(overrides []Unit) *Table {
	t := &Table{units: map[string]Unit{}, byKey: map[string]string{}}
	for _, u := range Builtin() {
		t.add(u)
	}
	for _, u := range overrides {
		t.add(u)
	}
	return t
}

func (t *Table) add(u Unit) {
	key := strings.ToLower(u.Code)
	if !u.Active {
		// An inactive override removes the unit and its aliases from lookup.
		if prev, ok := t.units[key]; ok {
			for _, a := range prev.Aliases {
				delete(t.byKey, strings.ToLower(a))
			}
			delete(t.byKey, key)
			delete(t.units, key)
		}
		return
	}
	t.units[key] = u
	t.byKey[key] = key
	for _, a := range u.Aliases {
		t.byKey[strings.ToLower(a)] = key
	}
}

// Resolve maps a code or alias to its unit, case-insensitive.
func (t *Table) Resolve(code string) (Unit, error) {
	key, ok := t.byKey[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return Unit{}, fmt.Errorf("%w: %q", ErrUnknownUnit, code)
	}
	return t.units[key], nil
}

// Convert re-expresses v from one unit into another within the same group.
func (t *Table) Convert(v decimal.Decimal, from, to string) (decimal.Decimal, error) {
	fu, err := t.Resolve(from)
	if err != nil {
		return decimal.Zero, err
	}
	tu, err := t.Resolve(to)
	if err != nil {
		return decimal.Zero, err
	}
	if fu.Group != tu.Group {
		return decimal.Zero, fmt.Errorf("%w: %s is %s, %s is %s", ErrIncompatible, fu.Code, fu.Group, tu.Code, tu.Group)
	}
	return v.Mul(fu.ToBase).Div(tu.ToBase), nil
}

// ToBase normalizes v into the group's base unit and reports which unit the
// code resolved to.
func (t *Table) ToBase(v decimal.Decimal, code string) (decimal.Decimal, Unit, error) {
	u, err := t.Resolve(code)
	if err != nil {
		return decimal.Zero, Unit{}, err
	}
	return v.Mul(u.ToBase), u, nil
}

// All returns every active unit, sorted by group then ascending factor.
func (t *Table) All() []Unit {
	out := make([]Unit, 0, len(t.units))
	for _, u := range t.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].ToBase.Cmp(out[j].ToBase) < 0
	})
	return out
}

// Compatible returns every active unit sharing the group of code, sorted by
// ascending factor.
func (t *Table) Compatible(code string) ([]Unit, error) {
	u, err := t.Resolve(code)
	if err != nil {
		return nil, err
	}
	var out []Unit
	for _, cand := range t.units {
		if cand.Group == u.Group {
			out = append(out, cand)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToBase.Cmp(out[j].ToBase) < 0 })
	return out, nil
}
