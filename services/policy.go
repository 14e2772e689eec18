package services

import (
	"fmt"
	"slices"
	"strings"

	"ward-backend/models"
)

// Op names an authorized operation.
type Op string

const (
	OpAdmit      Op = "admit"
	OpTransfer   Op = "transfer"
	OpCheckout   Op = "checkout"
	OpReserve    Op = "reserve"
	OpRoomCreate Op = "room.create"
	OpRoomUpdate Op = "room.update"
	OpRoomDelete Op = "room.delete"
	OpRoomAudit  Op = "room.audit"
	OpRegister   Op = "user.register"

	opLogin Op = "login"
	opRead  Op = "read"
)

// Ops lists the operations a Policy can be configured for.
var Ops = []Op{OpAdmit, OpTransfer, OpCheckout, OpReserve, OpRoomCreate, OpRoomUpdate, OpRoomDelete, OpRoomAudit, OpRegister}

// Policy maps each operation to the roles allowed to run it. One table
// governs all allocation operations; an empty role list admits any
// authenticated caller.
type Policy struct {
	rules map[Op][]string
}

func DefaultPolicy() Policy {
	staff := []string{models.RoleAdmin, models.RoleDoctor}
	return Policy{rules: map[Op][]string{
		OpAdmit:      staff,
		OpTransfer:   staff,
		OpCheckout:   staff,
		OpReserve:    staff,
		OpRoomCreate: staff,
		OpRoomUpdate: staff,
		OpRoomDelete: staff,
		OpRoomAudit:  {models.RoleAdmin},
		OpRegister:   {models.RoleAdmin},
	}}
}

// NewPolicy starts from DefaultPolicy and applies overrides keyed by op
// name, e.g. {"checkout": {"admin", "doctor", "nurse"}}. An op not in Ops
// is rejected.
func NewPolicy(overrides map[string][]string) (Policy, error) {
	p := DefaultPolicy()
	for op, roles := range overrides {
		if !slices.Contains(Ops, Op(op)) {
			return Policy{}, fmt.Errorf("unknown authz operation %q", op)
		}
		p = p.With(Op(op), roles...)
	}
	return p, nil
}

// With returns a copy of p with op restricted to roles.
func (p Policy) With(op Op, roles ...string) Policy {
	rules := make(map[Op][]string, len(p.rules)+1)
	for k, v := range p.rules {
		rules[k] = v
	}
	normalized := make([]string, 0, len(roles))
	for _, r := range roles {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			normalized = append(normalized, r)
		}
	}
	rules[op] = normalized
	return Policy{rules: rules}
}

func (p Policy) Roles(op Op) []string {
	return append([]string(nil), p.rules[op]...)
}

func (p Policy) Authorize(op Op, role string) error {
	roles := p.rules[op]
	if len(roles) == 0 {
		return nil
	}
	role = strings.ToLower(role)
	for _, r := range roles {
		if r == role {
			return nil
		}
	}
	return newError(KindForbidden, op, "access denied, insufficient role", nil)
}
