package policy

import (
	"context"
	"fmt"

	"github.com/gatehouse-dev/gatehouse/pkg/identity"
	"github.com/gatehouse-dev/gatehouse/pkg/orgs"
	"github.com/gatehouse-dev/gatehouse/pkg/relmodel"
)

// DefaultPublicTables enumerates the resource types readable by any
// principal. This list is deliberately explicit: public visibility is an
// opt-in property of a table, never inferred.
func DefaultPublicTables() map[string]bool {
	return map[string]bool{
		"organizations":  true,
		"artifacts":      true,
		"reference_data": true,
	}
}

// managementTables hold membership, settings, and invitation rows; writes to
// them are organization management rather than content authoring
var managementTables = map[string]bool{
	"memberships":     true,
	"organizations":   true,
	"org_invitations": true,
}

// Evaluator decides whether an operation on a resource is allowed for a
// principal. It is stateless apart from its injected configuration and safe
// for concurrent use.
type Evaluator struct {
	model          *relmodel.Model
	memberships    MembershipLookup
	publicTables   map[string]bool
	adminImmutable map[string]bool
}

// NewEvaluator creates an evaluator over the given relationship model and
// membership lookup
func NewEvaluator(model *relmodel.Model, memberships MembershipLookup) *Evaluator {
	return &Evaluator{
		model:          model,
		memberships:    memberships,
		publicTables:   DefaultPublicTables(),
		adminImmutable: model.AdminImmutableTables(),
	}
}

// WithPublicTables overrides the enumerated public-read table set
func (e *Evaluator) WithPublicTables(tables map[string]bool) *Evaluator {
	clone := *e
	clone.publicTables = tables
	return &clone
}

// WithMembershipLookup returns an evaluator bound to a different membership
// lookup, typically one scoped to the caller's transaction
func (e *Evaluator) WithMembershipLookup(memberships MembershipLookup) *Evaluator {
	clone := *e
	clone.memberships = memberships
	return &clone
}

// Evaluate returns the decision for (principal, resource, operation). The
// only hard errors are an unresolved principal, a malformed resource, and a
// failed membership lookup; denial is a Decision value.
func (e *Evaluator) Evaluate(ctx context.Context, principal *identity.Principal, res Resource, op Operation) (Decision, error) {
	if principal == nil || principal.ID == 0 {
		return Decision{}, identity.ErrIdentityNotResolved
	}
	if !op.Valid() {
		return Decision{}, fmt.Errorf("unknown operation %q", op)
	}
	if res.OwnerPrincipalID != nil && res.OrganizationID != nil {
		return Decision{}, fmt.Errorf("resource %s/%d has both a principal and an organization owner", res.Table, res.ID)
	}

	decision, err := e.evaluate(ctx, principal, res, op)
	if err != nil {
		return Decision{}, err
	}
	recordDecision(op, decision.Reason)
	return decision, nil
}

func (e *Evaluator) evaluate(ctx context.Context, principal *identity.Principal, res Resource, op Operation) (Decision, error) {
	// Step 1: service bypass. Background jobs operate without an
	// organization or ownership context.
	if principal.IsService {
		return allow(ReasonServiceBypass), nil
	}

	// Step 2: system-admin override. Read and manage always; write and
	// delete unless the table is admin-immutable, in which case evaluation
	// continues down the chain.
	if principal.Role == identity.SystemRoleAdmin {
		switch op {
		case OperationRead, OperationManage:
			return allow(ReasonSystemAdmin), nil
		case OperationWrite, OperationDelete:
			if !e.adminImmutable[res.Table] {
				return allow(ReasonSystemAdmin), nil
			}
		}
	}

	// Step 3: ownership of personal records.
	if res.OwnerPrincipalID != nil && *res.OwnerPrincipalID == principal.ID {
		switch op {
		case OperationRead, OperationWrite:
			return allow(ReasonOwner), nil
		case OperationDelete:
			if res.Mutable {
				return allow(ReasonOwner), nil
			}
			// Ownership alone no longer grants delete once the record has
			// left its mutable state.
			return deny(ReasonDeniedImmutableState), nil
		}
	}

	// Step 4: organization membership.
	if res.OrganizationID != nil {
		membership, err := e.memberships.ActiveMembership(ctx, *res.OrganizationID, principal.ID)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to look up membership: %w", err)
		}
		if membership == nil {
			return e.publicFallback(res, op, ReasonDeniedNoMembership), nil
		}
		if decision, matched := evaluateOrgRole(membership, res, op); matched {
			return decision, nil
		}
		return e.publicFallback(res, op, ReasonDeniedInsufficientRole), nil
	}

	// Step 5/6: no ownership context at all.
	return e.publicFallback(res, op, ReasonDeniedDefault), nil
}

// evaluateOrgRole applies the role thresholds for organization-owned
// resources. It returns matched=false when the membership grants nothing, so
// the public fallback can still apply.
func evaluateOrgRole(m *orgs.Membership, res Resource, op Operation) (Decision, bool) {
	switch op {
	case OperationRead:
		if res.Lifecycle == LifecyclePublished {
			return allow(ReasonOrgRole), true
		}
		// Non-published state is working material for authors and up.
		if m.Role.AtLeast(orgs.RoleProtocolAuthor) {
			return allow(ReasonOrgRole), true
		}
		return Decision{}, false

	case OperationWrite:
		if managementTables[res.Table] {
			if m.Role.AtLeast(orgs.RoleAdmin) {
				return allow(ReasonOrgRole), true
			}
			return Decision{}, false
		}
		// Changing an already-published record is a publication state
		// concern, held to the admin threshold.
		required := orgs.RoleProtocolAuthor
		if res.Lifecycle == LifecyclePublished {
			required = orgs.RoleAdmin
		}
		if m.Role.AtLeast(required) {
			return allow(ReasonOrgRole), true
		}
		return Decision{}, false

	case OperationDelete, OperationManage:
		if m.Role.AtLeast(orgs.RoleAdmin) {
			return allow(ReasonOrgRole), true
		}
		return Decision{}, false
	}
	return Decision{}, false
}

// publicFallback allows read on the enumerated public tables; everything
// else gets the pending denial
func (e *Evaluator) publicFallback(res Resource, op Operation, denial ReasonCode) Decision {
	if op == OperationRead && e.publicTables[res.Table] {
		if res.Lifecycle == LifecycleNone || res.Lifecycle == LifecyclePublished {
			return allow(ReasonPublicRead)
		}
	}
	return deny(denial)
}
