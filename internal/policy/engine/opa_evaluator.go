package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"warehouse-service/backend/internal/session/domain"
)

const conflictQuery = "data.warehouse.manifest_access.conflict"

// DefaultConflictPolicy mirrors domain.ClassifyConflict. Credential equality is computed by the
// caller and passed in as input.same_credentials so token digests never enter the policy input.
const DefaultConflictPolicy = `package warehouse.manifest_access

default conflict := "none"

same_user if {
	lower(trim_space(input.holder.username)) == lower(trim_space(input.caller.username))
}

conflict := "different_user" if {
	input.holder.present
	not same_user
}

conflict := "same_user" if {
	input.holder.present
	same_user
	not input.same_credentials
}
`

// OPAEvaluator classifies manifest conflicts using an OPA Rego policy prepared once at construction.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
	log   *slog.Logger
}

// NewOPAEvaluator compiles module (DefaultConflictPolicy when empty) and prepares the conflict query.
// Returns an error if the module does not compile.
func NewOPAEvaluator(ctx context.Context, module string, logger *slog.Logger) (*OPAEvaluator, error) {
	if strings.TrimSpace(module) == "" {
		module = DefaultConflictPolicy
	}
	if logger == nil {
		logger = slog.Default()
	}
	compiler, err := ast.CompileModules(map[string]string{"manifest_access.rego": module})
	if err != nil {
		return nil, fmt.Errorf("compile conflict policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(conflictQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare conflict policy: %w", err)
	}
	return &OPAEvaluator{query: pq, log: logger.With("component", "conflict_policy")}, nil
}

// Classify evaluates the policy. Evaluation errors and unknown results fall back to domain.ClassifyConflict.
func (e *OPAEvaluator) Classify(ctx context.Context, holder *domain.Session, caller domain.Caller) domain.ConflictType {
	native := domain.ClassifyConflict(holder, caller)
	if holder == nil {
		return native
	}
	got, err := e.eval(ctx, buildInput(holder, caller, native))
	if err != nil {
		e.log.Warn("conflict policy evaluation failed, using built-in classification", "error", err)
		return native
	}
	return got
}

// HealthCheck evaluates the prepared policy against a fixed different-user input.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	input := map[string]interface{}{
		"holder":           map[string]interface{}{"present": true, "username": "a"},
		"caller":           map[string]interface{}{"username": "b"},
		"same_credentials": false,
	}
	got, err := e.eval(ctx, input)
	if err != nil {
		return err
	}
	if got != domain.ConflictDifferentUser {
		return fmt.Errorf("conflict policy health input returned %q", got)
	}
	return nil
}

func (e *OPAEvaluator) eval(ctx context.Context, input map[string]interface{}) (domain.ConflictType, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("eval conflict policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return "", errors.New("conflict policy returned no result")
	}
	s, ok := rs[0].Expressions[0].Value.(string)
	if !ok {
		return "", fmt.Errorf("conflict policy returned %T, want string", rs[0].Expressions[0].Value)
	}
	switch ct := domain.ConflictType(s); ct {
	case domain.ConflictNone, domain.ConflictSameUser, domain.ConflictDifferentUser:
		return ct, nil
	}
	return "", fmt.Errorf("conflict policy returned unknown type %q", s)
}

func buildInput(holder *domain.Session, caller domain.Caller, native domain.ConflictType) map[string]interface{} {
	// native is none only when usernames and both digests match.
	sameCredentials := native == domain.ConflictNone
	holderMap := map[string]interface{}{
		"present":    true,
		"username":   holder.Username,
		"session_id": holder.ID,
	}
	if r, ok := holder.Resource(); ok {
		holderMap["powerunit"] = r.PowerUnit
		holderMap["manifest_date"] = r.ManifestDate
	}
	return map[string]interface{}{
		"holder":           holderMap,
		"caller":           map[string]interface{}{"username": caller.Username},
		"same_credentials": sameCredentials,
	}
}
