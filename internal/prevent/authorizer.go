package prevent

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
)

// Authorizer answers whether a prevent-first action may execute. Callers
// treat any error as a denial.
type Authorizer interface {
	Authorize(ctx context.Context, input map[string]any) (bool, error)
}

// RegoAuthorizer evaluates action authorization against a prepared Rego
// query, e.g. data.aslo.authz.allow.
type RegoAuthorizer struct {
	prepared rego.PreparedEvalQuery
}

// NewRegoAuthorizer compiles an inline Rego module and prepares the
// query once; evaluation afterwards is allocation-light and safe for
// concurrent use.
func NewRegoAuthorizer(ctx context.Context, query, module string) (*RegoAuthorizer, error) {
	prepared, err := rego.New(
		rego.Query(query),
		rego.Module("authz.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prevent: prepare policy: %w", err)
	}
	return &RegoAuthorizer{prepared: prepared}, nil
}

// NewRegoAuthorizerFromFile loads policy files from disk.
func NewRegoAuthorizerFromFile(ctx context.Context, query string, paths ...string) (*RegoAuthorizer, error) {
	prepared, err := rego.New(
		rego.Query(query),
		rego.Load(paths, nil),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prevent: load policy: %w", err)
	}
	return &RegoAuthorizer{prepared: prepared}, nil
}

// Authorize implements Authorizer.
func (a *RegoAuthorizer) Authorize(ctx context.Context, input map[string]any) (bool, error) {
	results, err := a.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("prevent: policy eval: %w", err)
	}
	return results.Allowed(), nil
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, input map[string]any) (bool, error)

// Authorize implements Authorizer.
func (f AuthorizerFunc) Authorize(ctx context.Context, input map[string]any) (bool, error) {
	return f(ctx, input)
}
