package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/diwise/field-sync/pkg/records"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/open-policy-agent/opa/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("field-sync/api/authz")

var ErrAccessDenied = errors.New("authorization failed")

const (
	ActionRead  string = "read"
	ActionWrite string = "write"
	ActionAdmin string = "admin"
)

// Access describes what a request wants to do with the local records. It is
// handed to the policies as input together with the method, path and token.
type Access struct {
	Action      string
	RecordTypes []string
	// Operations holds the distinct operation names of a transform
	Operations []string
	LocalOnly  bool
	// Command names the admin command, such as halt or purge
	Command string
}

// Read asks for access to records of the given types
func Read(recordTypes ...string) Access {
	return Access{Action: ActionRead, RecordTypes: recordTypes}
}

// Write asks for access to every record type a transform touches, with the
// operations it performs
func Write(t *records.Transform) Access {
	a := Access{Action: ActionWrite, LocalOnly: t.Options.LocalOnly}

	for _, op := range t.Operations {
		if recordType := op.Target().Type; !slices.Contains(a.RecordTypes, recordType) {
			a.RecordTypes = append(a.RecordTypes, recordType)
		}
		if name := records.OpName(op); !slices.Contains(a.Operations, name) {
			a.Operations = append(a.Operations, name)
		}
	}

	return a
}

// Admin asks for access to an admin command
func Admin(command string) Access {
	return Access{Action: ActionAdmin, Command: command}
}

type Enticator interface {
	CheckAccess(ctx context.Context, r *http.Request, access Access) error
}

type enticatorImpl struct {
	preparedQuery rego.PreparedEvalQuery
}

func NewAuthenticator(ctx context.Context, policies io.Reader) (Enticator, error) {
	module, err := io.ReadAll(policies)
	if err != nil {
		return nil, fmt.Errorf("unable to read authz policies: %s", err.Error())
	}

	impl := &enticatorImpl{}

	impl.preparedQuery, err = rego.New(
		rego.Query("x = data.example.authz.allow"),
		rego.Module("example.rego", string(module)),
	).PrepareForEval(ctx)

	if err != nil {
		return nil, err
	}

	return impl, nil
}

func (e *enticatorImpl) CheckAccess(ctx context.Context, r *http.Request, access Access) (err error) {
	ctx, span := tracer.Start(ctx, "check-auth", trace.WithAttributes(
		attribute.String("action", access.Action),
		attribute.StringSlice("types", access.RecordTypes),
	))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	results, err := e.preparedQuery.Eval(ctx, rego.EvalInput(input(r, access)))
	if err != nil {
		return fmt.Errorf("opa eval failed: %w", err)
	}

	if len(results) == 0 {
		return fmt.Errorf("auth failed: opa query could not be satisfied")
	}

	switch binding := results[0].Bindings["x"].(type) {
	case bool:
		// a denied request yields the default value
		if !binding {
			return fmt.Errorf("%s of %s denied (%w)", access.Action, strings.Join(access.RecordTypes, ","), ErrAccessDenied)
		}
		return nil
	case map[string]any:
		return nil
	}

	return errors.New("opa error: unexpected result type")
}

func input(r *http.Request, access Access) map[string]any {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	types := access.RecordTypes
	if types == nil {
		types = []string{}
	}

	operations := access.Operations
	if operations == nil {
		operations = []string{}
	}

	return map[string]any{
		"method":     r.Method,
		"path":       strings.Split(strings.Trim(r.URL.Path, "/"), "/"),
		"token":      token,
		"action":     access.Action,
		"types":      types,
		"operations": operations,
		"localOnly":  access.LocalOnly,
		"command":    access.Command,
	}
}
