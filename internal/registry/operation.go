package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/rescuebox/rescuebox/internal/schema"
)

// Request is the body of a submit command: the raw inputs and parameters
// objects, decoded against the operation's types on every call.
type Request struct {
	Inputs     json.RawMessage `json:"inputs"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// Operation describes one typed operation a plugin exposes. I is the inputs
// record and P the parameters record; use schema.NoParameters when the
// operation takes none.
type Operation[I, P any] struct {
	Rule       string
	ShortTitle string
	Order      int
	Help       string
	TaskSchema func() schema.TaskSchema
	Handler    func(ctx context.Context, w io.Writer, inputs I, parameters P) (any, error)

	// Optional positional argument parsers for the command line.
	ParseInputs     func(args []string) (I, error)
	ParseParameters func(args []string) (P, error)
}

// DynamicOperation is an operation without Go record types. Its payloads
// are checked against the task schema on every call.
type DynamicOperation struct {
	Rule       string
	ShortTitle string
	Order      int
	Help       string
	TaskSchema func() schema.TaskSchema
	Handler    func(ctx context.Context, w io.Writer, req Request) (any, error)
}

// Register validates op against its task schema and adds it to r. Nothing
// is registered when validation fails.
func Register[I, P any](r *Registry, op Operation[I, P]) error {
	wrap := func(err error) error {
		return &RegistrationError{Plugin: r.Prefix(), Rule: op.Rule, Err: err}
	}
	if op.Handler == nil {
		return wrap(errors.New("handler is required"))
	}
	if op.TaskSchema == nil {
		return wrap(errors.New("task schema function is required"))
	}
	if err := schema.Validate(reflect.TypeFor[I](), reflect.TypeFor[P](), op.TaskSchema()); err != nil {
		return wrap(err)
	}

	e := &entry{
		rule:       op.Rule,
		shortTitle: op.ShortTitle,
		order:      op.Order,
		help:       op.Help,
		taskSchema: op.TaskSchema,
		invoke: func(ctx context.Context, w io.Writer, req Request) (any, error) {
			inputs, params, err := decodeRequest[I, P](op.TaskSchema(), req)
			if err != nil {
				return nil, err
			}
			return op.Handler(ctx, w, inputs, params)
		},
	}
	if op.ParseInputs != nil {
		e.parseArgs = func(inputArgs, paramArgs []string) (Request, error) {
			return typedArgs(op, inputArgs, paramArgs)
		}
	}
	return r.add(e)
}

// RegisterDynamic adds an operation whose record types are only known from
// its task schema.
func RegisterDynamic(r *Registry, op DynamicOperation) error {
	wrap := func(err error) error {
		return &RegistrationError{Plugin: r.Prefix(), Rule: op.Rule, Err: err}
	}
	if op.Handler == nil {
		return wrap(errors.New("handler is required"))
	}
	if op.TaskSchema == nil {
		return wrap(errors.New("task schema function is required"))
	}
	ts := op.TaskSchema()
	sample := schema.SamplePayload(ts)
	if err := checkBody(ts, sample); err != nil {
		return wrap(fmt.Errorf("task schema is not self-consistent: %w", err))
	}

	return r.add(&entry{
		rule:       op.Rule,
		shortTitle: op.ShortTitle,
		order:      op.Order,
		help:       op.Help,
		taskSchema: op.TaskSchema,
		invoke: func(ctx context.Context, w io.Writer, req Request) (any, error) {
			if err := schema.CheckPayload(op.TaskSchema(), req.Inputs, req.Parameters); err != nil {
				return nil, err
			}
			return op.Handler(ctx, w, req)
		},
	})
}

// MustRegister is Register for plugin setup code: it panics on error.
func MustRegister[I, P any](r *Registry, op Operation[I, P]) {
	if err := Register(r, op); err != nil {
		panic(err)
	}
}

func decodeRequest[I, P any](ts schema.TaskSchema, req Request) (I, P, error) {
	var inputs I
	var params P
	if err := schema.CheckPayload(ts, req.Inputs, req.Parameters); err != nil {
		return inputs, params, err
	}
	if err := decodeRecord(req.Inputs, &inputs); err != nil {
		return inputs, params, &schema.PayloadError{Section: schema.SectionInputs, Detail: err.Error()}
	}
	if err := decodeRecord(req.Parameters, &params); err != nil {
		return inputs, params, &schema.PayloadError{Section: schema.SectionParameters, Detail: err.Error()}
	}
	return inputs, params, nil
}

func decodeRecord(raw json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func checkBody(ts schema.TaskSchema, body schema.RequestBody) error {
	inputs, err := json.Marshal(body.Inputs)
	if err != nil {
		return err
	}
	params, err := json.Marshal(body.Parameters)
	if err != nil {
		return err
	}
	return schema.CheckPayload(ts, inputs, params)
}

// typedArgs runs the operation's positional parsers and encodes the result
// as a request. Parameters fall back to the schema defaults when the
// operation has no parameter parser.
func typedArgs[I, P any](op Operation[I, P], inputArgs, paramArgs []string) (Request, error) {
	inputs, err := op.ParseInputs(inputArgs)
	if err != nil {
		return Request{}, fmt.Errorf("parse inputs: %w", err)
	}
	rawInputs, err := json.Marshal(inputs)
	if err != nil {
		return Request{}, err
	}

	var params any
	if op.ParseParameters != nil {
		p, err := op.ParseParameters(paramArgs)
		if err != nil {
			return Request{}, fmt.Errorf("parse parameters: %w", err)
		}
		params = p
	} else {
		if len(paramArgs) > 0 {
			return Request{}, fmt.Errorf("%s takes no parameter arguments, got %s", op.Rule, strings.Join(paramArgs, " "))
		}
		params = schema.DefaultParameters(op.TaskSchema())
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return Request{}, err
	}
	return Request{Inputs: rawInputs, Parameters: rawParams}, nil
}
