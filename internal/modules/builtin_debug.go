package modules

import (
	"context"
	"fmt"
)

// Debug prints a message or a variable's value, used to exercise the
// LocalLogic classification: it never touches a connection.
type Debug struct {
	Base
}

// NewDebug constructs the debug module.
func NewDebug() *Debug {
	return &Debug{Base: Base{
		ModuleName:           "debug",
		ModuleDescription:    "print statements during execution",
		ModuleClassification: LocalLogic,
		Hint:                 ParallelizationHint{Kind: FullyParallel},
		Optional:             map[string]any{"msg": "Hello world!", "var": nil},
	}}
}

func (d *Debug) ValidateParams(args map[string]any) error {
	return nil
}

func (d *Debug) Execute(ctx context.Context, args map[string]any, mctx Context) (Output, error) {
	if v, ok := args["var"]; ok {
		name, _ := v.(string)
		value, found := mctx.Vars[name]
		if !found {
			value = fmt.Sprintf("VARIABLE IS NOT DEFINED: %s", name)
		}
		return Output{
			Changed: false,
			Status:  StatusOk,
			Data:    map[string]any{name: value},
		}, nil
	}

	msg := "Hello world!"
	if v, ok := args["msg"]; ok {
		msg = fmt.Sprint(v)
	}
	return Output{Changed: false, Status: StatusOk, Msg: msg}, nil
}

func (d *Debug) Check(ctx context.Context, args map[string]any, mctx Context) (Output, error) {
	return CheckViaExecute(ctx, args, mctx, d.Execute)
}
