package harness

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/vaultharness/internal/chain"
)

// Evaluator computes scenario expressions. The grammar is a subset of Go
// expression syntax:
//
//	500e18                      integer literal, scientific notation allowed
//	amount, user, vault         variable, then bound name
//	a + b, a * (b - c), a / b   big integer arithmetic, truncating division
//	a < b, a == b               comparisons, yielding bools
//	strategy.balanceOfWant()    view call on a bound contract
//	units(10), max_uint256()    builtins
//
// Values are *big.Int, common.Address, bool or string. View calls in
// expressions are not traced.
type Evaluator struct {
	ctx       context.Context
	vars      map[string]any
	names     map[string]common.Address
	contracts map[string]*chain.Contract
	unit      *big.Int
}

// NewEvaluator creates an evaluator over the given bindings. unit is
// 10^decimals of the want token, used by units().
func NewEvaluator(ctx context.Context, names map[string]common.Address, contracts map[string]*chain.Contract, unit *big.Int) *Evaluator {
	return &Evaluator{
		ctx:       ctx,
		vars:      make(map[string]any),
		names:     names,
		contracts: contracts,
		unit:      unit,
	}
}

// Set binds a variable. Names already bound to an address cannot be
// shadowed.
func (ev *Evaluator) Set(name string, v any) error {
	if _, ok := ev.names[name]; ok {
		return fmt.Errorf("cannot assign to %q: it names an address", name)
	}
	if !token.IsIdentifier(name) {
		return fmt.Errorf("%q is not a valid variable name", name)
	}
	ev.vars[name] = v
	return nil
}

// bindContract registers a handle and its address under name.
func (ev *Evaluator) bindContract(name string, c *chain.Contract) {
	ev.names[name] = c.Address
	ev.contracts[name] = c
}

// Eval parses and evaluates src.
func (ev *Evaluator) Eval(src string) (any, error) {
	node, err := parser.ParseExpr(src)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", src, err)
	}
	v, err := ev.eval(node)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", src, err)
	}
	return v, nil
}

// EvalInt evaluates src and requires an integer.
func (ev *Evaluator) EvalInt(src string) (*big.Int, error) {
	v, err := ev.Eval(src)
	if err != nil {
		return nil, err
	}
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%q is %s, not an integer", src, typeName(v))
	}
	return n, nil
}

// EvalAddress evaluates src and requires an address.
func (ev *Evaluator) EvalAddress(src string) (common.Address, error) {
	v, err := ev.Eval(src)
	if err != nil {
		return common.Address{}, err
	}
	addr, err := toAddress(v)
	if err != nil {
		return common.Address{}, fmt.Errorf("%q: %w", src, err)
	}
	return addr, nil
}

func (ev *Evaluator) eval(n ast.Expr) (any, error) {
	switch n := n.(type) {
	case *ast.BasicLit:
		return literal(n)
	case *ast.Ident:
		return ev.ident(n.Name)
	case *ast.ParenExpr:
		return ev.eval(n.X)
	case *ast.UnaryExpr:
		x, err := ev.evalInt(n.X)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case token.SUB:
			return new(big.Int).Neg(x), nil
		case token.ADD:
			return x, nil
		}
		return nil, fmt.Errorf("unsupported unary operator %s", n.Op)
	case *ast.BinaryExpr:
		return ev.binary(n)
	case *ast.CallExpr:
		return ev.call(n)
	}
	return nil, fmt.Errorf("unsupported expression %T", n)
}

func (ev *Evaluator) evalInt(n ast.Expr) (*big.Int, error) {
	v, err := ev.eval(n)
	if err != nil {
		return nil, err
	}
	x, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("operand is %s, not an integer", typeName(v))
	}
	return x, nil
}

func literal(n *ast.BasicLit) (any, error) {
	switch n.Kind {
	case token.INT:
		x, ok := new(big.Int).SetString(n.Value, 0)
		if !ok {
			return nil, fmt.Errorf("bad integer literal %s", n.Value)
		}
		return x, nil
	case token.FLOAT:
		r, ok := new(big.Rat).SetString(n.Value)
		if !ok {
			return nil, fmt.Errorf("bad number literal %s", n.Value)
		}
		if !r.IsInt() {
			return nil, fmt.Errorf("%s is not an integer", n.Value)
		}
		return new(big.Int).Set(r.Num()), nil
	case token.STRING:
		s, err := strconv.Unquote(n.Value)
		if err != nil {
			return nil, fmt.Errorf("bad string literal %s: %w", n.Value, err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported literal %s", n.Value)
}

func (ev *Evaluator) ident(name string) (any, error) {
	switch name {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if v, ok := ev.vars[name]; ok {
		if n, ok := v.(*big.Int); ok {
			return new(big.Int).Set(n), nil
		}
		return v, nil
	}
	if addr, ok := ev.names[name]; ok {
		return addr, nil
	}
	return nil, fmt.Errorf("undefined: %s", name)
}

func (ev *Evaluator) binary(n *ast.BinaryExpr) (any, error) {
	switch n.Op {
	case token.EQL, token.NEQ:
		x, err := ev.eval(n.X)
		if err != nil {
			return nil, err
		}
		y, err := ev.eval(n.Y)
		if err != nil {
			return nil, err
		}
		eq := valuesEqual(x, y)
		if n.Op == token.NEQ {
			return !eq, nil
		}
		return eq, nil
	}

	x, err := ev.evalInt(n.X)
	if err != nil {
		return nil, err
	}
	y, err := ev.evalInt(n.Y)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case token.ADD:
		return new(big.Int).Add(x, y), nil
	case token.SUB:
		return new(big.Int).Sub(x, y), nil
	case token.MUL:
		return new(big.Int).Mul(x, y), nil
	case token.QUO, token.REM:
		if y.Sign() == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		if n.Op == token.QUO {
			return new(big.Int).Quo(x, y), nil
		}
		return new(big.Int).Rem(x, y), nil
	case token.LSS:
		return x.Cmp(y) < 0, nil
	case token.GTR:
		return x.Cmp(y) > 0, nil
	case token.LEQ:
		return x.Cmp(y) <= 0, nil
	case token.GEQ:
		return x.Cmp(y) >= 0, nil
	}
	return nil, fmt.Errorf("unsupported operator %s", n.Op)
}

func (ev *Evaluator) call(n *ast.CallExpr) (any, error) {
	args := make([]any, len(n.Args))
	for i, a := range n.Args {
		v, err := ev.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch fn := n.Fun.(type) {
	case *ast.Ident:
		return ev.builtin(fn.Name, args)
	case *ast.SelectorExpr:
		target, ok := fn.X.(*ast.Ident)
		if !ok {
			return nil, fmt.Errorf("view call target must be a name")
		}
		return ev.view(target.Name, fn.Sel.Name, args)
	}
	return nil, fmt.Errorf("unsupported call")
}

func (ev *Evaluator) builtin(name string, args []any) (any, error) {
	switch name {
	case "units":
		if len(args) != 1 {
			return nil, fmt.Errorf("units takes 1 argument, got %d", len(args))
		}
		x, ok := args[0].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("units: argument is %s, not an integer", typeName(args[0]))
		}
		return new(big.Int).Mul(x, ev.unit), nil
	case "max_uint256":
		if len(args) != 0 {
			return nil, fmt.Errorf("max_uint256 takes no arguments")
		}
		return chain.MaxUint256(), nil
	}
	return nil, fmt.Errorf("unknown function %s", name)
}

// view runs a read-only method and returns its first output.
func (ev *Evaluator) view(target, method string, args []any) (any, error) {
	c, err := ev.contract(target)
	if err != nil {
		return nil, err
	}
	packed, err := coerceArgs(c, method, args)
	if err != nil {
		return nil, err
	}
	out, err := c.Call(ev.ctx, method, packed...)
	if err != nil {
		return nil, err
	}
	return firstOutput(target+"."+method, out)
}

func (ev *Evaluator) contract(name string) (*chain.Contract, error) {
	c, ok := ev.contracts[name]
	if !ok {
		return nil, fmt.Errorf("no contract bound as %q", name)
	}
	return c, nil
}

// render formats a value for the trace. Addresses print as their bound
// name when one exists.
func (ev *Evaluator) render(v any) string {
	switch v := v.(type) {
	case *big.Int:
		return v.String()
	case common.Address:
		for name, addr := range ev.names {
			if addr == v && ev.preferredName(name, v) {
				return name
			}
		}
		return v.Hex()
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	}
	return fmt.Sprint(v)
}

// preferredName picks one name deterministically when several names share
// an address: the lexically smallest.
func (ev *Evaluator) preferredName(name string, addr common.Address) bool {
	for other, a := range ev.names {
		if a == addr && other < name {
			return false
		}
	}
	return true
}

func (ev *Evaluator) renderAll(vs []any) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = ev.render(v)
	}
	return out
}

// coerceArgs converts evaluated values to the Go types the ABI packer
// expects for method's inputs.
func coerceArgs(c *chain.Contract, method string, args []any) ([]any, error) {
	m, err := chain.ResolveMethod(c.ABI, method, len(args))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name, err)
	}
	out := make([]any, len(args))
	for i, in := range m.Inputs {
		v, err := coerce(in.Type, args[i])
		if err != nil {
			return nil, fmt.Errorf("%s.%s argument %d (%s): %w", c.Name, method, i, in.Name, err)
		}
		out[i] = v
	}
	return out, nil
}

func coerce(t abi.Type, v any) (any, error) {
	switch t.T {
	case abi.AddressTy:
		return toAddress(v)
	case abi.BoolTy:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("want bool, got %s", typeName(v))
		}
		return b, nil
	case abi.StringTy:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %s", typeName(v))
		}
		return s, nil
	case abi.UintTy, abi.IntTy:
		n, ok := v.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("want integer, got %s", typeName(v))
		}
		return sizedInt(t, n)
	}
	return nil, fmt.Errorf("unsupported ABI type %s", t.String())
}

// sizedInt converts n to the Go type go-ethereum packs for t: *big.Int
// above 64 bits, the matching fixed-size integer otherwise.
func sizedInt(t abi.Type, n *big.Int) (any, error) {
	if t.T == abi.UintTy && n.Sign() < 0 {
		return nil, fmt.Errorf("%s is negative", n)
	}
	if t.Size > 64 {
		if n.BitLen() > t.Size {
			return nil, fmt.Errorf("%s overflows %s", n, t.String())
		}
		return n, nil
	}
	if t.T == abi.UintTy {
		if !n.IsUint64() || n.BitLen() > t.Size {
			return nil, fmt.Errorf("%s overflows %s", n, t.String())
		}
		u := n.Uint64()
		switch t.Size {
		case 8:
			return uint8(u), nil
		case 16:
			return uint16(u), nil
		case 32:
			return uint32(u), nil
		}
		return u, nil
	}
	if !n.IsInt64() || n.BitLen() >= t.Size {
		return nil, fmt.Errorf("%s overflows %s", n, t.String())
	}
	i := n.Int64()
	switch t.Size {
	case 8:
		return int8(i), nil
	case 16:
		return int16(i), nil
	case 32:
		return int32(i), nil
	}
	return i, nil
}

func toAddress(v any) (common.Address, error) {
	switch v := v.(type) {
	case common.Address:
		return v, nil
	case *big.Int:
		if v.Sign() < 0 || v.BitLen() > 160 {
			return common.Address{}, fmt.Errorf("%s is not an address", v)
		}
		return common.BigToAddress(v), nil
	case string:
		if common.IsHexAddress(v) {
			return common.HexToAddress(v), nil
		}
		return common.Address{}, fmt.Errorf("%q is not an address", v)
	}
	return common.Address{}, fmt.Errorf("want address, got %s", typeName(v))
}

// firstOutput normalizes the first decoded output of a call.
func firstOutput(label string, out []any) (any, error) {
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: no output", label)
	}
	switch v := out[0].(type) {
	case common.Address, bool, string:
		return v, nil
	}
	n, err := chain.ToBig(out[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	return n, nil
}

func valuesEqual(a, b any) bool {
	switch x := a.(type) {
	case *big.Int:
		y, ok := b.(*big.Int)
		return ok && x.Cmp(y) == 0
	case common.Address:
		y, err := toAddress(b)
		return err == nil && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	}
	return false
}

func typeName(v any) string {
	switch v.(type) {
	case *big.Int:
		return "integer"
	case common.Address:
		return "address"
	case bool:
		return "bool"
	case string:
		return "string"
	}
	return fmt.Sprintf("%T", v)
}
