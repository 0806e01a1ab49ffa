package snapshot

import (
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
	"golang.org/x/text/unicode/norm"
)

// Filter keeps participants for which a CEL expression over `participant`
// evaluates to true. Usernames are NFC-normalized first so expressions compare
// canonical text.
type Filter struct {
	expr string
	prg  cel.Program
}

// NewFilter compiles expr. An empty expression keeps everyone.
func NewFilter(expr string) (*Filter, error) {
	if expr == "" {
		return &Filter{}, nil
	}
	env, err := cel.NewEnv(cel.Variable("participant", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile filter: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("filter must evaluate to bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("program filter: %w", err)
	}
	return &Filter{expr: expr, prg: prg}, nil
}

// Expression returns the source expression.
func (f *Filter) Expression() string { return f.expr }

// Apply returns the records that pass the filter, in input order.
func (f *Filter) Apply(records []Record) ([]Record, error) {
	if f.prg == nil {
		return records, nil
	}
	kept := make([]Record, 0, len(records))
	for _, r := range records {
		in, err := activation(r)
		if err != nil {
			return nil, err
		}
		out, _, err := f.prg.Eval(map[string]any{"participant": in})
		if err != nil {
			return nil, fmt.Errorf("filter fid %d: %w", r.Participant.FID, err)
		}
		keep, ok := out.Value().(bool)
		if !ok {
			return nil, fmt.Errorf("filter fid %d: result %v is not a bool", r.Participant.FID, out.Value())
		}
		if keep {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

func activation(r Record) (map[string]any, error) {
	bal, err := r.Balance()
	if err != nil {
		return nil, err
	}
	var balance int64 = math.MaxInt64
	if bal.IsInt64() {
		balance = bal.Int64()
	}
	addresses := r.Participant.Addresses
	if addresses == nil {
		addresses = []string{}
	}
	return map[string]any{
		"fid":                int64(r.Participant.FID),
		"username":           norm.NFC.String(r.Participant.Username),
		"display_name":       norm.NFC.String(r.Participant.DisplayName),
		"wallet_address":     r.Participant.WalletAddress,
		"neynar_score":       r.Participant.NeynarScore,
		"farcaster_approved": r.Participant.FarcasterApproved,
		"addresses":          addresses,
		"balance":            balance,
	}, nil
}
