package env

import (
	_ "embed"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/vaultharness/internal/chain"
)

//go:embed schema.cue
var schemaSource string

// Actor selects an account: a node account by index, or an address the
// node impersonates.
type Actor struct {
	Account *int   `json:"account,omitempty"`
	Address string `json:"address,omitempty"`
}

// Markets names the strategy's lending markets.
type Markets struct {
	CWant     string `json:"cWant"`
	CBorrowed string `json:"cBorrowed"`
	CReward   string `json:"cReward"`
}

// Artifacts names the contract builds to deploy.
type Artifacts struct {
	Vault    string `json:"vault"`
	Strategy string `json:"strategy"`
}

// Registration holds the vault.addStrategy parameters.
type Registration struct {
	DebtRatio         int64  `json:"debt_ratio"`
	MinDebtPerHarvest string `json:"min_debt_per_harvest"`
	MaxDebtPerHarvest string `json:"max_debt_per_harvest"`
	PerformanceFee    int64  `json:"performance_fee"`
}

// Fixture describes the external contracts a run is provisioned against.
type Fixture struct {
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Actors         map[string]Actor  `json:"actors"`
	Tokens         map[string]string `json:"tokens"`
	Markets        Markets           `json:"markets"`
	DelegatedVault string            `json:"delegated_vault"`
	Whales         map[string]string `json:"whales"`
	Artifacts      Artifacts         `json:"artifacts"`
	Amount         int64             `json:"amount"`
	WethAmount     int64             `json:"weth_amount"`
	Registration   Registration      `json:"registration"`
	Tolerance      string            `json:"tolerance"`

	// Dir is the directory of the fixture file. Artifact paths are
	// relative to it.
	Dir string `json:"-"`
}

const builtinPrefix = "builtin:"

// LoadFixture reads a CUE fixture and validates it against #Fixture.
// Omitted registration parameters take the schema defaults.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	f, err := ParseFixture(data, path)
	if err != nil {
		return nil, err
	}
	f.Dir = filepath.Dir(path)
	return f, nil
}

// ParseFixture validates CUE source against #Fixture. filename is used in
// error positions.
func ParseFixture(src []byte, filename string) (*Fixture, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile fixture schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Fixture"))

	data := ctx.CompileBytes(src, cue.Filename(filename))
	if err := data.Err(); err != nil {
		return nil, fmt.Errorf("compile fixture %s: %w", filename, err)
	}

	v := def.Unify(data)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", filename, err)
	}

	var f Fixture
	if err := v.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", filename, err)
	}
	if f.WethAmount > 0 && f.Tokens[TokenWeth] == "" {
		return nil, fmt.Errorf("fixture %s: weth_amount needs tokens.%s", filename, TokenWeth)
	}
	return &f, nil
}

// TokenNames returns the token keys, want first and the rest sorted.
func (f *Fixture) TokenNames() []string {
	names := make([]string, 0, len(f.Tokens))
	for name := range f.Tokens {
		if name != TokenWant {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{TokenWant}, names...)
}

// artifact resolves a builtin name or loads a compiled artifact.
func (f *Fixture) artifact(ref string) (*chain.Artifact, error) {
	if name, ok := strings.CutPrefix(ref, builtinPrefix); ok {
		a := chain.BuiltinArtifact(name)
		if a == nil {
			return nil, fmt.Errorf("unknown builtin artifact %q", name)
		}
		return a, nil
	}
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.Dir, path)
	}
	return chain.LoadArtifact(path)
}

func (r Registration) amounts() (minDebt, maxDebt *big.Int, err error) {
	minDebt, ok := new(big.Int).SetString(r.MinDebtPerHarvest, 10)
	if !ok {
		return nil, nil, fmt.Errorf("min_debt_per_harvest %q is not an integer", r.MinDebtPerHarvest)
	}
	if r.MaxDebtPerHarvest == "max" {
		return minDebt, chain.MaxUint256(), nil
	}
	maxDebt, ok = new(big.Int).SetString(r.MaxDebtPerHarvest, 10)
	if !ok {
		return nil, nil, fmt.Errorf("max_debt_per_harvest %q is not an integer", r.MaxDebtPerHarvest)
	}
	return minDebt, maxDebt, nil
}

func address(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: %q is not an address", field, s)
	}
	return common.HexToAddress(s), nil
}
