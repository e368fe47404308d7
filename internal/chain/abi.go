package chain

import (
	"bytes"
	"embed"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abi/*.json
var abiFS embed.FS

var (
	abiOnce  sync.Once
	abiErr   error
	erc20ABI abi.ABI
	vaultABI abi.ABI
	stratABI abi.ABI
)

func loadABIs() {
	for _, entry := range []struct {
		file string
		dst  *abi.ABI
	}{
		{"abi/erc20.json", &erc20ABI},
		{"abi/vault.json", &vaultABI},
		{"abi/strategy.json", &stratABI},
	} {
		data, err := abiFS.ReadFile(entry.file)
		if err != nil {
			abiErr = err
			return
		}
		parsed, err := abi.JSON(bytes.NewReader(data))
		if err != nil {
			abiErr = fmt.Errorf("parse %s: %w", entry.file, err)
			return
		}
		*entry.dst = parsed
	}
}

func mustABI(dst *abi.ABI) *abi.ABI {
	abiOnce.Do(loadABIs)
	if abiErr != nil {
		panic(abiErr)
	}
	return dst
}

// ERC20ABI is the token interface.
func ERC20ABI() *abi.ABI { return mustABI(&erc20ABI) }

// VaultABI is the vault interface. It includes the ERC-20 share token.
func VaultABI() *abi.ABI { return mustABI(&vaultABI) }

// StrategyABI is the lending strategy interface.
func StrategyABI() *abi.ABI { return mustABI(&stratABI) }

// ABIForKind maps a contract kind used in scenarios and fixtures to its ABI.
func ABIForKind(kind string) (*abi.ABI, error) {
	switch kind {
	case KindToken:
		return ERC20ABI(), nil
	case KindVault:
		return VaultABI(), nil
	case KindStrategy:
		return StrategyABI(), nil
	default:
		return nil, fmt.Errorf("unknown contract kind %q", kind)
	}
}

// Contract kinds.
const (
	KindToken    = "token"
	KindVault    = "vault"
	KindStrategy = "strategy"
)

// ResolveMethod finds the ABI method called name that takes nargs inputs.
// go-ethereum renames overloads (withdraw, withdraw0), so the lookup goes
// through RawName.
func ResolveMethod(a *abi.ABI, name string, nargs int) (abi.Method, error) {
	if m, ok := a.Methods[name]; ok && len(m.Inputs) == nargs {
		return m, nil
	}
	for _, m := range a.Methods {
		if m.RawName == name && len(m.Inputs) == nargs {
			return m, nil
		}
	}
	return abi.Method{}, fmt.Errorf("%w: %s with %d argument(s)", ErrUnknownMethod, name, nargs)
}
