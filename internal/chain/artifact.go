package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Artifact is a compiled contract: its ABI plus creation bytecode.
//
// Builtin artifacts carry no bytecode. Only simchain can deploy them; it
// recognises them by Name.
type Artifact struct {
	Name     string
	ABI      abi.ABI
	Bytecode []byte
}

// Builtin artifact names.
const (
	ArtifactVault    = "Vault"
	ArtifactStrategy = "Strategy"
)

// BuiltinArtifact returns the ABI-only artifact for name, or nil.
func BuiltinArtifact(name string) *Artifact {
	switch name {
	case ArtifactVault:
		return &Artifact{Name: name, ABI: *VaultABI()}
	case ArtifactStrategy:
		return &Artifact{Name: name, ABI: *StrategyABI()}
	default:
		return nil
	}
}

// rawArtifact covers the brownie, hardhat and foundry build layouts.
type rawArtifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     json.RawMessage `json:"bytecode"`
}

// LoadArtifact reads a compiled contract JSON file.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	var raw rawArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", path, err)
	}
	if len(raw.ABI) == 0 {
		return nil, fmt.Errorf("artifact %s has no abi", path)
	}

	parsed, err := abi.JSON(bytes.NewReader(raw.ABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi in %s: %w", path, err)
	}

	code, err := decodeBytecode(raw.Bytecode)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}

	name := raw.ContractName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &Artifact{Name: name, ABI: parsed, Bytecode: code}, nil
}

// decodeBytecode accepts "0x..." or foundry's {"object": "0x..."}.
func decodeBytecode(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("no bytecode")
	}

	var hexCode string
	if err := json.Unmarshal(raw, &hexCode); err != nil {
		var obj struct {
			Object string `json:"object"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("bytecode: %w", err)
		}
		hexCode = obj.Object
	}
	if !strings.HasPrefix(hexCode, "0x") {
		hexCode = "0x" + hexCode
	}
	code, err := hexutil.Decode(hexCode)
	if err != nil {
		return nil, fmt.Errorf("bytecode: %w", err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("empty bytecode")
	}
	return code, nil
}

// Code returns creation bytecode with constructor args appended.
func (a *Artifact) Code(args ...any) ([]byte, error) {
	if len(a.Bytecode) == 0 {
		return nil, fmt.Errorf("artifact %s has no bytecode", a.Name)
	}
	packed, err := a.ABI.Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("pack constructor for %s: %w", a.Name, err)
	}
	code := make([]byte, 0, len(a.Bytecode)+len(packed))
	code = append(code, a.Bytecode...)
	return append(code, packed...), nil
}
