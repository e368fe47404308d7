package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
const (
	DomainStep     = "vaultharness/step/v1"
	DomainSnapshot = "vaultharness/snapshot/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StepID computes the identity of one trace event. The same run id, action,
// sender, rendered arguments and sequence number always produce the same id.
func StepID(runID, action, sender string, args []string, seq int64) (string, error) {
	if args == nil {
		args = []string{}
	}
	obj := map[string]any{
		"run_id": runID,
		"action": action,
		"sender": sender,
		"args":   args,
		"seq":    seq,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("StepID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainStep, canonical), nil
}

// SnapshotID computes the identity of one inspector snapshot: the label it
// was taken under plus every metric name and rendered value.
func SnapshotID(runID, label string, seq int64, metrics map[string]any) (string, error) {
	obj := map[string]any{
		"run_id":  runID,
		"label":   label,
		"seq":     seq,
		"metrics": metrics,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("SnapshotID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}

// MustStepID is like StepID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustStepID(runID, action, sender string, args []string, seq int64) string {
	id, err := StepID(runID, action, sender, args, seq)
	if err != nil {
		panic(err)
	}
	return id
}
