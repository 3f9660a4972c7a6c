package evidence

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"physjitter/entropy"
	"physjitter/internal/security"
)

// recordJSON is the human-readable form of one record. JSON field order
// is not authoritative; the canonical binary encoding is.
type recordJSON struct {
	Variant     string       `json:"variant"`
	Sequence    uint64       `json:"sequence"`
	TimestampNS uint64       `json:"timestamp_ns"`
	InputHash   string       `json:"input_hash"`
	Entropy     *entropyJSON `json:"entropy,omitempty"`
	Jitter      uint32       `json:"jitter"`
}

type entropyJSON struct {
	Hash string `json:"hash"`
	Bits uint8  `json:"bits"`
}

type chainJSON struct {
	Records  []Record `json:"records"`
	ChainMAC string   `json:"chain_mac"`
}

// MarshalJSON encodes the record in the documented JSON form.
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		Variant:     r.Kind.String(),
		Sequence:    r.Sequence,
		TimestampNS: r.TimestampNS,
		InputHash:   hex.EncodeToString(r.InputHash[:]),
		Jitter:      r.Jitter,
	}
	if r.Kind == KindPhys && r.Entropy != nil {
		out.Entropy = &entropyJSON{
			Hash: hex.EncodeToString(r.Entropy.Hash[:]),
			Bits: r.Entropy.Bits,
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the documented JSON form.
func (r *Record) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	switch in.Variant {
	case "phys":
		r.Kind = KindPhys
	case "pure":
		r.Kind = KindPure
	default:
		return fmt.Errorf("%w: unknown variant %q", ErrMalformedRecord, in.Variant)
	}

	r.Sequence = in.Sequence
	r.TimestampNS = in.TimestampNS
	r.Jitter = in.Jitter

	if err := decodeHash32(in.InputHash, &r.InputHash); err != nil {
		return fmt.Errorf("%w: input_hash: %v", ErrMalformedRecord, err)
	}

	r.Entropy = nil
	if r.Kind == KindPhys {
		if in.Entropy == nil {
			return fmt.Errorf("%w: phys record without entropy", ErrMalformedRecord)
		}
		ph := &entropy.PhysHash{Bits: in.Entropy.Bits}
		if err := decodeHash32(in.Entropy.Hash, &ph.Hash); err != nil {
			return fmt.Errorf("%w: entropy hash: %v", ErrMalformedRecord, err)
		}
		r.Entropy = ph
	}
	return nil
}

func decodeHash32(s string, out *[32]byte) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != 32 {
		return fmt.Errorf("got %d bytes, want 32", len(raw))
	}
	copy(out[:], raw)
	return nil
}

// ExportJSON serializes the chain with its stored MAC.
func (c *Chain) ExportJSON() ([]byte, error) {
	records := c.records
	if records == nil {
		// An empty chain exports as [] rather than null, as the schema
		// requires an array.
		records = []Record{}
	}
	out := chainJSON{
		Records:  records,
		ChainMAC: hex.EncodeToString(c.mac[:]),
	}
	return json.MarshalIndent(out, "", "  ")
}

// ImportJSON parses an exported chain, validates it against the v1
// schema, and recomputes the MAC to detect tampering. Pass the session
// secret for keyed chains, nil for unkeyed ones. A MAC mismatch fails
// with ErrChainMACMismatch.
func ImportJSON(data []byte, secret *[32]byte) (*Chain, error) {
	if err := validateChainSchema(data); err != nil {
		return nil, err
	}

	var in chainJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("evidence: parse chain: %w", err)
	}

	var storedMAC [32]byte
	if err := decodeHash32(in.ChainMAC, &storedMAC); err != nil {
		return nil, fmt.Errorf("%w: chain_mac: %v", ErrMalformedRecord, err)
	}

	chain := NewChain()
	if secret != nil {
		chain = NewKeyedChain(secret)
	}

	for i := range in.Records {
		if err := chain.Append(in.Records[i]); err != nil {
			chain.Destroy()
			return nil, err
		}
	}

	if !chain.CompareMAC(storedMAC) {
		chain.Destroy()
		return nil, ErrChainMACMismatch
	}
	return chain, nil
}

// CompareMAC compares the chain's recomputed MAC against an expected
// value in constant time.
func (c *Chain) CompareMAC(expected [32]byte) bool {
	var mac [32]byte
	for i := range c.records {
		mac = c.step(mac, c.records[i].CanonicalBytes())
	}
	return security.ConstantTimeEqual32(mac, expected)
}
