package session

import (
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"physjitter/evidence"
)

// Packet is a self-contained evidence export: the chain plus provenance
// for the host that produced it and summary statistics. The chain JSON
// inside the packet is the authoritative artifact; everything else is
// context.
type Packet struct {
	Version    int         `json:"version"`
	ExportedAt time.Time   `json:"exported_at"`
	Provenance *Provenance `json:"provenance,omitempty"`

	Chain json.RawMessage `json:"chain"`

	Stats       Stats    `json:"stats"`
	Limitations []string `json:"limitations"`
}

// Provenance documents where the packet was generated. Self-reported:
// it carries no attestation weight on its own.
type Provenance struct {
	Hostname        string `json:"hostname,omitempty"`
	OS              string `json:"os"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
	Architecture    string `json:"architecture"`
	BootTime        uint64 `json:"boot_time,omitempty"`
}

// Stats summarizes the exported chain.
type Stats struct {
	Records       int     `json:"records"`
	PhysRatio     float64 `json:"phys_ratio"`
	ChainVerified bool    `json:"chain_verified"`
	FirstSampleNS uint64  `json:"first_sample_ns,omitempty"`
	LastSampleNS  uint64  `json:"last_sample_ns,omitempty"`
}

const packetVersion = 1

// packetLimitations states what a packet does not prove.
var packetLimitations = []string{
	"provenance is self-reported by the exporting host",
	"the chain proves possession of the session secret during collection, not the identity of the typist",
	"entropy bit estimates are advisory",
}

// ExportPacket builds a packet around the current chain.
func (s *Session) ExportPacket() (*Packet, error) {
	chainJSON, err := s.ExportJSON()
	if err != nil {
		return nil, err
	}

	records := s.chain.Records()
	stats := Stats{
		Records:       len(records),
		PhysRatio:     s.chain.PhysRatio(),
		ChainVerified: s.chain.VerifyIntegrity(),
	}
	if len(records) > 0 {
		stats.FirstSampleNS = records[0].TimestampNS
		stats.LastSampleNS = records[len(records)-1].TimestampNS
	}

	return &Packet{
		Version:     packetVersion,
		ExportedAt:  time.Now().UTC(),
		Provenance:  captureProvenance(),
		Chain:       chainJSON,
		Stats:       stats,
		Limitations: packetLimitations,
	}, nil
}

// captureProvenance snapshots host identity. Failures degrade to the
// compile-time facts rather than aborting an export.
func captureProvenance() *Provenance {
	p := &Provenance{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
	}

	if info, err := host.Info(); err == nil {
		p.Hostname = info.Hostname
		p.Platform = info.Platform
		p.PlatformVersion = info.PlatformVersion
		p.KernelVersion = info.KernelVersion
		p.BootTime = info.BootTime
	}

	return p
}

// Encode serializes the packet.
func (p *Packet) Encode() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// DecodePacket parses a packet without verifying the embedded chain.
func DecodePacket(data []byte) (*Packet, error) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("session: parse packet: %w", err)
	}
	if p.Version != packetVersion {
		return nil, fmt.Errorf("session: unsupported packet version %d", p.Version)
	}
	return &p, nil
}

// VerifyChain imports and MAC-checks the embedded chain. Pass the
// session secret for keyed chains, nil for unkeyed ones.
func (p *Packet) VerifyChain(secret *[32]byte) (*evidence.Chain, error) {
	return evidence.ImportJSON(p.Chain, secret)
}
