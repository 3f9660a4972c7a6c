// Command jitterverify verifies exported evidence chains and packets
// without access to the session that produced them.
//
// Suitable for offline verification, third-party audits, and automated
// pipelines. A chain keyed with a session secret needs that secret (hex)
// to verify its MAC; unkeyed chains verify as-is. The human-plausibility
// model runs over the recorded delays either way.
//
// Usage:
//
//	jitterverify [flags] <chain.json|packet.json>
//
// Examples:
//
//	# Verify an unkeyed chain and run the baseline model
//	jitterverify chain.json
//
//	# Verify a keyed chain
//	jitterverify -key 000102...1f chain.json
//
//	# Verify the chain inside an evidence packet, JSON output
//	jitterverify -packet -format json packet.json
//
//	# Use model parameters from a config file
//	jitterverify -config physjitter.toml chain.json
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"physjitter/config"
	"physjitter/evidence"
	"physjitter/human"
	"physjitter/internal/logging"
)

var version = "dev" // set at build time

type report struct {
	File       string   `json:"file"`
	Records    int      `json:"records"`
	PhysRatio  float64  `json:"phys_ratio"`
	Sequences  bool     `json:"sequences_valid"`
	Timestamps bool     `json:"timestamps_valid"`
	MACValid   bool     `json:"mac_valid"`
	IsHuman    bool     `json:"is_human"`
	Anomalies  []string `json:"anomalies,omitempty"`
	Verdict    string   `json:"verdict"`
}

func main() {
	keyHex := flag.String("key", "", "session secret as 64 hex chars (keyed chains)")
	packet := flag.Bool("packet", false, "input is an evidence packet, not a bare chain")
	format := flag.String("format", "text", "output format: text, json")
	configPath := flag.String("config", "", "model/engine configuration file (toml or yaml)")
	logLevel := flag.String("log-level", "warn", "log level: debug, info, warn, error")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("jitterverify %s\n", version)
		return
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: jitterverify [flags] <chain.json|packet.json>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		fatal(err)
	}
	log := logging.New(&logging.Config{Level: level, Component: "jitterverify"})

	model := human.Baseline()
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		model = human.NewModel(cfg.ToModelParams())
		log.Debug("loaded model parameters", "path", *configPath)
	}

	var secret *[32]byte
	if *keyHex != "" {
		raw, err := hex.DecodeString(*keyHex)
		if err != nil || len(raw) != 32 {
			fatal(fmt.Errorf("key must be 64 hex chars"))
		}
		secret = new([32]byte)
		copy(secret[:], raw)
	}

	path := flag.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		fatal(err)
	}

	chainJSON := data
	if *packet {
		chainJSON, err = extractChain(data)
		if err != nil {
			fatal(err)
		}
	}

	r := verifyChain(path, chainJSON, secret, model)

	switch *format {
	case "json":
		out, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Println(string(out))
	default:
		printText(r)
	}

	if r.Verdict != "ok" {
		os.Exit(1)
	}
}

// extractChain pulls the embedded chain document out of a packet.
func extractChain(data []byte) ([]byte, error) {
	var p struct {
		Version int             `json:"version"`
		Chain   json.RawMessage `json:"chain"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse packet: %w", err)
	}
	if len(p.Chain) == 0 {
		return nil, fmt.Errorf("packet has no chain")
	}
	return p.Chain, nil
}

func verifyChain(path string, chainJSON []byte, secret *[32]byte, model *human.Model) report {
	r := report{File: path}

	chain, err := evidence.ImportJSON(chainJSON, secret)
	if err != nil {
		r.Verdict = fmt.Sprintf("invalid: %v", err)
		return r
	}
	defer chain.Destroy()

	records := chain.Records()
	r.Records = len(records)
	r.PhysRatio = chain.PhysRatio()
	r.Sequences = chain.ValidateSequences()
	r.Timestamps = chain.ValidateTimestamps()
	r.MACValid = true // import recomputes and compares the MAC

	jitters := make([]uint32, len(records))
	for i := range records {
		jitters[i] = records[i].Jitter
	}
	var intervals []uint64
	for i := 1; i < len(records); i++ {
		intervals = append(intervals, records[i].TimestampNS-records[i-1].TimestampNS)
	}

	result := model.ValidateWithIntervals(jitters, intervals)
	r.IsHuman = result.IsHuman
	for _, a := range result.Anomalies {
		r.Anomalies = append(r.Anomalies, fmt.Sprintf("%s: %s", a.Kind, a.Detail))
	}

	if r.IsHuman {
		r.Verdict = "ok"
	} else {
		r.Verdict = "anomalous"
	}
	return r
}

func printText(r report) {
	fmt.Printf("chain:       %s\n", r.File)
	fmt.Printf("records:     %d\n", r.Records)
	fmt.Printf("phys ratio:  %.2f\n", r.PhysRatio)
	fmt.Printf("sequences:   %s\n", okOrBad(r.Sequences))
	fmt.Printf("timestamps:  %s\n", okOrBad(r.Timestamps))
	fmt.Printf("chain mac:   %s\n", okOrBad(r.MACValid))
	fmt.Printf("human model: %s\n", okOrBad(r.IsHuman))
	for _, a := range r.Anomalies {
		fmt.Printf("  anomaly: %s\n", a)
	}
	fmt.Printf("verdict:     %s\n", r.Verdict)
}

func okOrBad(ok bool) string {
	if ok {
		return "ok"
	}
	return "FAILED"
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "jitterverify: %v\n", err)
	os.Exit(1)
}
