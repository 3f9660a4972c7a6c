package entropy

import (
	"crypto/sha256"
	"fmt"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
)

// tpmRandomBytes is how many TPM RNG bytes one Sample requests.
const tpmRandomBytes = 32

// TPMSource draws its mixing bytes from a TPM 2.0 random number
// generator instead of a timing counter. The caller owns the transport
// and its lifetime.
//
// The entropy estimate is fixed at MaxBits: the TPM RNG is a conditioned
// DRBG, so the delta-variance estimator does not apply. The value stays
// advisory, exactly like the timing estimate.
type TPMSource struct {
	tpm transport.TPM
}

// NewTPMSource wraps an open TPM transport as an entropy source.
func NewTPMSource(t transport.TPM) *TPMSource {
	return &TPMSource{tpm: t}
}

// Sample mixes inputs with fresh TPM random bytes.
func (s *TPMSource) Sample(inputs []byte) (PhysHash, error) {
	if s.tpm == nil {
		return PhysHash{}, ErrHardwareUnavailable
	}

	cmd := tpm2.GetRandom{BytesRequested: tpmRandomBytes}
	rsp, err := cmd.Execute(s.tpm)
	if err != nil {
		return PhysHash{}, fmt.Errorf("entropy: tpm GetRandom: %w", err)
	}

	h := sha256.New()
	h.Write(inputs)
	h.Write(rsp.RandomBytes.Buffer)

	var ph PhysHash
	copy(ph.Hash[:], h.Sum(nil))
	ph.Bits = MaxBits
	return ph, nil
}
