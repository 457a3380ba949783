package crypto

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// VerifyECDSA checks a DER-encoded ECDSA signature against a 32-byte hash and
// a serialized (compressed or uncompressed) public key. A trailing sighash
// type byte, as carried in Bitcoin witnesses, must be stripped by the caller.
// Returns false on any parse error.
func VerifyECDSA(hash, derSig, publicKey []byte) bool {
	if len(hash) != 32 {
		return false
	}
	pubKey, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(derSig)
	if err != nil {
		return false
	}
	return sig.Verify(hash, pubKey)
}
