package simpleimage

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// DigestAlgorithm names the hash used for content digests.
const DigestAlgorithm = "blake3"

// ContentDigest returns the hex-encoded BLAKE3 digest of data. Identical bytes
// always produce identical digests.
func ContentDigest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ContentDigestReader streams r through the hasher and returns the digest and
// the number of bytes read.
func ContentDigestReader(r io.Reader) (string, int64, error) {
	hasher := blake3.New()
	n, err := io.Copy(hasher, r)
	if err != nil {
		return "", n, fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}
