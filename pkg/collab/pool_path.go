package collab

import (
	"fmt"
	"path/filepath"

	"github.com/christofchen/backuppc/pkg/attr"
)

// bpcPoolPather maps digests to paths using the classic two-level
// hex-prefix fan-out named by spec §6 (`pool/<d0><d1>/<d2><d3>/<hex>`),
// one tree for the uncompressed pool and one for the compressed pool.
type bpcPoolPather struct {
	topDir string
}

// NewPoolPather returns the default digest-to-path collaborator
// rooted at topDir (spec §6 `<TopDir>/pool`, `<TopDir>/cpool`).
func NewPoolPather(topDir string) PoolPather {
	return &bpcPoolPather{topDir: topDir}
}

func (p *bpcPoolPather) MD52Path(compress attr.Compress, d attr.Digest) string {
	hex := fmt.Sprintf("%032x", [16]byte(d))
	root := "pool"
	if compress == attr.CompressZlib {
		root = "cpool"
	}
	return filepath.Join(p.topDir, root, hex[0:2], hex[2:4], hex)
}

func (p *bpcPoolPather) MD52PathV3(d attr.DigestV3) string {
	hex := fmt.Sprintf("%032x", [16]byte(d))
	return filepath.Join(p.topDir, "pool", hex[0:1], hex[1:2], hex)
}
