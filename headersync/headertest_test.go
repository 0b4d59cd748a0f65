package headersync

import (
	"time"

	"github.com/btcsuite/btcd/wire"
)

// testEasyBits is a compact target so far above any 256-bit hash that
// checkProofOfWork always accepts it, letting tests build chains without
// mining real proof of work.
const testEasyBits uint32 = 0x227fffff

// chainHeaders builds n headers extending prev (a genesis-style seed
// header), each linking to the previous one's hash.
func chainHeaders(prev *wire.BlockHeader, n int) []*wire.BlockHeader {
	out := make([]*wire.BlockHeader, 0, n)
	prevHash := prev.BlockHash()
	ts := prev.Timestamp
	for i := 0; i < n; i++ {
		ts = ts.Add(10 * time.Minute)
		h := &wire.BlockHeader{
			Version:    1,
			PrevBlock:  prevHash,
			MerkleRoot: hashN(byte(i + 1)),
			Timestamp:  ts,
			Bits:       testEasyBits,
			Nonce:      uint32(i),
		}
		out = append(out, h)
		prevHash = h.BlockHash()
	}
	return out
}

func testGenesis() *wire.BlockHeader {
	return &wire.BlockHeader{
		Version:    1,
		Timestamp:  time.Unix(1231006505, 0),
		Bits:       testEasyBits,
		Nonce:      0,
	}
}
