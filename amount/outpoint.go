package amount

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Outpoint identifies a transaction output. It is a value type; copies never
// alias.
type Outpoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// NewOutpoint builds an Outpoint from a txid and output index.
func NewOutpoint(hash chainhash.Hash, index uint32) Outpoint {
	return Outpoint{Hash: hash, Index: index}
}

// FromWire converts a wire outpoint.
func FromWire(op wire.OutPoint) Outpoint {
	return Outpoint{Hash: op.Hash, Index: op.Index}
}

// Wire returns the outpoint in wire form.
func (o Outpoint) Wire() wire.OutPoint {
	return wire.OutPoint{Hash: o.Hash, Index: o.Index}
}

// String returns "txid:vout" with the txid in display (reversed) order.
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.Hash.String(), o.Index)
}

// ParseOutpoint parses the "txid:vout" form produced by String.
func ParseOutpoint(s string) (Outpoint, error) {
	txid, vout, ok := strings.Cut(s, ":")
	if !ok {
		return Outpoint{}, fmt.Errorf("%w: missing ':' in %q", ErrInvalidOutpoint, s)
	}
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil || len(txid) != chainhash.MaxHashStringSize {
		return Outpoint{}, fmt.Errorf("%w: bad txid %q", ErrInvalidOutpoint, txid)
	}
	index, err := strconv.ParseUint(vout, 10, 32)
	if err != nil {
		return Outpoint{}, fmt.Errorf("%w: bad vout %q: %w", ErrInvalidOutpoint, vout, err)
	}
	return Outpoint{Hash: *hash, Index: uint32(index)}, nil
}
