package valuation

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// RequestKey addresses the pending request of user on one side of an index
// token. It carries no nonce: a second request for the same triple collides
// with the first until that one resolves.
func RequestKey(indexToken, user common.Address, isLong bool) common.Hash {
	return crypto.Keccak256Hash(
		common.LeftPadBytes(indexToken.Bytes(), 32),
		common.LeftPadBytes(user.Bytes(), 32),
		boolWord(isLong),
	)
}

// MarketKey identifies a market by its index/collateral pair.
func MarketKey(indexToken, collateralToken common.Address) common.Hash {
	return crypto.Keccak256Hash(
		common.LeftPadBytes(indexToken.Bytes(), 32),
		common.LeftPadBytes(collateralToken.Bytes(), 32),
	)
}

// PositionKey identifies the position of user on one side of a market.
func PositionKey(marketKey common.Hash, user common.Address, isLong bool) common.Hash {
	return crypto.Keccak256Hash(
		marketKey.Bytes(),
		common.LeftPadBytes(user.Bytes(), 32),
		boolWord(isLong),
	)
}

func boolWord(b bool) []byte {
	w := make([]byte, 32)
	if b {
		w[31] = 1
	}
	return w
}
