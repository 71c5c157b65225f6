package state

var (
	agreementPrefix     = []byte("escrow/agreement/")
	proposalIndexPrefix = []byte("arbitration/index/")
	proposalPrefix      = []byte("arbitration/proposal/")
	ballotPrefix        = []byte("arbitration/ballot/")
	balancePrefix       = []byte("bank/balance/")
	tokenPrefix         = []byte("bank/token/")
	tokenListKey        = []byte("bank/tokens")
	genesisKey          = []byte("meta/genesis")
)

func prefixed(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
	}
	return buf
}

func agreementKey(id [32]byte) []byte { return prefixed(agreementPrefix, id[:]) }

func proposalIndexKey(agreementID [32]byte) []byte {
	return prefixed(proposalIndexPrefix, agreementID[:])
}

func proposalKey(id [32]byte) []byte { return prefixed(proposalPrefix, id[:]) }

func ballotKey(proposalID [32]byte, voter [20]byte) []byte {
	return prefixed(ballotPrefix, proposalID[:], voter[:])
}

func balanceKey(owner [20]byte, assetKey []byte) []byte {
	return prefixed(balancePrefix, owner[:], assetKey)
}

func tokenKey(token [20]byte) []byte { return prefixed(tokenPrefix, token[:]) }
