package ledger

// Point queries are answered from atomic loads; the response channel must
// have capacity 1 so the worker never blocks on a slow reader.

type BalanceQuery struct {
	UserID uint64
	Resp   chan BalanceResponse
}

type BalanceResponse struct {
	AvailableBalance uint64
	ReservedBalance  uint64
	Err              error
}

type HoldingsQuery struct {
	UserID uint64
	Symbol uint32
	Resp   chan HoldingsResponse
}

type HoldingsResponse struct {
	Available uint32
	Reserved  uint32
	Err       error
}

func NewBalanceQuery(userID uint64) BalanceQuery {
	return BalanceQuery{UserID: userID, Resp: make(chan BalanceResponse, 1)}
}

func NewHoldingsQuery(userID uint64, symbol uint32) HoldingsQuery {
	return HoldingsQuery{UserID: userID, Symbol: symbol, Resp: make(chan HoldingsResponse, 1)}
}
