package normalizer

// flow summarises how the observed address takes part in a transaction.
type flow struct {
	// selfFlow: every asset leaving is received by the observed address and
	// every asset arriving was sent by it.
	selfFlow bool
	sender   bool
	receiver bool
}

// decideType maps a flow onto a transaction type. Order matters: a self flow
// is always a send, even though it also makes the address sender and receiver.
func decideType(f flow) TxType {
	switch {
	case f.selfFlow:
		return TypeSend
	case f.sender && f.receiver:
		return TypeSwap
	case f.sender:
		return TypeSend
	case f.receiver:
		return TypeReceive
	default:
		return TypeUnknown
	}
}

func analyzeFlow(account string, from, to []Movement) flow {
	sentAssets := make(map[string]struct{})
	receivedAssets := make(map[string]struct{})
	var f flow
	for _, m := range from {
		if m.Address == account {
			f.sender = true
			sentAssets[m.Asset] = struct{}{}
		}
	}
	for _, m := range to {
		if m.Address == account {
			f.receiver = true
			receivedAssets[m.Asset] = struct{}{}
		}
	}

	f.selfFlow = true
	for _, m := range from {
		if _, ok := receivedAssets[m.Asset]; !ok {
			f.selfFlow = false
			break
		}
	}
	if f.selfFlow {
		for _, m := range to {
			if _, ok := sentAssets[m.Asset]; !ok {
				f.selfFlow = false
				break
			}
		}
	}
	return f
}

// classify infers the transaction type for the observed account. Failed
// transactions and transactions without movements on both sides are unknown.
func classify(account string, status Status, from, to []Movement) TxType {
	if status == StatusFailed || len(from) == 0 || len(to) == 0 {
		return TypeUnknown
	}
	return decideType(analyzeFlow(account, from, to))
}

func onlyAddress(movements []Movement, account string) []Movement {
	out := make([]Movement, 0, len(movements))
	for _, m := range movements {
		if m.Address == account {
			out = append(out, m)
		}
	}
	return out
}
