package formats

import (
	"strings"
)

// actionKind is how a brokerage action line is committed.
type actionKind int

const (
	actionUnknown actionKind = iota
	actionBuy
	actionSell
	actionCash
	actionTransfer
	// actionIgnore marks informational lines that move neither cash nor
	// shares.
	actionIgnore
)

type actionRule struct {
	prefix string
	kind   actionKind
}

// actionRules classifies the free-text action column of Fidelity and
// Schwab history exports. Prefixes are lower case; the longest matching
// prefix wins.
var actionRules = []actionRule{
	// Fidelity
	{"you bought", actionBuy},
	{"you sold", actionSell},
	{"reinvestment", actionBuy},
	{"dividend received", actionCash},
	{"interest earned", actionCash},
	{"long-term cap gain", actionCash},
	{"short-term cap gain", actionCash},
	{"foreign tax paid", actionCash},
	{"fee charged", actionCash},
	{"advisory fee", actionCash},
	{"cash contribution", actionTransfer},
	{"partial withdrawal", actionTransfer},
	{"electronic funds transfer", actionTransfer},
	{"transferred from", actionTransfer},
	{"transferred to", actionTransfer},
	{"direct deposit", actionTransfer},
	{"check received", actionTransfer},
	{"journaled", actionIgnore},
	{"redemption payout", actionCash},

	// Schwab
	{"buy", actionBuy},
	{"buy to open", actionBuy},
	{"buy to close", actionBuy},
	{"reinvest shares", actionBuy},
	{"sell", actionSell},
	{"sell to open", actionSell},
	{"sell to close", actionSell},
	{"reinvest dividend", actionCash},
	{"qualified dividend", actionCash},
	{"non-qualified div", actionCash},
	{"cash dividend", actionCash},
	{"special dividend", actionCash},
	{"bank interest", actionCash},
	{"credit interest", actionCash},
	{"margin interest", actionCash},
	{"service fee", actionCash},
	{"adr mgmt fee", actionCash},
	{"foreign tax", actionCash},
	{"long term cap gain", actionCash},
	{"short term cap gain", actionCash},
	{"moneylink transfer", actionTransfer},
	{"moneylink deposit", actionTransfer},
	{"wire funds", actionTransfer},
	{"wire sent", actionTransfer},
	{"journal", actionTransfer},
	{"stock split", actionIgnore},
	{"security transfer", actionIgnore},
	{"pending", actionIgnore},
	{"pending reinvestment", actionIgnore},
}

// classifyAction returns the kind of the longest rule prefixing action.
func classifyAction(action string) actionKind {
	action = strings.ToLower(strings.Join(strings.Fields(action), " "))
	best, bestLen := actionUnknown, 0
	for _, r := range actionRules {
		if len(r.prefix) > bestLen && strings.HasPrefix(action, r.prefix) {
			best, bestLen = r.kind, len(r.prefix)
		}
	}
	return best
}
