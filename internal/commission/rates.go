package commission

// Commission rates in USD per lot, keyed by instrument symbol. This is the
// currently active table; historical replays always price trades at these
// values regardless of when the trade executed.
var commissionRates = map[string]float64{
	// Forex majors and crosses
	"EURUSD": 2,
	"GBPUSD": 2,
	"USDJPY": 2,
	"USDCHF": 2,
	"AUDUSD": 2,
	"USDCAD": 2,
	"NZDUSD": 2,
	"EURGBP": 2,
	"EURJPY": 2,
	"EURAUD": 2,
	"EURCAD": 2,
	"EURNZD": 2,
	"GBPJPY": 2,
	"GBPAUD": 2,
	"GBPCAD": 2,
	"GBPNZD": 2,
	"AUDJPY": 2,
	"AUDNZD": 2,
	"AUDCAD": 2,
	"AUDCHF": 2,
	"CADJPY": 2,
	"CADCHF": 2,
	"NZDJPY": 2,
	"NZDCAD": 2,
	"NZDCHF": 2,
	"CHFJPY": 2,

	// Metals
	"XAUUSD": 2.7,
	"XAGUSD": 20,

	// Crypto perpetuals
	"BTCUSDPERP": 3,
	"ADAUSDPERP": 2,
	"BNBUSDPERP": 1,
	"ETHUSDPERP": 1,
	"SOLUSDPERP": 1,
	"SUIUSDPERP": 1,
	"XRPUSDPERP": 1,
}

// IBShareFraction is the introducing broker's cut of per-lot commission,
// applied uniformly to every IB.
const IBShareFraction = 0.33

// MinCommissionWithdrawal is the smallest accrued balance an IB may withdraw,
// in USD.
const MinCommissionWithdrawal = 50.0

// RateFor returns the per-lot rate for a symbol and whether the symbol is
// covered by the table.
func RateFor(symbol string) (float64, bool) {
	rate, ok := commissionRates[symbol]
	return rate, ok
}
