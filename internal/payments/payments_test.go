package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/ksred/brokerage-api/internal/gateway"
	"github.com/ksred/brokerage-api/internal/identity"
	"github.com/ksred/brokerage-api/internal/orders"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testCBCKey = "0123456789abcdef0123456789abcdef"
	testCBCIV  = "abcdef0123456789"
	testGCMKey = "fedcba9876543210fedcba9876543210"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&Transaction{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

type fakeOrders struct {
	orders map[string]*orders.Order
}

func (f *fakeOrders) GetOrder(orderID string) (*orders.Order, error) {
	return f.orders[orderID], nil
}

func (f *fakeOrders) Finalize(orderID, status string) (bool, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if o.Status != orders.StatusPending {
		return true, nil
	}
	o.Status = status
	return false, nil
}

type fakeCreditor struct {
	credits []credit
	fail    bool
}

type credit struct {
	accountNo string
	amount    decimal.Decimal
	orderID   string
}

func (f *fakeCreditor) AdjustBalance(ctx context.Context, accountNo string, amount decimal.Decimal, orderID string) error {
	if f.fail {
		return fmt.Errorf("ledger unavailable")
	}
	f.credits = append(f.credits, credit{accountNo, amount, orderID})
	return nil
}

type fakeAccounts struct{}

func (fakeAccounts) GetAccount(accountNo string) (*identity.Account, error) {
	return &identity.Account{AccountNo: accountNo}, nil
}

type fixedFX struct{}

func (fixedFX) Convert(ctx context.Context, amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(decimal.NewFromFloat(0.0117)).Round(2)
}

type fixture struct {
	svc      *Service
	orders   *fakeOrders
	creditor *fakeCreditor
	cbc      *gateway.CBCCodec
	gcm      *gateway.GCMCodec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cbc, err := gateway.NewCBCCodec(testCBCKey, testCBCIV)
	if err != nil {
		t.Fatalf("cbc codec: %v", err)
	}
	gcm, err := gateway.NewGCMCodec(testGCMKey)
	if err != nil {
		t.Fatalf("gcm codec: %v", err)
	}

	ord := &fakeOrders{orders: map[string]*orders.Order{
		"ODP1700000000001": {OrderID: "ODP1700000000001", AccountNo: "50001234", Status: orders.StatusPending},
	}}
	creditor := &fakeCreditor{}
	svc := NewService(testDB(t), ord, fakeAccounts{}, creditor, fixedFX{}, cbc, gcm, nil, "admin@example.com")
	return &fixture{svc: svc, orders: ord, creditor: creditor, cbc: cbc, gcm: gcm}
}

func hostedPayload(txnID, orderID, userID, status, amount string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"transaction": map[string]string{
			"id":               txnID,
			"merchant_txn_id":  orderID,
			"merchant_user_id": userID,
			"status":           status,
			"amount":           amount,
		},
	})
	return body
}

func TestHostedCallbackCreditsOnce(t *testing.T) {
	f := newFixture(t)
	payload := hostedPayload("TXN001", "ODP1700000000001", "", "completed", "5000")

	txn, err := f.svc.ProcessHostedCallback(context.Background(), payload)
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if txn.CreditStatus != CreditApplied {
		t.Fatalf("expected %s, got %s", CreditApplied, txn.CreditStatus)
	}
	if f.orders.orders["ODP1700000000001"].Status != orders.StatusSuccess {
		t.Fatal("order not finalized as success")
	}

	if len(f.creditor.credits) != 1 {
		t.Fatalf("expected one credit, got %d", len(f.creditor.credits))
	}
	c := f.creditor.credits[0]
	if c.accountNo != "50001234" {
		t.Fatalf("credited wrong account %q", c.accountNo)
	}
	if !c.amount.Equal(decimal.NewFromFloat(58.50)) {
		t.Fatalf("expected 58.50 USD, got %s", c.amount)
	}
	if c.orderID != CreditKey("TXN001") {
		t.Fatalf("credit keyed on %q, want %q", c.orderID, CreditKey("TXN001"))
	}

	// Replay: acknowledged, no second credit.
	if _, err := f.svc.ProcessHostedCallback(context.Background(), payload); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if len(f.creditor.credits) != 1 {
		t.Fatalf("duplicate callback credited again: %d credits", len(f.creditor.credits))
	}
}

func TestCreditKeyDeterministicAndBounded(t *testing.T) {
	a := CreditKey("TXN001")
	b := CreditKey("TXN001")
	if a != b {
		t.Fatalf("key not deterministic: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("key %q must be exactly 16 characters", a)
	}
	if a[:2] != "DT" {
		t.Fatalf("key %q must carry the DT prefix", a)
	}
	if CreditKey("TXN002") == a {
		t.Fatal("distinct transactions must yield distinct keys")
	}
}

func TestHostedCallbackFallsBackToVendorAccount(t *testing.T) {
	f := newFixture(t)

	// No local order matches merchant_txn_id, but the vendor reports the
	// account it collected for. The deposit credits that account directly.
	txn, err := f.svc.ProcessHostedCallback(context.Background(),
		hostedPayload("TXN777", "ODP_UNKNOWN", "50009999", "completed", "100"))
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if txn.CreditStatus != CreditApplied {
		t.Fatalf("expected %s, got %s", CreditApplied, txn.CreditStatus)
	}
	if len(f.creditor.credits) != 1 {
		t.Fatalf("expected one credit, got %d", len(f.creditor.credits))
	}
	c := f.creditor.credits[0]
	if c.accountNo != "50009999" {
		t.Fatalf("credited %q, want the vendor-reported account", c.accountNo)
	}
	if !c.amount.Equal(decimal.NewFromFloat(1.17)) {
		t.Fatalf("expected 1.17 USD, got %s", c.amount)
	}
	if c.orderID != CreditKey("TXN777") {
		t.Fatalf("credit keyed on %q, want %q", c.orderID, CreditKey("TXN777"))
	}
}

func TestHostedCallbackFailedStatusNoCredit(t *testing.T) {
	f := newFixture(t)

	txn, err := f.svc.ProcessHostedCallback(context.Background(),
		hostedPayload("TXN002", "ODP1700000000001", "", "failed", "5000"))
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if txn.CreditStatus != CreditRecorded {
		t.Fatalf("expected %s, got %s", CreditRecorded, txn.CreditStatus)
	}
	if len(f.creditor.credits) != 0 {
		t.Fatal("failed callback must not credit")
	}
	if f.orders.orders["ODP1700000000001"].Status != orders.StatusFailed {
		t.Fatal("order not finalized as failed")
	}
}

func TestHostedCallbackRejectsMissingTransactionID(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.ProcessHostedCallback(context.Background(), hostedPayload("", "", "", "completed", "10")); err == nil {
		t.Fatal("expected error for missing transaction id")
	}
	if _, err := f.svc.ProcessHostedCallback(context.Background(), []byte("not json")); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestEncryptedCallbackRoundTrip(t *testing.T) {
	for _, source := range []string{SourceLegacy, SourceCrypto} {
		t.Run(source, func(t *testing.T) {
			f := newFixture(t)
			var codec interface {
				Encrypt(v interface{}) (string, error)
			} = f.cbc
			if source == SourceCrypto {
				codec = f.gcm
			}

			// realAmount is the settled figure; amount is the stale
			// initiation figure and must lose.
			wire, err := codec.Encrypt(map[string]string{
				"transactionid": "VTXN" + source,
				"merchantid":    "ODP1700000000001",
				"status":        "SUCCESS",
				"realAmount":    "5000",
				"amount":        "4900",
			})
			if err != nil {
				t.Fatalf("encrypt: %v", err)
			}

			txn, err := f.svc.ProcessEncryptedCallback(context.Background(), source, wire)
			if err != nil {
				t.Fatalf("callback failed: %v", err)
			}
			if txn.CreditStatus != CreditApplied {
				t.Fatalf("expected %s, got %s", CreditApplied, txn.CreditStatus)
			}
			if len(f.creditor.credits) != 1 {
				t.Fatalf("expected one credit, got %d", len(f.creditor.credits))
			}
			// The deposit order id doubles as the ledger key on this wire.
			if f.creditor.credits[0].orderID != "ODP1700000000001" {
				t.Fatalf("credit keyed on %q", f.creditor.credits[0].orderID)
			}
			if !f.creditor.credits[0].amount.Equal(decimal.NewFromFloat(58.50)) {
				t.Fatalf("expected realAmount conversion 58.50 USD, got %s", f.creditor.credits[0].amount)
			}

			// Replay the identical wire: deduped on vendor transaction id.
			if _, err := f.svc.ProcessEncryptedCallback(context.Background(), source, wire); err != nil {
				t.Fatalf("replay failed: %v", err)
			}
			if len(f.creditor.credits) != 1 {
				t.Fatalf("duplicate wire credited again: %d credits", len(f.creditor.credits))
			}
		})
	}
}

func TestEncryptedCallbackStatusMustBeUpperSuccess(t *testing.T) {
	f := newFixture(t)

	// The vendor's success marker is the exact string SUCCESS; anything
	// else, including a lowercase variant, is a failed payin.
	wire, err := f.cbc.Encrypt(map[string]string{
		"transactionid": "VTXN900",
		"merchantid":    "ODP1700000000001",
		"status":        "success",
		"realAmount":    "5000",
	})
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	txn, err := f.svc.ProcessEncryptedCallback(context.Background(), SourceLegacy, wire)
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if txn.CreditStatus != CreditRecorded {
		t.Fatalf("expected %s, got %s", CreditRecorded, txn.CreditStatus)
	}
	if len(f.creditor.credits) != 0 {
		t.Fatal("non-SUCCESS status must not credit")
	}
	if f.orders.orders["ODP1700000000001"].Status != orders.StatusFailed {
		t.Fatal("order not finalized as failed")
	}
}

func TestEncryptedCallbackAmountFallback(t *testing.T) {
	f := newFixture(t)

	// Older payloads omit realAmount and carry amount only.
	wire, err := f.cbc.Encrypt(map[string]string{
		"transactionid": "VTXN901",
		"merchantid":    "ODP1700000000001",
		"status":        "SUCCESS",
		"amount":        "5000",
	})
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	txn, err := f.svc.ProcessEncryptedCallback(context.Background(), SourceLegacy, wire)
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if txn.CreditStatus != CreditApplied {
		t.Fatalf("expected %s, got %s", CreditApplied, txn.CreditStatus)
	}
	if len(f.creditor.credits) != 1 || !f.creditor.credits[0].amount.Equal(decimal.NewFromFloat(58.50)) {
		t.Fatalf("expected one 58.50 USD credit, got %+v", f.creditor.credits)
	}
}

func TestEncryptedCallbackUndecryptableParked(t *testing.T) {
	f := newFixture(t)

	txn, err := f.svc.ProcessEncryptedCallback(context.Background(), SourceLegacy, "garbage-wire")
	if err != nil {
		t.Fatalf("expected parked transaction, got error: %v", err)
	}
	if txn.CreditStatus != CreditFailed {
		t.Fatalf("expected %s, got %s", CreditFailed, txn.CreditStatus)
	}
	if txn.VendorStatus != "undecryptable" {
		t.Fatalf("unexpected vendor status %q", txn.VendorStatus)
	}
	if txn.Payload != "garbage-wire" {
		t.Fatal("raw wire must be retained for review")
	}

	// Vendor retries the same unreadable payload: same parked record back.
	again, err := f.svc.ProcessEncryptedCallback(context.Background(), SourceLegacy, "garbage-wire")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if again.VendorTxnID != txn.VendorTxnID {
		t.Fatalf("replay parked a second record: %q vs %q", again.VendorTxnID, txn.VendorTxnID)
	}
	if len(f.creditor.credits) != 0 {
		t.Fatal("undecryptable payload must never credit")
	}
}

func TestSettleUnknownOrderMarksCreditFailed(t *testing.T) {
	f := newFixture(t)

	txn, err := f.svc.ProcessHostedCallback(context.Background(),
		hostedPayload("TXN404", "ODP_UNKNOWN", "", "completed", "100"))
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if txn.CreditStatus != CreditFailed {
		t.Fatalf("expected %s, got %s", CreditFailed, txn.CreditStatus)
	}
	if len(f.creditor.credits) != 0 {
		t.Fatal("credit must not be applied without a matching order")
	}

	failed, err := f.svc.db.GetFailedCredits()
	if err != nil {
		t.Fatalf("list failed credits: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected one failed credit, got %d", len(failed))
	}
}

func TestSettleLedgerFailureMarksCreditFailed(t *testing.T) {
	f := newFixture(t)
	f.creditor.fail = true

	txn, err := f.svc.ProcessHostedCallback(context.Background(),
		hostedPayload("TXN500", "ODP1700000000001", "", "completed", "5000"))
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if txn.CreditStatus != CreditFailed {
		t.Fatalf("expected %s, got %s", CreditFailed, txn.CreditStatus)
	}
	// Order is already finalized; the retry loop must credit without
	// re-finalizing.
	if f.orders.orders["ODP1700000000001"].Status != orders.StatusSuccess {
		t.Fatal("order should be finalized before the credit attempt")
	}
}

func TestRetryCreditRecoversFailedCredit(t *testing.T) {
	f := newFixture(t)
	f.creditor.fail = true

	if _, err := f.svc.ProcessHostedCallback(context.Background(),
		hostedPayload("TXN500", "ODP1700000000001", "", "completed", "5000")); err != nil {
		t.Fatalf("callback failed: %v", err)
	}

	f.creditor.fail = false
	proc := NewProcessor(f.svc)
	if err := proc.processFailedCredits(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	if len(f.creditor.credits) != 1 {
		t.Fatalf("expected retry to credit once, got %d", len(f.creditor.credits))
	}
	if f.creditor.credits[0].orderID != CreditKey("TXN500") {
		t.Fatalf("retry must reuse the original credit key, got %q", f.creditor.credits[0].orderID)
	}

	failed, err := f.svc.db.GetFailedCredits()
	if err != nil {
		t.Fatalf("list failed credits: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("expected no failed credits after retry, got %d", len(failed))
	}
}

func TestRetryCreditUsesVendorAccountWhenOrderUnknown(t *testing.T) {
	f := newFixture(t)
	f.creditor.fail = true

	if _, err := f.svc.ProcessHostedCallback(context.Background(),
		hostedPayload("TXN778", "ODP_UNKNOWN", "50009999", "completed", "100")); err != nil {
		t.Fatalf("callback failed: %v", err)
	}

	f.creditor.fail = false
	proc := NewProcessor(f.svc)
	if err := proc.processFailedCredits(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	if len(f.creditor.credits) != 1 {
		t.Fatalf("expected retry to credit once, got %d", len(f.creditor.credits))
	}
	c := f.creditor.credits[0]
	if c.accountNo != "50009999" {
		t.Fatalf("retry credited %q, want the vendor-reported account", c.accountNo)
	}
	if c.orderID != CreditKey("TXN778") {
		t.Fatalf("retry keyed on %q, want %q", c.orderID, CreditKey("TXN778"))
	}
}
