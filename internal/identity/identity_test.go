package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/ksred/brokerage-api/internal/balance"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&User{}, &Account{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

type stubProvisioner struct {
	accountNo       string
	err             error
	requests        []balance.RegisterRequest
	passwordChanges []string
}

func (s *stubProvisioner) RegisterAccount(ctx context.Context, req balance.RegisterRequest) (string, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return "", s.err
	}
	return s.accountNo, nil
}

func (s *stubProvisioner) ChangePassword(ctx context.Context, accountNo, newPassword string) error {
	if s.err != nil {
		return s.err
	}
	s.passwordChanges = append(s.passwordChanges, accountNo)
	return nil
}

func newTestService(t *testing.T, provider *stubProvisioner) *Service {
	t.Helper()
	return NewService(testDB(t), provider, nil)
}

func seedUser(t *testing.T, svc *Service) *User {
	t.Helper()
	user := &User{
		FullName: "A Client",
		Email:    "client@example.com",
		Phone:    "9800000000",
	}
	if err := svc.CreateUser(user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func TestCreateUserRequiresContactFields(t *testing.T) {
	svc := newTestService(t, &stubProvisioner{})

	if err := svc.CreateUser(&User{Email: "x@example.com"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestCreateUserDefaultsBankApproval(t *testing.T) {
	svc := newTestService(t, &stubProvisioner{})
	user := seedUser(t, svc)

	if user.BankApprovalStatus != BankApprovalApproved {
		t.Fatalf("expected default approval status, got %q", user.BankApprovalStatus)
	}
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	svc := newTestService(t, &stubProvisioner{})
	seedUser(t, svc)

	dup := &User{FullName: "Other", Email: "client@example.com", Phone: "9811111111"}
	if err := svc.CreateUser(dup); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestCreateUserRejectsDuplicatePhone(t *testing.T) {
	svc := newTestService(t, &stubProvisioner{})
	seedUser(t, svc)

	dup := &User{FullName: "Other", Email: "other@example.com", Phone: "9800000000"}
	if err := svc.CreateUser(dup); !errors.Is(err, ErrPhoneTaken) {
		t.Fatalf("expected ErrPhoneTaken, got %v", err)
	}
}

func TestProvisionAccount(t *testing.T) {
	provider := &stubProvisioner{accountNo: "50001234"}
	svc := newTestService(t, provider)
	seedUser(t, svc)

	account, err := svc.ProvisionAccount(context.Background(), "client@example.com", balance.RegisterRequest{
		Currency: "USD",
		Type:     "LIVE",
		UserType: "CLIENT",
		Referral: "IBABC123",
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("provision failed: %v", err)
	}

	if account.AccountNo != "50001234" {
		t.Fatalf("expected vendor-assigned account number, got %q", account.AccountNo)
	}
	if account.ReferralCode != "IBABC123" {
		t.Fatalf("referral code not recorded: %+v", account)
	}
	if len(provider.requests) != 1 || provider.requests[0].Email != "client@example.com" {
		t.Fatalf("vendor request missing email: %+v", provider.requests)
	}

	stored, err := svc.db.GetAccount("50001234")
	if err != nil {
		t.Fatalf("fetch account: %v", err)
	}
	if stored == nil || stored.AccountType != "LIVE" {
		t.Fatalf("account not persisted: %+v", stored)
	}
}

func TestProvisionAccountUnknownUser(t *testing.T) {
	svc := newTestService(t, &stubProvisioner{accountNo: "50001234"})

	if _, err := svc.ProvisionAccount(context.Background(), "ghost@example.com", balance.RegisterRequest{}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestProvisionAccountVendorFailure(t *testing.T) {
	provider := &stubProvisioner{err: balance.ErrExternalService}
	svc := newTestService(t, provider)
	user := seedUser(t, svc)

	if _, err := svc.ProvisionAccount(context.Background(), "client@example.com", balance.RegisterRequest{}); !errors.Is(err, balance.ErrExternalService) {
		t.Fatalf("expected vendor error to surface, got %v", err)
	}

	accounts, err := svc.db.GetAccountsForUser(user.ID)
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	if len(accounts) != 0 {
		t.Fatal("no account may be persisted when the vendor refuses")
	}
}

func TestChangeAccountPassword(t *testing.T) {
	provider := &stubProvisioner{accountNo: "50001234"}
	svc := newTestService(t, provider)
	seedUser(t, svc)

	if _, err := svc.ProvisionAccount(context.Background(), "client@example.com", balance.RegisterRequest{Type: "LIVE"}); err != nil {
		t.Fatalf("provision failed: %v", err)
	}

	if err := svc.ChangeAccountPassword(context.Background(), "50001234", "new-secret"); err != nil {
		t.Fatalf("change failed: %v", err)
	}
	if len(provider.passwordChanges) != 1 || provider.passwordChanges[0] != "50001234" {
		t.Fatalf("vendor not called: %v", provider.passwordChanges)
	}

	if err := svc.ChangeAccountPassword(context.Background(), "50009999", "new-secret"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func submittedDetails() BankDetails {
	return BankDetails{
		AccountHolderName: "A Client",
		AccountNumber:     "00112233445566",
		IFSCCode:          "HDFC0001234",
		BankName:          "HDFC",
	}
}

func TestBankDetailsApprovalFlow(t *testing.T) {
	svc := newTestService(t, &stubProvisioner{})
	seedUser(t, svc)

	if err := svc.SubmitBankDetails("client@example.com", submittedDetails()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	user, _ := svc.db.GetUserByEmail("client@example.com")
	if user.BankApprovalStatus != BankApprovalPending {
		t.Fatalf("expected pending, got %q", user.BankApprovalStatus)
	}
	if user.AccountNumber != "" {
		t.Fatal("live payout fields must stay untouched until approval")
	}

	if err := svc.ApproveBankDetails("client@example.com"); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	user, _ = svc.db.GetUserByEmail("client@example.com")
	if user.BankApprovalStatus != BankApprovalApproved {
		t.Fatalf("expected approved, got %q", user.BankApprovalStatus)
	}
	if user.AccountNumber != "00112233445566" || user.IFSCCode != "HDFC0001234" {
		t.Fatalf("pending details not promoted: %+v", user)
	}
	if user.PendingAccountNumber != "" {
		t.Fatal("pending fields must be cleared after approval")
	}
}

func TestBankDetailsRejectionDiscardsPending(t *testing.T) {
	svc := newTestService(t, &stubProvisioner{})
	seedUser(t, svc)

	if err := svc.SubmitBankDetails("client@example.com", submittedDetails()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := svc.RejectBankDetails("client@example.com"); err != nil {
		t.Fatalf("reject failed: %v", err)
	}

	user, _ := svc.db.GetUserByEmail("client@example.com")
	if user.BankApprovalStatus != BankApprovalRejected {
		t.Fatalf("expected rejected, got %q", user.BankApprovalStatus)
	}
	if user.AccountNumber != "" || user.PendingAccountNumber != "" {
		t.Fatalf("rejected details must be discarded: %+v", user)
	}
}

func TestBankReviewRequiresPendingSubmission(t *testing.T) {
	svc := newTestService(t, &stubProvisioner{})
	seedUser(t, svc)

	if err := svc.ApproveBankDetails("client@example.com"); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("expected ErrNothingPending, got %v", err)
	}
	if err := svc.RejectBankDetails("client@example.com"); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("expected ErrNothingPending, got %v", err)
	}
}

func TestApproveKYC(t *testing.T) {
	svc := newTestService(t, &stubProvisioner{})
	seedUser(t, svc)

	if err := svc.ApproveKYC("client@example.com"); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	user, _ := svc.db.GetUserByEmail("client@example.com")
	if !user.IsKYCVerified {
		t.Fatal("user not flagged as KYC verified")
	}

	if err := svc.ApproveKYC("ghost@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCommissionBalanceMutations(t *testing.T) {
	svc := newTestService(t, &stubProvisioner{})
	user := seedUser(t, svc)

	if err := svc.db.SetCommissionBalance(user.ID, 100); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := svc.db.DecrementCommissionBalance(user.ID, 40); err != nil {
		t.Fatalf("decrement failed: %v", err)
	}
	if err := svc.db.AddCommissionBalance(user.ID, 15); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	stored, _ := svc.db.GetUserByEmail("client@example.com")
	if stored.CommissionBalance != 75 {
		t.Fatalf("expected balance 75, got %v", stored.CommissionBalance)
	}

	// Conditional decrement: draining more than the accrual must fail and
	// leave the balance alone.
	if err := svc.db.DecrementCommissionBalance(user.ID, 76); err == nil {
		t.Fatal("expected overdraw to fail")
	}
	stored, _ = svc.db.GetUserByEmail("client@example.com")
	if stored.CommissionBalance != 75 {
		t.Fatalf("overdraw changed the balance: %v", stored.CommissionBalance)
	}
}
