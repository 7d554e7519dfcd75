package ib

import (
	"errors"
	"strings"
	"testing"

	"github.com/ksred/brokerage-api/internal/identity"
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
	if err := db.AutoMigrate(&Application{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

type stubUsers struct {
	users   map[string]*identity.User
	updates []*identity.User
}

func (s *stubUsers) GetUserByEmail(email string) (*identity.User, error) {
	return s.users[email], nil
}

func (s *stubUsers) UpdateUser(user *identity.User) error {
	s.updates = append(s.updates, user)
	return nil
}

func newTestService(t *testing.T) (*Service, *stubUsers) {
	t.Helper()
	users := &stubUsers{users: map[string]*identity.User{
		"broker@example.com": {FullName: "A Broker", Email: "broker@example.com"},
	}}
	return NewService(testDB(t), users, nil, "admin@example.com"), users
}

func TestRegisterRequiresExistingUser(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.Register(&Application{Email: "ghost@example.com"})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestRegisterStartsPending(t *testing.T) {
	svc, _ := newTestService(t)

	app := &Application{Email: "broker@example.com"}
	if err := svc.Register(app); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if app.Status != StatusPending {
		t.Fatalf("expected pending application, got %q", app.Status)
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	svc, _ := newTestService(t)

	if err := svc.Register(&Application{Email: "broker@example.com"}); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := svc.Register(&Application{Email: "broker@example.com"}); !errors.Is(err, ErrAlreadyRequested) {
		t.Fatalf("expected ErrAlreadyRequested, got %v", err)
	}
}

func TestApproveMintsReferralCode(t *testing.T) {
	svc, users := newTestService(t)

	if err := svc.Register(&Application{Email: "broker@example.com"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	code, err := svc.Approve("broker@example.com")
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if !strings.HasPrefix(code, "IB") || len(code) != 8 {
		t.Fatalf("unexpected referral code %q", code)
	}
	if code != strings.ToUpper(code) {
		t.Fatalf("referral code must be uppercase: %q", code)
	}

	if len(users.updates) != 1 || !users.updates[0].IsApprovedIB {
		t.Fatal("user not flagged as approved IB")
	}

	stored, err := svc.ReferralCodeForEmail("broker@example.com")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if stored != code {
		t.Fatalf("stored code %q does not match minted %q", stored, code)
	}
}

func TestApproveUnknownApplication(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Approve("ghost@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRejectClosesApplication(t *testing.T) {
	svc, _ := newTestService(t)

	if err := svc.Register(&Application{Email: "broker@example.com"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := svc.Reject("broker@example.com"); err != nil {
		t.Fatalf("reject failed: %v", err)
	}

	if _, err := svc.ReferralCodeForEmail("broker@example.com"); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("expected ErrNotApproved, got %v", err)
	}
}

func TestReferralCodeStates(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.ReferralCodeForEmail("broker@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before application, got %v", err)
	}

	if err := svc.Register(&Application{Email: "broker@example.com"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := svc.ReferralCodeForEmail("broker@example.com"); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("expected ErrNotApproved while pending, got %v", err)
	}
}
