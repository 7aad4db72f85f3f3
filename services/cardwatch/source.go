package cardwatch

import (
	"context"
	"time"

	"cardalert-backend/lib/scrapers/buptvpn"
	"cardalert-backend/lib/scrapers/ecard"
	"cardalert-backend/lib/timezone"
)

// Source is where spending records come from. The portal
// implementation lives in PortalSource; tests substitute their own.
type Source interface {
	// Login establishes a fresh authenticated session.
	Login(ctx context.Context) error
	// Identity fetches the cardholder the session belongs to.
	Identity(ctx context.Context) (ecard.UserInfo, error)
	// Fetch queries the lookup window and returns the raw rows.
	Fetch(ctx context.Context) ([]ecard.Transaction, error)
}

type Credentials struct {
	Username string
	Password string
}

// PortalSource reaches the card-service portal through the VPN
// gateway: the VPN login must happen first, on the same cookie jar,
// or the inner portal silently serves its login page for every URL.
type PortalSource struct {
	vpn        buptvpn.Client
	card       ecard.Client
	vpnCreds   Credentials
	cardCreds  Credentials
	windowDays int
}

func NewPortalSource(vpn buptvpn.Client, card ecard.Client, vpnCreds, cardCreds Credentials, windowDays int) *PortalSource {
	return &PortalSource{
		vpn:        vpn,
		card:       card,
		vpnCreds:   vpnCreds,
		cardCreds:  cardCreds,
		windowDays: windowDays,
	}
}

func (s *PortalSource) Login(ctx context.Context) error {
	err := s.vpn.Login(ctx, s.vpnCreds.Username, s.vpnCreds.Password)
	if err != nil {
		return err
	}
	loginPage, err := s.card.GotoLoginPage(ctx)
	if err != nil {
		return err
	}
	_, err = s.card.Login(ctx, loginPage, s.cardCreds.Username, s.cardCreds.Password)
	return err
}

func (s *PortalSource) Identity(ctx context.Context) (ecard.UserInfo, error) {
	page, err := s.card.GotoPersonalInfoPage(ctx)
	if err != nil {
		return ecard.UserInfo{}, err
	}
	return page.PersonalInfo()
}

// Fetch runs one lookup over the window ending today (portal-local
// time). The portal remembers the result ordering across sessions, so
// the sort toggle is pressed only when the current state is not
// already descending.
func (s *PortalSource) Fetch(ctx context.Context) ([]ecard.Transaction, error) {
	page, err := s.card.GotoConsumeInfoPage(ctx)
	if err != nil {
		return nil, err
	}
	descending, err := page.IsSortDescending()
	if err != nil {
		return nil, err
	}

	start, end := lookupWindow(timezone.Now(), s.windowDays)
	results, err := s.card.LookupConsumeInfo(ctx, page, start, end, !descending)
	if err != nil {
		return nil, err
	}
	return results.Transactions()
}

var _ Source = (*PortalSource)(nil)

// small helper so tests can pin the window math
func lookupWindow(now time.Time, days int) (start, end time.Time) {
	return now.AddDate(0, 0, -days), now
}
