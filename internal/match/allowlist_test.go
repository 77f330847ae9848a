package match

import (
	"testing"

	"scanner/internal/model"
)

func TestIsKnownAccountPlatformHandleMatch(t *testing.T) {
	accounts := []model.KnownAccount{
		{ID: "acc-1", Platform: "instagram", Handle: "janedoe"},
	}
	known, id := IsKnownAccount("https://www.instagram.com/janedoe/p/123", accounts)
	if !known || id != "acc-1" {
		t.Fatalf("expected match on acc-1, got known=%v id=%q", known, id)
	}
}

func TestIsKnownAccountSocialDomainNeverMatchesByBareDomain(t *testing.T) {
	// A contributor's own instagram.com entry must never suppress an
	// impersonator's page on the same bare domain.
	accounts := []model.KnownAccount{
		{ID: "acc-1", Domain: "instagram.com"},
	}
	known, _ := IsKnownAccount("https://www.instagram.com/impersonator", accounts)
	if known {
		t.Fatal("social domain must not match by bare domain alone")
	}
}

func TestIsKnownAccountCustomDomainMatchesBareDomain(t *testing.T) {
	accounts := []model.KnownAccount{
		{ID: "acc-2", Domain: "janedoeportfolio.com"},
	}
	known, id := IsKnownAccount("https://www.janedoeportfolio.com/gallery", accounts)
	if !known || id != "acc-2" {
		t.Fatalf("expected match on acc-2, got known=%v id=%q", known, id)
	}
}

func TestIsKnownAccountNoMatch(t *testing.T) {
	accounts := []model.KnownAccount{
		{ID: "acc-1", Platform: "instagram", Handle: "janedoe"},
	}
	known, id := IsKnownAccount("https://civitai.com/images/999", accounts)
	if known || id != "" {
		t.Fatalf("expected no match, got known=%v id=%q", known, id)
	}
}

func TestIsKnownAccountHandleMismatch(t *testing.T) {
	accounts := []model.KnownAccount{
		{ID: "acc-1", Platform: "instagram", Handle: "janedoe"},
	}
	known, _ := IsKnownAccount("https://www.instagram.com/someoneelse/p/123", accounts)
	if known {
		t.Fatal("expected no match for a different handle on the same platform")
	}
}
