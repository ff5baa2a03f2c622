package catalog

import (
	"errors"
	"testing"

	"macrostrat/internal/domain"
)

func TestDefaultLookup(t *testing.T) {
	c := Default()

	a, ok := c.Asset("CSI300")
	if !ok {
		t.Fatal("csi300 not found")
	}
	if a.Symbol != "000300.SH" || a.Market != domain.MarketCN {
		t.Errorf("csi300 = %+v", a)
	}

	if _, err := c.Get("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get(nope) err = %v, want ErrNotFound", err)
	}
}

func TestByMarket(t *testing.T) {
	c := Default()
	cn := c.ByMarket(domain.MarketCN)
	us := c.ByMarket(domain.MarketUS)

	if len(cn) != 7 {
		t.Errorf("cn assets = %d, want 7", len(cn))
	}
	if len(us) != 4 {
		t.Errorf("us assets = %d, want 4", len(us))
	}
	if len(cn)+len(us) != len(c.List()) {
		t.Error("markets do not partition the catalog")
	}
	for _, a := range us {
		if a.Currency != "USD" {
			t.Errorf("%s currency = %s", a.ID, a.Currency)
		}
	}
}

func TestMarketsSorted(t *testing.T) {
	m := Default().Markets()
	if len(m) != 2 || m[0].Type != domain.MarketCN || m[1].Type != domain.MarketUS {
		t.Errorf("Markets = %+v", m)
	}
}

func TestNewRejectsBadCatalogs(t *testing.T) {
	markets := []domain.MarketInfo{{Type: domain.MarketUS}}

	dup := []domain.Asset{
		{ID: "x", Symbol: "X", Market: domain.MarketUS},
		{ID: "X", Symbol: "Y", Market: domain.MarketUS},
	}
	if _, err := New(dup, markets); err == nil {
		t.Error("duplicate ids accepted")
	}

	unknown := []domain.Asset{{ID: "x", Symbol: "X", Market: domain.MarketCN}}
	if _, err := New(unknown, markets); err == nil {
		t.Error("unknown market accepted")
	}

	if _, err := New([]domain.Asset{{ID: "x", Market: domain.MarketUS}}, markets); err == nil {
		t.Error("missing symbol accepted")
	}
}

func TestListIsACopy(t *testing.T) {
	c := Default()
	l := c.List()
	l[0].ID = "mutated"
	if c.List()[0].ID != "csi300" {
		t.Error("mutating List() leaked into the catalog")
	}
}
