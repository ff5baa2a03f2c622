// Package catalog lists the assets and markets the service can backtest.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"macrostrat/internal/domain"
)

// Builtin assets. CN entries are broad A-share indexes; US entries are the
// ETFs tracking the major US indexes.
var builtinAssets = []domain.Asset{
	{ID: "csi300", Name: "CSI 300", Symbol: "000300.SH", Market: domain.MarketCN, AssetClass: domain.AssetClassIndex, Currency: "CNY",
		Description: "300 large, liquid A-shares listed in Shanghai and Shenzhen"},
	{ID: "sse50", Name: "SSE 50", Symbol: "000016.SH", Market: domain.MarketCN, AssetClass: domain.AssetClassIndex, Currency: "CNY",
		Description: "50 of the largest, most liquid Shanghai-listed stocks"},
	{ID: "csi500", Name: "CSI 500", Symbol: "000905.SH", Market: domain.MarketCN, AssetClass: domain.AssetClassIndex, Currency: "CNY",
		Description: "Mid caps ranked after the CSI 300 constituents"},
	{ID: "csi1000", Name: "CSI 1000", Symbol: "000852.SH", Market: domain.MarketCN, AssetClass: domain.AssetClassIndex, Currency: "CNY",
		Description: "Small and mid caps ranked after the CSI 800"},
	{ID: "star50", Name: "STAR 50", Symbol: "000688.SH", Market: domain.MarketCN, AssetClass: domain.AssetClassIndex, Currency: "CNY",
		Description: "50 largest STAR Market securities"},
	{ID: "chinext", Name: "ChiNext", Symbol: "399006.SZ", Market: domain.MarketCN, AssetClass: domain.AssetClassIndex, Currency: "CNY",
		Description: "Growth companies listed on the ChiNext board"},
	{ID: "szse100", Name: "SZSE 100", Symbol: "399330.SZ", Market: domain.MarketCN, AssetClass: domain.AssetClassIndex, Currency: "CNY",
		Description: "100 largest, most active Shenzhen A-shares"},

	{ID: "spy", Name: "SPDR S&P 500 ETF", Symbol: "SPY", Market: domain.MarketUS, AssetClass: domain.AssetClassETF, Currency: "USD",
		Description: "Tracks the S&P 500"},
	{ID: "qqq", Name: "Invesco QQQ", Symbol: "QQQ", Market: domain.MarketUS, AssetClass: domain.AssetClassETF, Currency: "USD",
		Description: "Tracks the Nasdaq-100"},
	{ID: "dia", Name: "SPDR Dow Jones Industrial Average ETF", Symbol: "DIA", Market: domain.MarketUS, AssetClass: domain.AssetClassETF, Currency: "USD",
		Description: "Tracks the Dow Jones Industrial Average"},
	{ID: "iwm", Name: "iShares Russell 2000 ETF", Symbol: "IWM", Market: domain.MarketUS, AssetClass: domain.AssetClassETF, Currency: "USD",
		Description: "Tracks the Russell 2000"},
}

var builtinMarkets = []domain.MarketInfo{
	{Type: domain.MarketCN, Name: "China A-share", Currency: "CNY", Timezone: "Asia/Shanghai", OpenTime: "09:30", CloseTime: "15:00"},
	{Type: domain.MarketUS, Name: "United States", Currency: "USD", Timezone: "America/New_York", OpenTime: "09:30", CloseTime: "16:00"},
}

// Catalog is an immutable lookup of assets by ID.
type Catalog struct {
	assets  []domain.Asset
	byID    map[string]int
	markets []domain.MarketInfo
}

// Default returns the builtin catalog.
func Default() *Catalog {
	c, err := New(builtinAssets, builtinMarkets)
	if err != nil {
		panic(err)
	}
	return c
}

// New builds a catalog. IDs are matched case-insensitively and must be
// unique; every asset's market must be listed.
func New(assets []domain.Asset, markets []domain.MarketInfo) (*Catalog, error) {
	known := make(map[domain.Market]bool, len(markets))
	for _, m := range markets {
		known[m.Type] = true
	}

	c := &Catalog{
		assets:  append([]domain.Asset(nil), assets...),
		byID:    make(map[string]int, len(assets)),
		markets: append([]domain.MarketInfo(nil), markets...),
	}
	for i, a := range c.assets {
		id := strings.ToLower(a.ID)
		if id == "" || a.Symbol == "" {
			return nil, fmt.Errorf("catalog: asset %d needs an id and a symbol", i)
		}
		if _, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("catalog: duplicate asset id %q", a.ID)
		}
		if !known[a.Market] {
			return nil, fmt.Errorf("catalog: asset %q has unknown market %q", a.ID, a.Market)
		}
		c.byID[id] = i
	}
	return c, nil
}

// Asset looks up an asset by ID.
func (c *Catalog) Asset(id string) (domain.Asset, bool) {
	i, ok := c.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return domain.Asset{}, false
	}
	return c.assets[i], true
}

// Get is Asset with a domain.ErrNotFound error for unknown IDs.
func (c *Catalog) Get(id string) (domain.Asset, error) {
	a, ok := c.Asset(id)
	if !ok {
		return domain.Asset{}, fmt.Errorf("%w: asset %q", domain.ErrNotFound, id)
	}
	return a, nil
}

// List returns every asset in catalog order.
func (c *Catalog) List() []domain.Asset {
	return append([]domain.Asset(nil), c.assets...)
}

// ByMarket returns the assets of one market in catalog order.
func (c *Catalog) ByMarket(m domain.Market) []domain.Asset {
	var out []domain.Asset
	for _, a := range c.assets {
		if a.Market == m {
			out = append(out, a)
		}
	}
	return out
}

// Markets returns the served markets sorted by type.
func (c *Catalog) Markets() []domain.MarketInfo {
	out := append([]domain.MarketInfo(nil), c.markets...)
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
