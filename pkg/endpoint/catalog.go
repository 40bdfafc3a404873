package endpoint

import (
	"time"

	"iexcloud/pkg/normalize"
)

// Stock endpoint ids. Each has a "batch-" twin served by stock/market/batch.
const (
	Quote           = "quote"
	Chart           = "chart"
	IntradayPrices  = "intraday-prices"
	Book            = "book"
	OHLC            = "ohlc"
	Previous        = "previous"
	Company         = "company"
	KeyStats        = "stats"
	Peers           = "peers"
	Relevant        = "relevant"
	News            = "news"
	Financials      = "financials"
	Earnings        = "earnings"
	Dividends       = "dividends"
	Splits          = "splits"
	Logo            = "logo"
	Price           = "price"
	DelayedQuote    = "delayed-quote"
	EffectiveSpread = "effective-spread"
	VolumeByVenue   = "volume-by-venue"
	LargestTrades   = "largest-trades"
	OptionDates     = "options"
	OptionChain     = "options-chain"
)

// Market, reference, crypto, IEX, data and account endpoint ids.
const (
	MarketList         = "market-list"
	MarketCollection   = "market-collection"
	MarketNews         = "market-news"
	MarketOHLC         = "market-ohlc"
	MarketPrevious     = "market-previous"
	SectorPerformance  = "sector-performance"
	MarketVolume       = "market-volume"
	EarningsToday      = "earnings-today"
	IPOCalendar        = "ipo-calendar"
	RefSymbols         = "ref-symbols"
	RefIEXSymbols      = "ref-iex-symbols"
	RefSectors         = "ref-sectors"
	RefExchanges       = "ref-exchanges"
	RefRegionSymbols   = "ref-region-symbols"
	RefExchangeSymbols = "ref-exchange-symbols"
	RefTradingDates    = "ref-trading-dates"
	CryptoQuote        = "crypto-quote"
	CryptoBook         = "crypto-book"
	CryptoPrice        = "crypto-price"
	TOPS               = "tops"
	TOPSLast           = "tops-last"
	DEEP               = "deep"
	DEEPBook           = "deep-book"
	StatsIntraday      = "stats-intraday"
	StatsRecent        = "stats-recent"
	StatsRecords       = "stats-records"
	StatsHistorical    = "stats-historical"
	StatsDaily         = "stats-daily"
	TimeSeries         = "time-series"
	DataPoints         = "data-points"
	DataPoint          = "data-point"
	AccountMetadata    = "account-metadata"
	AccountUsage       = "account-usage"
	PayAsYouGo         = "account-payasyougo"
	APIStatus          = "api-status"
	UpcomingEarnings   = "upcoming-earnings"
	SocialSentiment    = "social-sentiment"
	SentimentMinute    = "social-sentiment-minute"
	// BatchEndpoints fetches several stock endpoint types per symbol in one
	// stock/market/batch call.
	BatchEndpoints = "batch-endpoints"
)

// Rate-limit buckets for endpoints with their own request budget.
const (
	BucketBatch   = "batch"
	BucketRefData = "ref-data"
)

// BatchPrefix prefixes the id of every stock/market/batch twin.
const BatchPrefix = "batch-"

// MaxBatchSymbols is the symbol ceiling of stock/market/batch.
const MaxBatchSymbols = 100

// MaxBatchTypes is the most endpoint types one stock/market/batch call may carry.
const MaxBatchTypes = 10

// Allowed values shared by several endpoints.
var (
	ChartRanges    = []string{"max", "5y", "2y", "1y", "ytd", "6m", "3m", "1m", "1mm", "5d", "5dm", "1d", "date", "dynamic"}
	EventRanges    = []string{"5y", "2y", "1y", "ytd", "6m", "3m", "1m", "next"}
	MoverLists     = []string{"mostactive", "gainers", "losers", "iexvolume", "iexpercent", "infocus"}
	CollectionKind = []string{"sector", "tag", "list"}
	IPOPeriods     = []string{"upcoming-ipos", "today-ipos"}
	UsageTypes     = []string{"messages", "rules", "rule-records", "alerts", "alert-records"}
)

const refDataTTL = 24 * time.Hour

func symbolParam() ParamSpec {
	return ParamSpec{Name: "symbol", Type: TypeSymbol, In: InPath, Required: true}
}

func filterParam() ParamSpec {
	return ParamSpec{Name: "filter", Type: TypeString}
}

func flat(index string) normalize.Spec {
	return normalize.Spec{Shape: normalize.ShapeFlatObject, IndexField: index}
}

func array() normalize.Spec {
	return normalize.Spec{Shape: normalize.ShapeObjectArray}
}

func stock(id, sub string, spec normalize.Spec, empty EmptyPolicy, weight int, params ...ParamSpec) *Descriptor {
	return &Descriptor{
		ID:          id,
		Method:      "GET",
		Path:        "stock/{symbol}/" + sub,
		Params:      append([]ParamSpec{symbolParam(), filterParam()}, params...),
		Result:      spec,
		Empty:       empty,
		SymbolParam: "symbol",
		Weight:      weight,
	}
}

// batchOf derives the stock/market/batch twin of a single-symbol stock
// descriptor. Path parameters other than the symbol move to the query.
func batchOf(d *Descriptor, typ string, item normalize.Shape) *Descriptor {
	params := []ParamSpec{{Name: "symbols", Type: TypeSymbolList, Required: true}}
	for _, p := range d.Params {
		if p.Name == "symbol" || p.Name == "date" {
			continue
		}
		p.In = InQuery
		params = append(params, p)
	}
	spec := normalize.Spec{
		Shape:        normalize.ShapeKeyedBySymbol,
		ItemPath:     typ,
		ItemShape:    item,
		Fields:       d.Result.Fields,
		Aliases:      d.Result.Aliases,
		IndexField:   normalize.SymbolField,
		ValueField:   d.Result.ValueField,
		TimeField:    d.Result.TimeField,
		TimeSubField: d.Result.TimeSubField,
	}
	if d.Result.ResultPath != "" {
		spec.ItemPath = typ + "." + d.Result.ResultPath
	}
	return &Descriptor{
		ID:          BatchPrefix + d.ID,
		Description: "batch " + d.ID,
		Method:      "GET",
		Path:        "stock/market/batch",
		Params:      params,
		Fixed:       map[string]string{"types": typ},
		Result:      spec,
		Empty:       d.Empty,
		SymbolParam: "symbols",
		MaxBatch:    MaxBatchSymbols,
		Splittable:  true,
		Weight:      d.Weight,
		Bucket:      BucketBatch,
		CacheTTL:    d.CacheTTL,
	}
}

func catalog() []*Descriptor {
	timeSeries := normalize.Spec{Shape: normalize.ShapeTimeSeries, TimeField: "date", TimeSubField: "minute"}

	quote := stock(Quote, "quote", flat("symbol"), EmptyNotFound, 1,
		ParamSpec{Name: "displayPercent", Type: TypeBool})
	chart := stock(Chart, "chart/{range}/{date}", timeSeries, EmptyResult, 10,
		ParamSpec{Name: "range", Type: TypeEnum, In: InPath, Allowed: ChartRanges, Default: "1m"},
		ParamSpec{Name: "date", Type: TypeDate, In: InPath},
		ParamSpec{Name: "exactDate", Type: TypeDate},
		ParamSpec{Name: "chartCloseOnly", Type: TypeBool},
		ParamSpec{Name: "chartByDay", Type: TypeBool},
		ParamSpec{Name: "chartSimplify", Type: TypeBool},
		ParamSpec{Name: "chartInterval", Type: TypeInt, Rule: "min=1"},
		ParamSpec{Name: "chartLast", Type: TypeInt, Rule: "min=1"},
		ParamSpec{Name: "changeFromClose", Type: TypeBool},
		ParamSpec{Name: "includeToday", Type: TypeBool},
		ParamSpec{Name: "sort", Type: TypeEnum, Allowed: []string{"asc", "desc"}},
	)
	book := stock(Book, "book", flat("quote.symbol"), EmptyNotFound, 1)
	ohlc := stock(OHLC, "ohlc", flat(""), EmptyNotFound, 2)
	previous := stock(Previous, "previous", flat("symbol"), EmptyNotFound, 2)
	company := stock(Company, "company", flat("symbol"), EmptyNotFound, 1)
	stats := stock(KeyStats, "stats", flat(""), EmptyNotFound, 5)
	peers := stock(Peers, "peers", normalize.Spec{Shape: normalize.ShapeObjectArray, ValueField: "peer"}, EmptyResult, 500)
	relevant := stock(Relevant, "relevant", flat(""), EmptyResult, 500)
	news := stock(News, "news/last/{last}", array(), EmptyResult, 10,
		ParamSpec{Name: "last", Type: TypeInt, In: InPath, Default: 10, Rule: "min=1,max=50"})
	financials := stock(Financials, "financials",
		normalize.Spec{Shape: normalize.ShapeObjectArray, ResultPath: "financials", IndexField: "reportDate"}, EmptyResult, 5000,
		ParamSpec{Name: "period", Type: TypeEnum, Allowed: []string{"quarter", "annual"}},
		ParamSpec{Name: "last", Type: TypeInt, Rule: "min=1,max=12"})
	earnings := stock(Earnings, "earnings",
		normalize.Spec{Shape: normalize.ShapeObjectArray, ResultPath: "earnings", IndexField: "fiscalPeriod"}, EmptyResult, 1000,
		ParamSpec{Name: "period", Type: TypeEnum, Allowed: []string{"quarter", "annual"}},
		ParamSpec{Name: "last", Type: TypeInt, Rule: "min=1,max=12"})
	dividends := stock(Dividends, "dividends/{range}", normalize.Spec{Shape: normalize.ShapeObjectArray, IndexField: "exDate"}, EmptyResult, 10,
		ParamSpec{Name: "range", Type: TypeEnum, In: InPath, Allowed: EventRanges, Default: "1m"})
	splits := stock(Splits, "splits/{range}", normalize.Spec{Shape: normalize.ShapeObjectArray, IndexField: "exDate"}, EmptyResult, 10,
		ParamSpec{Name: "range", Type: TypeEnum, In: InPath, Allowed: EventRanges, Default: "1m"})
	logo := stock(Logo, "logo", flat(""), EmptyNotFound, 1)
	price := stock(Price, "price", normalize.Spec{Shape: normalize.ShapeScalar, ValueField: "price"}, EmptyNotFound, 1)
	delayed := stock(DelayedQuote, "delayed-quote", flat("symbol"), EmptyNotFound, 1)
	spread := stock(EffectiveSpread, "effective-spread", array(), EmptyResult, 1)
	venue := stock(VolumeByVenue, "volume-by-venue", array(), EmptyResult, 20)
	largest := stock(LargestTrades, "largest-trades", array(), EmptyResult, 1)

	stockDescs := []*Descriptor{quote, chart, book, ohlc, previous, company, stats, peers, relevant,
		news, financials, earnings, dividends, splits, logo, price, delayed, spread, venue, largest}

	var batches []*Descriptor
	for _, d := range stockDescs {
		if d.Result.Shape == normalize.ShapeScalar {
			continue
		}
		item := normalize.ShapeFlatObject
		if d.Result.Shape == normalize.ShapeObjectArray || d.Result.Shape == normalize.ShapeTimeSeries {
			item = d.Result.Shape
		}
		batches = append(batches, batchOf(d, d.ID, item))
	}

	intraday := stock(IntradayPrices, "intraday-prices", timeSeries, EmptyResult, 1,
		ParamSpec{Name: "exactDate", Type: TypeDate},
		ParamSpec{Name: "chartIEXOnly", Type: TypeBool},
		ParamSpec{Name: "chartLast", Type: TypeInt, Rule: "min=1"},
		ParamSpec{Name: "chartInterval", Type: TypeInt, Rule: "min=1"})
	batches = append(batches, batchOf(intraday, intraday.ID, normalize.ShapeTimeSeries))

	others := []*Descriptor{
		intraday,
		stock(SocialSentiment, "sentiment/daily/{date}", flat(""), EmptyResult, 100,
			ParamSpec{Name: "date", Type: TypeDate, In: InPath}),
		stock(SentimentMinute, "sentiment/minute/{date}",
			normalize.Spec{Shape: normalize.ShapeObjectArray, IndexField: "minute"}, EmptyResult, 100,
			ParamSpec{Name: "date", Type: TypeDate, In: InPath}),
		{ID: BatchEndpoints, Path: "stock/market/batch", Empty: EmptyResult, Bucket: BucketBatch,
			Result:      normalize.Spec{Shape: normalize.ShapeKeyedBySymbol},
			SymbolParam: "symbols", MaxBatch: MaxBatchSymbols, AllowExtra: true,
			Params: []ParamSpec{
				{Name: "symbols", Type: TypeSymbolList, Required: true},
				{Name: "types", Type: TypeString, Required: true},
				filterParam(),
			}},
		stock(OptionDates, "options", normalize.Spec{Shape: normalize.ShapeObjectArray, ValueField: "expiration"}, EmptyResult, 1),
		stock(OptionChain, "options/{expiration}/{side}", array(), EmptyResult, 1000,
			ParamSpec{Name: "expiration", Type: TypeString, In: InPath, Required: true, Rule: "len=6,numeric"},
			ParamSpec{Name: "side", Type: TypeEnum, In: InPath, Allowed: []string{"call", "put"}}),

		{ID: MarketList, Path: "stock/market/list/{list}", Result: array(), Empty: EmptyResult,
			Params: []ParamSpec{
				{Name: "list", Type: TypeEnum, In: InPath, Required: true, Allowed: MoverLists},
				{Name: "displayPercent", Type: TypeBool},
				{Name: "listLimit", Type: TypeInt, Rule: "min=1,max=100"},
			}},
		{ID: MarketCollection, Path: "stock/market/collection/{collectionType}", Result: array(), Empty: EmptyResult,
			Params: []ParamSpec{
				{Name: "collectionType", Type: TypeEnum, In: InPath, Required: true, Allowed: CollectionKind},
				{Name: "collectionName", Type: TypeString, Required: true},
			}},
		{ID: MarketNews, Path: "stock/market/news/last/{last}", Result: array(), Empty: EmptyResult, Weight: 10,
			Params: []ParamSpec{{Name: "last", Type: TypeInt, In: InPath, Default: 10, Rule: "min=1,max=50"}}},
		{ID: MarketOHLC, Path: "stock/market/ohlc", Result: normalize.Spec{Shape: normalize.ShapeKeyedBySymbol}, Empty: EmptyResult},
		{ID: MarketPrevious, Path: "stock/market/previous", Result: normalize.Spec{Shape: normalize.ShapeKeyedBySymbol}, Empty: EmptyResult},
		{ID: SectorPerformance, Path: "stock/market/sector-performance", Result: normalize.Spec{Shape: normalize.ShapeObjectArray, IndexField: "name"}, Empty: EmptyResult},
		{ID: MarketVolume, Path: "market", Result: normalize.Spec{Shape: normalize.ShapeObjectArray, IndexField: "mic"}, Empty: EmptyResult},
		{ID: EarningsToday, Path: "stock/market/today-earnings", Result: flat(""), Empty: EmptyResult},
		{ID: UpcomingEarnings, Path: "stock/market/upcoming-earnings", Empty: EmptyResult,
			Result: normalize.Spec{Shape: normalize.ShapeObjectArray, IndexField: "symbol"}},
		{ID: IPOCalendar, Path: "stock/market/{period}", Empty: EmptyResult,
			Result: normalize.Spec{Shape: normalize.ShapeObjectArray, ResultPath: "rawData", IndexField: "symbol"},
			Params: []ParamSpec{{Name: "period", Type: TypeEnum, In: InPath, Allowed: IPOPeriods, Default: "upcoming-ipos"}}},

		{ID: RefSymbols, Path: "ref-data/symbols", Result: array(), Empty: EmptyResult, CacheTTL: refDataTTL, Bucket: BucketRefData, Weight: 100},
		{ID: RefIEXSymbols, Path: "ref-data/iex/symbols", Result: array(), Empty: EmptyResult, CacheTTL: refDataTTL, Bucket: BucketRefData},
		{ID: RefSectors, Path: "ref-data/sectors", Result: array(), Empty: EmptyResult, CacheTTL: refDataTTL, Bucket: BucketRefData},
		{ID: RefExchanges, Path: "ref-data/exchanges", Result: array(), Empty: EmptyResult, CacheTTL: refDataTTL, Bucket: BucketRefData},
		{ID: RefRegionSymbols, Path: "ref-data/region/{region}/symbols", Result: array(), Empty: EmptyResult, CacheTTL: refDataTTL, Bucket: BucketRefData, Weight: 100,
			Params: []ParamSpec{{Name: "region", Type: TypeString, In: InPath, Required: true, Rule: "len=2,alpha"}}},
		{ID: RefExchangeSymbols, Path: "ref-data/exchange/{exchange}/symbols", Result: array(), Empty: EmptyResult, CacheTTL: refDataTTL, Bucket: BucketRefData, Weight: 100,
			Params: []ParamSpec{{Name: "exchange", Type: TypeString, In: InPath, Required: true, Rule: "min=2,max=10"}}},
		{ID: RefTradingDates, Path: "ref-data/us/dates/{type}/{direction}/{last}/{startDate}", Result: array(), Empty: EmptyResult, CacheTTL: refDataTTL, Bucket: BucketRefData,
			Params: []ParamSpec{
				{Name: "type", Type: TypeEnum, In: InPath, Allowed: []string{"trade", "holiday"}, Default: "trade"},
				{Name: "direction", Type: TypeEnum, In: InPath, Allowed: []string{"next", "last"}, Default: "next"},
				{Name: "last", Type: TypeInt, In: InPath, Default: 1, Rule: "min=1"},
				{Name: "startDate", Type: TypeDate, In: InPath},
			}},

		{ID: CryptoQuote, Path: "crypto/{symbol}/quote", Result: flat("symbol"), Empty: EmptyNotFound, SymbolParam: "symbol",
			Params: []ParamSpec{symbolParam()}},
		{ID: CryptoBook, Path: "crypto/{symbol}/book", Result: flat(""), Empty: EmptyNotFound, SymbolParam: "symbol",
			Params: []ParamSpec{symbolParam()}},
		{ID: CryptoPrice, Path: "crypto/{symbol}/price", Result: flat("symbol"), Empty: EmptyNotFound, SymbolParam: "symbol",
			Params: []ParamSpec{symbolParam()}},

		{ID: TOPS, Path: "tops", Result: normalize.Spec{Shape: normalize.ShapeObjectArray, IndexField: "symbol"}, Empty: EmptyResult,
			SymbolParam: "symbols", MaxBatch: MaxBatchSymbols, Splittable: true,
			Params: []ParamSpec{{Name: "symbols", Type: TypeSymbolList}}},
		{ID: TOPSLast, Path: "tops/last", Result: normalize.Spec{Shape: normalize.ShapeObjectArray, IndexField: "symbol"}, Empty: EmptyResult,
			SymbolParam: "symbols", MaxBatch: MaxBatchSymbols, Splittable: true,
			Params: []ParamSpec{{Name: "symbols", Type: TypeSymbolList}}},
		{ID: DEEP, Path: "deep", Result: flat("symbol"), Empty: EmptyNotFound, SymbolParam: "symbols",
			Params: []ParamSpec{{Name: "symbols", Type: TypeSymbol, Required: true}}},
		{ID: DEEPBook, Path: "deep/book", Result: normalize.Spec{Shape: normalize.ShapeKeyedBySymbol}, Empty: EmptyNotFound,
			SymbolParam: "symbols", MaxBatch: 10,
			Params: []ParamSpec{{Name: "symbols", Type: TypeSymbolList, Required: true}}},

		{ID: StatsIntraday, Path: "stats/intraday", Result: flat(""), Empty: EmptyResult},
		{ID: StatsRecent, Path: "stats/recent", Result: normalize.Spec{Shape: normalize.ShapeTimeSeries, TimeField: "date"}, Empty: EmptyResult},
		{ID: StatsRecords, Path: "stats/records", Result: flat(""), Empty: EmptyResult},
		{ID: StatsHistorical, Path: "stats/historical", Result: array(), Empty: EmptyResult,
			Params: []ParamSpec{{Name: "date", Type: TypeDate, Layout: "200601"}}},
		{ID: StatsDaily, Path: "stats/historical/daily", Result: array(), Empty: EmptyResult,
			Params: []ParamSpec{
				{Name: "date", Type: TypeDate},
				{Name: "last", Type: TypeInt, Rule: "min=1,max=90"},
			}},

		{ID: TimeSeries, Path: "time-series/{id}/{key}/{subkey}", Result: array(), Empty: EmptyResult, AllowExtra: true,
			Params: []ParamSpec{
				{Name: "id", Type: TypeString, In: InPath, Required: true},
				{Name: "key", Type: TypeString, In: InPath},
				{Name: "subkey", Type: TypeString, In: InPath},
				{Name: "range", Type: TypeString},
				{Name: "calendar", Type: TypeBool},
				{Name: "limit", Type: TypeInt, Rule: "min=1"},
				{Name: "last", Type: TypeInt, Rule: "min=1"},
				{Name: "first", Type: TypeInt, Rule: "min=1"},
				{Name: "from", Type: TypeDate, Layout: "2006-01-02"},
				{Name: "to", Type: TypeDate, Layout: "2006-01-02"},
			}},
		{ID: DataPoints, Path: "data-points/{symbol}", Result: array(), Empty: EmptyResult, SymbolParam: "symbol",
			Params: []ParamSpec{symbolParam()}},
		{ID: DataPoint, Path: "data-points/{symbol}/{key}", Result: normalize.Spec{Shape: normalize.ShapeScalar, ValueField: "value"},
			Empty: EmptyNotFound, SymbolParam: "symbol",
			Params: []ParamSpec{symbolParam(), {Name: "key", Type: TypeString, In: InPath, Required: true}}},

		{ID: AccountMetadata, Path: "account/metadata", Result: flat(""), Empty: EmptyNotFound, CacheTTL: -1},
		{ID: AccountUsage, Path: "account/usage/{type}", Result: flat(""), Empty: EmptyResult, CacheTTL: -1,
			Params: []ParamSpec{{Name: "type", Type: TypeEnum, In: InPath, Allowed: UsageTypes}}},
		{ID: PayAsYouGo, Method: "POST", Path: "account/payasyougo", Result: flat(""), Empty: EmptyResult, CacheTTL: -1,
			Params: []ParamSpec{{Name: "allow", Type: TypeBool, In: InBody, Required: true}}},
		{ID: APIStatus, Path: "status", Result: flat(""), Empty: EmptyNotFound, CacheTTL: -1},
	}

	out := append(stockDescs, batches...)
	return append(out, others...)
}
