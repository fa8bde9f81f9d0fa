package normalize

import (
	"fmt"
	"strings"
	"time"

	"TradeRAG/internal/modules/ai/domain/market"

	"github.com/shopspring/decimal"
)

const timeLayout = "2006-01-02 15:04 UTC"

var hundred = decimal.NewFromInt(100)

// Normalize 把一次 Fetch 的子结果转换为带时间戳的事实句子。
// 失败的子结果直接丢弃；now 仅在载荷自身没有时间字段时使用。
func Normalize(symbol string, results []market.SubResult, now time.Time) []string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	facts := make([]string, 0, len(results)+1)
	for _, r := range results {
		if !r.OK() {
			continue
		}
		switch p := r.Payload.(type) {
		case market.Ticker24h:
			facts = appendFact(facts, tickerFact(symbol, p, now))
		case market.Depth:
			facts = appendFact(facts, depthFact(symbol, p, now))
		case market.Trades:
			facts = appendFact(facts, tradesFact(symbol, p, now))
		case market.Klines:
			facts = appendFact(facts, klineRangeFact(symbol, p, now))
			facts = appendFact(facts, klineChangeFact(symbol, p, now))
		case market.OpenInterest:
			facts = appendFact(facts, openInterestFact(symbol, p, now))
		case market.ForceOrders:
			facts = appendFact(facts, forceOrdersFact(symbol, p, now))
		case market.LongShortRatios:
			facts = appendFact(facts, longShortFact(symbol, p, now))
		}
	}
	return facts
}

func appendFact(facts []string, f string) []string {
	if f == "" {
		return facts
	}
	return append(facts, f)
}

func tickerFact(symbol string, t market.Ticker24h, now time.Time) string {
	price, ok := parse(t.LastPrice)
	if !ok {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s Spot Price: $%s", symbol, price.String())
	if pct, ok := parse(t.PriceChangePercent); ok {
		fmt.Fprintf(&b, ", 24h Change %s%%", pct.StringFixed(2))
	}
	if hi, ok := parse(t.HighPrice); ok {
		fmt.Fprintf(&b, ", 24h High $%s", hi.String())
	}
	if lo, ok := parse(t.LowPrice); ok {
		fmt.Fprintf(&b, ", 24h Low $%s", lo.String())
	}
	if vol, ok := parse(t.Volume); ok {
		fmt.Fprintf(&b, ", 24h Volume %s", vol.String())
	}
	fmt.Fprintf(&b, " (as of %s)", stamp(t.CloseTime, now))
	return b.String()
}

func depthFact(symbol string, d market.Depth, now time.Time) string {
	if len(d.Bids) == 0 || len(d.Asks) == 0 || len(d.Bids[0]) < 2 || len(d.Asks[0]) < 2 {
		return ""
	}
	bid, ok1 := parse(d.Bids[0][0])
	bidQty, ok2 := parse(d.Bids[0][1])
	ask, ok3 := parse(d.Asks[0][0])
	askQty, ok4 := parse(d.Asks[0][1])
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return ""
	}
	return fmt.Sprintf("%s Order Book: Best Bid $%s (qty %s), Best Ask $%s (qty %s), Spread $%s (as of %s)",
		symbol, bid.String(), bidQty.String(), ask.String(), askQty.String(), ask.Sub(bid).String(), stamp(0, now))
}

func tradesFact(symbol string, ts market.Trades, now time.Time) string {
	if len(ts) == 0 {
		return ""
	}
	buy, sell := decimal.Zero, decimal.Zero
	var last int64
	n := 0
	for _, tr := range ts {
		qty, ok := parse(tr.Qty)
		if !ok {
			continue
		}
		n++
		// isBuyerMaker 表示主动方为卖方
		if tr.IsBuyerMaker {
			sell = sell.Add(qty)
		} else {
			buy = buy.Add(qty)
		}
		if tr.Time > last {
			last = tr.Time
		}
	}
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("%s Recent Trades: %d trades, Volume %s (Buy %s, Sell %s) (as of %s)",
		symbol, n, buy.Add(sell).String(), buy.String(), sell.String(), stamp(last, now))
}

func klineRangeFact(symbol string, k market.Klines, now time.Time) string {
	if len(k.Rows) == 0 {
		return ""
	}
	var hi, lo decimal.Decimal
	seen := false
	for _, row := range k.Rows {
		h, ok1 := parse(row.High)
		l, ok2 := parse(row.Low)
		if !ok1 || !ok2 {
			continue
		}
		if !seen {
			hi, lo, seen = h, l, true
			continue
		}
		hi = decimal.Max(hi, h)
		lo = decimal.Min(lo, l)
	}
	if !seen {
		return ""
	}
	return fmt.Sprintf("%s %s Range (last %d candles): High $%s, Low $%s (as of %s)",
		symbol, intervalLabel(k.Interval), len(k.Rows), hi.String(), lo.String(), stamp(k.Rows[len(k.Rows)-1].CloseTime, now))
}

// klineChangeFact 窗口涨跌幅：首根开盘价到末根收盘价，(end-start)/start*100
func klineChangeFact(symbol string, k market.Klines, now time.Time) string {
	change, ok := PercentChange(k.Rows)
	if !ok {
		return ""
	}
	first, last := k.Rows[0], k.Rows[len(k.Rows)-1]
	return fmt.Sprintf("%s %s Trend (last %d candles): Open $%s, Close $%s, Change %s%% (as of %s)",
		symbol, intervalLabel(k.Interval), len(k.Rows), mustString(first.Open), mustString(last.Close), change.StringFixed(2), stamp(last.CloseTime, now))
}

// PercentChange 少于 2 根 K 线或起始价为 0 时返回 false
func PercentChange(rows []market.Kline) (decimal.Decimal, bool) {
	if len(rows) < 2 {
		return decimal.Zero, false
	}
	start, ok1 := parse(rows[0].Open)
	end, ok2 := parse(rows[len(rows)-1].Close)
	if !ok1 || !ok2 || start.IsZero() {
		return decimal.Zero, false
	}
	return end.Sub(start).Div(start).Mul(hundred), true
}

func openInterestFact(symbol string, oi market.OpenInterest, now time.Time) string {
	v, ok := parse(oi.OpenInterest)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s Futures Open Interest: %s contracts (as of %s)", symbol, v.String(), stamp(oi.Time, now))
}

func forceOrdersFact(symbol string, fo market.ForceOrders, now time.Time) string {
	if len(fo) == 0 {
		return ""
	}
	// SELL 强平单对应多头被清算
	longLiq, shortLiq := decimal.Zero, decimal.Zero
	var last int64
	n := 0
	for _, o := range fo {
		qty, ok := parse(o.ExecutedQty)
		if !ok || qty.IsZero() {
			qty, ok = parse(o.OrigQty)
		}
		if !ok {
			continue
		}
		n++
		switch strings.ToUpper(o.Side) {
		case "SELL":
			longLiq = longLiq.Add(qty)
		case "BUY":
			shortLiq = shortLiq.Add(qty)
		}
		if o.Time > last {
			last = o.Time
		}
	}
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("%s Liquidations: %d forced orders, Longs Liquidated %s, Shorts Liquidated %s (as of %s)",
		symbol, n, longLiq.String(), shortLiq.String(), stamp(last, now))
}

func longShortFact(symbol string, ls market.LongShortRatios, now time.Time) string {
	if len(ls) == 0 {
		return ""
	}
	latest := ls[0]
	for _, r := range ls[1:] {
		if r.Timestamp > latest.Timestamp {
			latest = r
		}
	}
	// 大户账户多空比，按 longAccount:shortAccount 输出，缺字段时退回 longShortRatio
	var b strings.Builder
	long, ok1 := parse(latest.LongAccount)
	short, ok2 := parse(latest.ShortAccount)
	ratio, ok3 := parse(latest.LongShortRatio)
	switch {
	case ok1 && ok2:
		fmt.Fprintf(&b, "%s Long/Short Account Ratio: %s:%s", symbol, long.String(), short.String())
		if ok3 {
			fmt.Fprintf(&b, " (ratio %s)", ratio.StringFixed(2))
		}
	case ok3:
		fmt.Fprintf(&b, "%s Long/Short Account Ratio: %s", symbol, ratio.StringFixed(2))
	default:
		return ""
	}
	fmt.Fprintf(&b, " (as of %s)", stamp(latest.Timestamp, now))
	return b.String()
}

func parse(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func mustString(s string) string {
	d, ok := parse(s)
	if !ok {
		return s
	}
	return d.String()
}

// stamp 优先使用交易所返回的毫秒时间戳，保证相同行情得到相同文本
func stamp(ms int64, now time.Time) string {
	if ms > 0 {
		return time.UnixMilli(ms).UTC().Format(timeLayout)
	}
	return now.UTC().Format(timeLayout)
}

func intervalLabel(interval string) string {
	if interval == "" {
		return "Candle"
	}
	return interval
}
