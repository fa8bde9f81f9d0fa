package market

import (
	"errors"
	"fmt"
)

// Endpoint 行情子接口标识
type Endpoint string

const (
	EndpointTicker24h      Endpoint = "ticker24h"
	EndpointDepth          Endpoint = "depth"
	EndpointTrades         Endpoint = "trades"
	EndpointKlines         Endpoint = "klines"
	EndpointOpenInterest   Endpoint = "openInterest"
	EndpointForceOrders    Endpoint = "forceOrders"
	EndpointLongShortRatio Endpoint = "longShortRatio"
)

// Endpoints 固定的子接口集合，Fetch 按此顺序返回结果
var Endpoints = []Endpoint{
	EndpointTicker24h,
	EndpointDepth,
	EndpointTrades,
	EndpointKlines,
	EndpointOpenInterest,
	EndpointForceOrders,
	EndpointLongShortRatio,
}

// Payload 子接口成功响应的类型化载荷（封闭接口，仅本包类型实现）
type Payload interface {
	endpoint() Endpoint
}

// SubResult 单个子接口的结果：Payload 与 Err 二选一
type SubResult struct {
	Endpoint Endpoint
	Payload  Payload
	Err      error
}

func (r SubResult) OK() bool { return r.Err == nil && r.Payload != nil }

// Successful 过滤出成功的子结果
func Successful(results []SubResult) []SubResult {
	out := make([]SubResult, 0, len(results))
	for _, r := range results {
		if r.OK() {
			out = append(out, r)
		}
	}
	return out
}

var ErrUnexpectedStatus = errors.New("unexpected http status")

// EndpointError 标记到具体子接口的错误
type EndpointError struct {
	Symbol   string
	Endpoint Endpoint
	Err      error
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Symbol, e.Endpoint, e.Err)
}

func (e *EndpointError) Unwrap() error { return e.Err }

type Ticker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	CloseTime          int64  `json:"closeTime"`
}

type Depth struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type Trade struct {
	ID           int64  `json:"id"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	Time         int64  `json:"time"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
}

type Trades []Trade

// Kline 一根 K 线；原始响应为混合类型数组，按下标解析
type Kline struct {
	OpenTime  int64
	Open      string
	High      string
	Low       string
	Close     string
	Volume    string
	CloseTime int64
}

type Klines struct {
	Interval string
	Rows     []Kline
}

type OpenInterest struct {
	Symbol       string `json:"symbol"`
	OpenInterest string `json:"openInterest"`
	Time         int64  `json:"time"`
}

type ForceOrder struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	OrigQty     string `json:"origQty"`
	ExecutedQty string `json:"executedQty"`
	AvgPrice    string `json:"averagePrice"`
	Time        int64  `json:"time"`
}

type ForceOrders []ForceOrder

type LongShortRatio struct {
	Symbol         string `json:"symbol"`
	LongShortRatio string `json:"longShortRatio"`
	LongAccount    string `json:"longAccount"`
	ShortAccount   string `json:"shortAccount"`
	Timestamp      int64  `json:"timestamp"`
}

type LongShortRatios []LongShortRatio

func (Ticker24h) endpoint() Endpoint       { return EndpointTicker24h }
func (Depth) endpoint() Endpoint           { return EndpointDepth }
func (Trades) endpoint() Endpoint          { return EndpointTrades }
func (Klines) endpoint() Endpoint          { return EndpointKlines }
func (OpenInterest) endpoint() Endpoint    { return EndpointOpenInterest }
func (ForceOrders) endpoint() Endpoint     { return EndpointForceOrders }
func (LongShortRatios) endpoint() Endpoint { return EndpointLongShortRatio }
