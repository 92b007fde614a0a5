package types

type IndicatorType string

const (
	IndicatorTypeRSI            IndicatorType = "rsi"
	IndicatorTypeMACD           IndicatorType = "macd"
	IndicatorTypeBollingerBands IndicatorType = "bollinger_bands"
	IndicatorTypeEMA            IndicatorType = "ema"
	IndicatorTypeATR            IndicatorType = "atr"
	IndicatorTypeMA             IndicatorType = "ma"
)
