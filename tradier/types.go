package tradier

type QuoteResponse struct {
	Quotes struct {
		Quote Quote `json:"quote"`
	} `json:"quotes"`
}

type Quote struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Prevclose float64 `json:"prevclose"`
	TradeDate int64   `json:"trade_date"`
}

type OptionExpirations struct {
	Expirations struct {
		Expiration []struct {
			Date           string `json:"date"`
			ContractSize   int    `json:"contract_size"`
			ExpirationType string `json:"expiration_type"`
			Strikes        struct {
				Strike []float64 `json:"strike"`
			} `json:"strikes"`
		} `json:"expiration"`
	} `json:"expirations"`
}

type Option struct {
	Symbol         string  `json:"symbol"`
	Underlying     string  `json:"underlying"`
	Strike         float64 `json:"strike"`
	Bid            float64 `json:"bid"`
	Ask            float64 `json:"ask"`
	Bidsize        int     `json:"bidsize"`
	BidDate        int64   `json:"bid_date"`
	Asksize        int     `json:"asksize"`
	AskDate        int64   `json:"ask_date"`
	OpenInterest   int     `json:"open_interest"`
	ContractSize   int     `json:"contract_size"`
	ExpirationDate string  `json:"expiration_date"`
	OptionType     string  `json:"option_type"`
	RootSymbol     string  `json:"root_symbol"`
}

type OptionChain struct {
	Options        OptionList `json:"options"`
	ExpirationDate string     `json:"expiration_date"`
}

type OptionList struct {
	Option []Option `json:"option"`
}
