package bitfinex

// event is an inbound JSON-object frame: subscribe acks, conf acks, info,
// and venue errors. Data frames are JSON arrays and never reach this type.
type event struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	ChanID  int64  `json:"chanId"`
	Symbol  string `json:"symbol"`
	Prec    string `json:"prec"`
	Key     string `json:"key"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	Version int    `json:"version"`
	Status  string `json:"status"`
}

type subscribeRequest struct {
	Event   string `json:"event"`
	Channel string `json:"channel,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
	Prec    string `json:"prec,omitempty"`
	Freq    string `json:"freq,omitempty"`
	Len     string `json:"len,omitempty"`
	Key     string `json:"key,omitempty"`
	Flags   int    `json:"flags,omitempty"`
}
