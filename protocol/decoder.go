package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed reports a frame that cannot be decoded: invalid syntax or a
// data message missing required fields. Callers drop the frame and keep going.
var ErrMalformed = errors.New("protocol: malformed message")

// envelope is the raw wire shape shared by data and control frames.
type envelope struct {
	Event  string          `json:"event,omitempty"`
	Code   string          `json:"code,omitempty"`
	Msg    string          `json:"msg,omitempty"`
	Arg    Arg             `json:"arg"`
	Action Action          `json:"action,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Decode turns one raw frame into a typed Message. It is stateless and keeps
// no memory of prior frames.
//
// Control frames ({"event":...}) become KindEvent, the heartbeat reply "pong"
// becomes KindPong, and unknown channels become KindOther. Data frames are
// validated per channel; any missing required field yields ErrMalformed.
func Decode(raw []byte) (*Message, error) {
	if string(bytes.TrimSpace(raw)) == "pong" {
		return &Message{Kind: KindPong}, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}

	if env.Event != "" {
		return &Message{
			Kind:  KindEvent,
			Arg:   env.Arg,
			Event: env.Event,
			Code:  env.Code,
			Msg:   env.Msg,
		}, nil
	}

	switch env.Arg.Channel {
	case ChannelBooks:
		return decodeBooks(&env)
	case ChannelBboTbt:
		return decodeBbo(&env)
	case ChannelTickers:
		return decodeTickers(&env)
	case ChannelTrades:
		return decodeTrades(&env)
	default:
		return &Message{Kind: KindOther, Arg: env.Arg}, nil
	}
}

func decodeBooks(env *envelope) (*Message, error) {
	if env.Arg.InstID == "" {
		return nil, fmt.Errorf("%w: books frame without instId", ErrMalformed)
	}

	var kind Kind
	switch env.Action {
	case ActionSnapshot:
		kind = KindSnapshot
	case ActionUpdate:
		kind = KindUpdate
	default:
		return nil, fmt.Errorf("%w: books frame with action %q", ErrMalformed, env.Action)
	}

	data, err := decodeBookData(env)
	if err != nil {
		return nil, err
	}
	for i := range data {
		if data[i].SeqID == nil {
			return nil, fmt.Errorf("%w: books frame without seqId", ErrMalformed)
		}
		if data[i].TS == 0 {
			return nil, fmt.Errorf("%w: books frame without ts", ErrMalformed)
		}
	}

	return &Message{Kind: kind, Arg: env.Arg, Action: env.Action, Book: data}, nil
}

func decodeBbo(env *envelope) (*Message, error) {
	if env.Arg.InstID == "" {
		return nil, fmt.Errorf("%w: bbo frame without instId", ErrMalformed)
	}

	data, err := decodeBookData(env)
	if err != nil {
		return nil, err
	}
	for i := range data {
		if data[i].TS == 0 {
			return nil, fmt.Errorf("%w: bbo frame without ts", ErrMalformed)
		}
	}

	return &Message{Kind: KindBbo, Arg: env.Arg, Book: data}, nil
}

func decodeBookData(env *envelope) ([]BookData, error) {
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %s frame without data", ErrMalformed, env.Arg.Channel)
	}

	var data []BookData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s frame with empty data", ErrMalformed, env.Arg.Channel)
	}

	for i := range data {
		for _, l := range data[i].Asks {
			if len(l) < 2 {
				return nil, fmt.Errorf("%w: ask level with %d fields", ErrMalformed, len(l))
			}
		}
		for _, l := range data[i].Bids {
			if len(l) < 2 {
				return nil, fmt.Errorf("%w: bid level with %d fields", ErrMalformed, len(l))
			}
		}
	}

	return data, nil
}

func decodeTickers(env *envelope) (*Message, error) {
	if env.Arg.InstID == "" {
		return nil, fmt.Errorf("%w: ticker frame without instId", ErrMalformed)
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: ticker frame without data", ErrMalformed)
	}

	var data []TickerData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: ticker frame with empty data", ErrMalformed)
	}
	for i := range data {
		if data[i].TS == 0 {
			return nil, fmt.Errorf("%w: ticker frame without ts", ErrMalformed)
		}
	}

	return &Message{Kind: KindTicker, Arg: env.Arg, Tickers: data}, nil
}

func decodeTrades(env *envelope) (*Message, error) {
	if env.Arg.InstID == "" {
		return nil, fmt.Errorf("%w: trades frame without instId", ErrMalformed)
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: trades frame without data", ErrMalformed)
	}

	var data []TradeData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	for i := range data {
		if data[i].TradeID == "" || data[i].Px == "" || data[i].Sz == "" {
			return nil, fmt.Errorf("%w: incomplete trade", ErrMalformed)
		}
		if data[i].TS == 0 {
			return nil, fmt.Errorf("%w: trade without ts", ErrMalformed)
		}
	}

	return &Message{Kind: KindTrades, Arg: env.Arg, Trades: data}, nil
}
