// Package persist 把整份钱包状态加密后落盘，启动时读回。
//
// 落盘格式：根文档 {version, savedAt, slices} -> JSON -> zstd -> secretstore.Seal。
// 每个 slice 有自己的黑名单，黑名单里的顶层字段不写盘。
package persist

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/segmentio/encoding/json"
	"gopherwallet.com/internal/secretstore"
	"gopherwallet.com/internal/wallet/state"
)

const formatVersion = 1

type Slice string

const (
	SliceApp           Slice = "APP"
	SliceWallet        Slice = "WALLET"
	SliceBitPayID      Slice = "BITPAY_ID"
	SliceBuyCrypto     Slice = "BUY_CRYPTO"
	SliceCard          Slice = "CARD"
	SliceLocation      Slice = "LOCATION"
	SliceLog           Slice = "LOG"
	SliceShop          Slice = "SHOP"
	SliceSwapCrypto    Slice = "SWAP_CRYPTO"
	SliceRate          Slice = "RATE"
	SliceContact       Slice = "CONTACT"
	SliceCoinbase      Slice = "COINBASE"
	SliceWalletConnect Slice = "WALLET_CONNECT"
)

// Slices 除 WALLET 以外都是其他模块的数据，这里原样透传
var Slices = []Slice{
	SliceApp, SliceWallet, SliceBitPayID, SliceBuyCrypto, SliceCard, SliceLocation, SliceLog,
	SliceShop, SliceSwapCrypto, SliceRate, SliceContact, SliceCoinbase, SliceWalletConnect,
}

func (s Slice) Valid() bool {
	for _, v := range Slices {
		if v == s {
			return true
		}
	}
	return false
}

// Blacklist 重启后会重新拉取的数据不落盘
var Blacklist = map[Slice][]string{
	SliceWallet: {"priceHistory", "tokenOptions", "tokenOptionsByAddress"},
	SliceApp:    {"appIsLoading", "appWasInit"},
	SliceShop:   {"availableCardMap"},
	SliceCard:   {"fetchCardsStatus"},
}

var ErrVersion = errors.New("persist: unsupported snapshot version")

type root struct {
	Version int                       `json:"version"`
	SavedAt int64                     `json:"savedAt"` // unix ms
	Slices  map[Slice]json.RawMessage `json:"slices"`
}

// Snapshot 解出来的内容
type Snapshot struct {
	SavedAt int64
	Wallet  state.Document
	Extra   map[Slice]json.RawMessage // WALLET 之外的 slice
}

type codec struct {
	key secretstore.DeviceKey
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec(key secretstore.DeviceKey) (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
	if err != nil {
		return nil, err
	}
	return &codec{key: key, enc: enc, dec: dec}, nil
}

func (c *codec) Close() {
	_ = c.enc.Close()
	c.dec.Close()
}

func (c *codec) encode(doc state.Document, extra map[Slice]json.RawMessage, savedAt int64) ([]byte, error) {
	wallet, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("persist: marshal wallet: %w", err)
	}
	r := root{Version: formatVersion, SavedAt: savedAt, Slices: make(map[Slice]json.RawMessage, len(extra)+1)}
	for name, raw := range extra {
		if name == SliceWallet || len(raw) == 0 {
			continue
		}
		if r.Slices[name], err = strip(raw, Blacklist[name]); err != nil {
			return nil, fmt.Errorf("persist: slice %s: %w", name, err)
		}
	}
	if r.Slices[SliceWallet], err = strip(wallet, Blacklist[SliceWallet]); err != nil {
		return nil, err
	}

	plain, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return secretstore.Seal(c.enc.EncodeAll(plain, nil), c.key)
}

// decode 任何一步失败都说明这份数据用不了，调用方按可恢复的数据丢失处理
func (c *codec) decode(blob []byte) (Snapshot, error) {
	compressed, err := secretstore.Unseal(blob, c.key)
	if err != nil {
		return Snapshot{}, err
	}
	plain, err := c.dec.DecodeAll(compressed, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("persist: decompress: %w", err)
	}
	var r root
	if err := json.Unmarshal(plain, &r); err != nil {
		return Snapshot{}, fmt.Errorf("persist: decode root: %w", err)
	}
	if r.Version != formatVersion {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrVersion, r.Version)
	}
	snap := Snapshot{SavedAt: r.SavedAt, Extra: make(map[Slice]json.RawMessage, len(r.Slices))}
	for name, raw := range r.Slices {
		if name == SliceWallet {
			if err := json.Unmarshal(raw, &snap.Wallet); err != nil {
				return Snapshot{}, fmt.Errorf("persist: decode wallet slice: %w", err)
			}
			continue
		}
		snap.Extra[name] = raw
	}
	return snap, nil
}

// strip 删掉 JSON 对象里的黑名单字段，不是对象的原样返回
func strip(raw json.RawMessage, fields []string) (json.RawMessage, error) {
	if len(fields) == 0 {
		return raw, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw, nil
	}
	for _, f := range fields {
		delete(obj, f)
	}
	return json.Marshal(obj)
}
