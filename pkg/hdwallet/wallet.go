// 钱包功能
package hdwallet

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// BIP44 coin type
const (
	CoinBTC uint32 = 0
	CoinETH uint32 = 60
)

var (
	ErrInvalidMnemonic = errors.New("hdwallet: invalid mnemonic")
	ErrUnsupportedCoin = errors.New("hdwallet: invalid coin type")
)

type HDWallet struct {
	// 主私钥
	masterKey *hdkeychain.ExtendedKey
	btcParams *chaincfg.Params
}

// NewMnemonic 生成助记词，bits 取 128(12 词) 或 256(24 词)
func NewMnemonic(bits int) (string, error) {
	if bits == 0 {
		bits = 128
	}
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// NormalizeMnemonic 统一小写、压缩空白，跨端导入时大小写/多空格不应影响指纹
func NormalizeMnemonic(mnemonic string) string {
	return strings.Join(strings.Fields(strings.ToLower(mnemonic)), " ")
}

// New 传入助记词和网络参数，助记词必须通过 bip39 校验
func New(mnemonic string, netParams *chaincfg.Params) (*HDWallet, error) {
	mnemonic = NormalizeMnemonic(mnemonic)
	if mnemonic == "" || !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	if netParams == nil {
		netParams = &chaincfg.MainNetParams
	}
	seed := bip39.NewSeed(mnemonic, "")
	master, err := hdkeychain.NewMaster(seed, netParams)
	if err != nil {
		return nil, err
	}
	return &HDWallet{masterKey: master, btcParams: netParams}, nil
}

// Fingerprint 主公钥 Hash160 的前 4 字节，和网络无关
func (w *HDWallet) Fingerprint() (string, error) {
	pub, err := w.masterKey.ECPubKey()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(btcutil.Hash160(pub.SerializeCompressed())[:4]), nil
}

// RequestPubKey m/1'/0 的压缩公钥，服务端用它识别同一把 key 下的钱包
func (w *HDWallet) RequestPubKey() (string, error) {
	k, err := w.derive([]uint32{1 + hdkeychain.HardenedKeyStart, 0})
	if err != nil {
		return "", err
	}
	pub, err := k.ECPubKey()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(pub.SerializeCompressed()), nil
}

// DeriveAddress BIP44 路径: m / 44' / coin_type' / account' / 0 / index
func (w *HDWallet) DeriveAddress(coinType, account, index uint32) (string, error) {
	k, err := w.derive([]uint32{
		44 + hdkeychain.HardenedKeyStart,
		coinType + hdkeychain.HardenedKeyStart,
		account + hdkeychain.HardenedKeyStart,
		0,
		index,
	})
	if err != nil {
		return "", err
	}
	pub, err := k.ECPubKey()
	if err != nil {
		return "", err
	}
	return w.GetAddress(coinType, pub)
}

func (w *HDWallet) derive(path []uint32) (*hdkeychain.ExtendedKey, error) {
	key := w.masterKey
	var err error
	for _, idx := range path {
		if key, err = key.Derive(idx); err != nil {
			return nil, err
		}
	}
	return key, nil
}

func (w *HDWallet) GetAddress(coinType uint32, pub *btcec.PublicKey) (string, error) {
	switch coinType {
	case CoinBTC: // SegWit p2wpkh
		addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), w.btcParams)
		if err != nil {
			return "", err
		}
		return addr.EncodeAddress(), nil
	case CoinETH:
		return crypto.PubkeyToAddress(*pub.ToECDSA()).Hex(), nil
	default:
		return "", ErrUnsupportedCoin
	}
}
