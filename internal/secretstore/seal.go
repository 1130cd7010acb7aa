// Package secretstore 加密落盘的状态快照和助记词。
//
// 设备密钥由每台机器稳定的标识经 scrypt 派生，只在内存里存在；
// 密文格式：magic(4) | version(1) | [salt(32)] | nonce(12) | AES-256-GCM 密文，头部作为 AAD。
package secretstore

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
	"gopherwallet.com/internal/wallet/domain"
)

const (
	version      = 1
	keyLen       = 32
	saltLen      = 32
	nonceLen     = 12
	headerLen    = 5
	minSealedLen = headerLen + nonceLen + 16 // GCM tag
)

var (
	magicDevice   = []byte("GWSS")
	magicPassword = []byte("GWSP")
)

// Params scrypt 参数。
// N=2^18 大约 256MB 内存，桌面和手机都能跑；测试里用小参数
type Params struct {
	N int `mapstructure:"scrypt_n"`
	R int `mapstructure:"scrypt_r"`
	P int `mapstructure:"scrypt_p"`
}

func DefaultParams() Params { return Params{N: 1 << 18, R: 8, P: 1} }

func (p Params) orDefault() Params {
	d := DefaultParams()
	if p.N <= 1 {
		p.N = d.N
	}
	if p.R <= 0 {
		p.R = d.R
	}
	if p.P <= 0 {
		p.P = d.P
	}
	return p
}

// DeviceKey 设备绑定的 32 字节密钥，打印和序列化都会脱敏
type DeviceKey struct {
	b [keyLen]byte
}

func (k DeviceKey) String() string               { return "DeviceKey(REDACTED)" }
func (k DeviceKey) GoString() string             { return "DeviceKey(REDACTED)" }
func (k DeviceKey) MarshalJSON() ([]byte, error) { return []byte(`"REDACTED"`), nil }

// KeyFromBytes 测试和迁移用
func KeyFromBytes(b []byte) (DeviceKey, error) {
	var k DeviceKey
	if len(b) != keyLen {
		return k, fmt.Errorf("secretstore: device key must be %d bytes", keyLen)
	}
	copy(k.b[:], b)
	return k, nil
}

// DeriveDeviceKey scrypt(deviceID, appSalt)
func DeriveDeviceKey(deviceID, appSalt string, p Params) (DeviceKey, error) {
	var k DeviceKey
	if deviceID == "" {
		return k, errors.New("secretstore: empty device id")
	}
	p = p.orDefault()
	raw, err := scrypt.Key([]byte(deviceID), []byte("gopherwallet/device/"+appSalt), p.N, p.R, p.P, keyLen)
	if err != nil {
		return k, fmt.Errorf("secretstore: derive device key: %w", err)
	}
	defer clear(raw)
	copy(k.b[:], raw)
	return k, nil
}

// Seal 用设备密钥加密
func Seal(plaintext []byte, key DeviceKey) ([]byte, error) {
	header := append(append([]byte(nil), magicDevice...), version)
	return sealWith(key.b[:], header, nil, plaintext)
}

// Unseal 任何失败（截断、头不对、密钥不对、被篡改）都是 *domain.DecryptError
func Unseal(blob []byte, key DeviceKey) ([]byte, error) {
	if len(blob) < minSealedLen || !bytes.Equal(blob[:4], magicDevice) {
		return nil, &domain.DecryptError{Op: "unseal"}
	}
	if blob[4] != version {
		return nil, &domain.DecryptError{Op: "unseal", Err: fmt.Errorf("unsupported version %d", blob[4])}
	}
	return openWith(key.b[:], blob[:headerLen], blob[headerLen:], "unseal")
}

// SealPassword 口令加密，每次随机 salt，写在头后面
func SealPassword(plaintext, password []byte, p Params) ([]byte, error) {
	p = p.orDefault()
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("secretstore: generate salt: %w", err)
	}
	key, err := scrypt.Key(password, salt, p.N, p.R, p.P, keyLen)
	if err != nil {
		return nil, fmt.Errorf("secretstore: derive key: %w", err)
	}
	defer clear(key)
	header := append(append([]byte(nil), magicPassword...), version)
	return sealWith(key, header, salt, plaintext)
}

func UnsealPassword(blob, password []byte, p Params) ([]byte, error) {
	if len(blob) < minSealedLen+saltLen || !bytes.Equal(blob[:4], magicPassword) || blob[4] != version {
		return nil, &domain.DecryptError{Op: "unseal password"}
	}
	p = p.orDefault()
	salt := blob[headerLen : headerLen+saltLen]
	key, err := scrypt.Key(password, salt, p.N, p.R, p.P, keyLen)
	if err != nil {
		return nil, &domain.DecryptError{Op: "unseal password", Err: err}
	}
	defer clear(key)
	return openWith(key, blob[:headerLen+saltLen], blob[headerLen+saltLen:], "unseal password")
}

// IsPasswordSealed 判断是否是口令加密的密文
func IsPasswordSealed(blob []byte) bool {
	return len(blob) >= headerLen && bytes.Equal(blob[:4], magicPassword)
}

func sealWith(key, header, salt, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("secretstore: generate nonce: %w", err)
	}
	aad := append(append([]byte(nil), header...), salt...)
	out := make([]byte, 0, len(aad)+nonceLen+len(plaintext)+aead.Overhead())
	out = append(out, aad...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, aad), nil
}

func openWith(key, aad, rest []byte, op string) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, &domain.DecryptError{Op: op, Err: err}
	}
	if len(rest) < nonceLen+aead.Overhead() {
		return nil, &domain.DecryptError{Op: op}
	}
	plaintext, err := aead.Open(nil, rest[:nonceLen], rest[nonceLen:], aad)
	if err != nil {
		// 不区分密钥错误和数据损坏
		return nil, &domain.DecryptError{Op: op}
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secretstore: create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
