// Package hdkey derives per-network deposit addresses and signing keys from
// a single master seed. Derivation is deterministic: the same (seed, network,
// index) always yields the same key. Private keys never leave this package
// except through DerivePrivateKey, which only the hot wallet signer calls.
package hdkey

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/ripemd160"
	"golang.org/x/crypto/sha3"

	"github.com/tradeos/walletcore/internal/domain/wallet"
)

// ErrUnconfigured is returned when no master seed is configured. Callers must
// surface this loudly; there is deliberately no placeholder address fallback.
var ErrUnconfigured = errors.New("hdkey: master seed not configured")

const (
	coinTypeBitcoin  = 0
	coinTypeEthereum = 60 // shared by every EVM network
	coinTypeTron     = 195

	btcVersionByte  = 0x00
	tronVersionByte = 0x41

	hkdfSalt        = "walletcore-hd-v1"
	mnemonicRounds  = 2048
	mnemonicSeedLen = 64
)

// Derivation is the public result of deriving one coordinate.
type Derivation struct {
	Network wallet.Network
	Index   uint32
	Address string
	Path    string
}

// Deriver derives addresses and keys from a master seed.
type Deriver struct {
	seed []byte
}

// NewDeriver creates a deriver. An empty seed is permitted so the process can
// boot without deposit capability, but every derivation will then fail with
// ErrUnconfigured.
func NewDeriver(seed []byte) *Deriver {
	return &Deriver{seed: append([]byte(nil), seed...)}
}

// Configured reports whether a master seed is present.
func (d *Deriver) Configured() bool {
	return len(d.seed) > 0
}

// SeedFromMnemonic stretches a mnemonic sentence into a 64-byte seed using
// PBKDF2-HMAC-SHA512 with the standard "mnemonic"+passphrase salt.
func SeedFromMnemonic(mnemonic, passphrase string) []byte {
	sentence := strings.Join(strings.Fields(strings.TrimSpace(mnemonic)), " ")
	if sentence == "" {
		return nil
	}
	salt := "mnemonic" + passphrase
	return pbkdf2.Key([]byte(sentence), []byte(salt), mnemonicRounds, mnemonicSeedLen, sha512.New)
}

// SeedFromHex decodes a raw hex-encoded seed.
func SeedFromHex(raw string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return nil, errors.New("hdkey: empty seed")
	}
	seed, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("hdkey: seed must be hex: %w", err)
	}
	if len(seed) < 16 {
		return nil, fmt.Errorf("hdkey: seed too short (%d bytes)", len(seed))
	}
	return seed, nil
}

// Path returns the derivation path for a (network, index) coordinate.
func Path(network wallet.Network, index uint32) (string, error) {
	coin, err := coinType(network)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("m/44'/%d'/0'/0/%d", coin, index), nil
}

// Derive returns the deposit address for a (network, index) coordinate.
func (d *Deriver) Derive(network wallet.Network, index uint32) (Derivation, error) {
	key, path, err := d.DerivePrivateKey(network, index)
	if err != nil {
		return Derivation{}, err
	}

	var address string
	switch network {
	case wallet.NetworkBitcoin:
		address = btcAddress(key.PubKey().SerializeCompressed())
	case wallet.NetworkEthereum, wallet.NetworkBSC:
		address = evmAddress(key.PubKey().SerializeUncompressed())
	case wallet.NetworkTron:
		address = tronAddress(key.PubKey().SerializeUncompressed())
	default:
		return Derivation{}, fmt.Errorf("hdkey: unsupported network %q", network)
	}

	return Derivation{Network: network, Index: index, Address: address, Path: path}, nil
}

// DerivePrivateKey returns the raw signing key for a coordinate along with
// its derivation path. The key is a secret: it must never be logged or
// returned over an external-facing API.
func (d *Deriver) DerivePrivateKey(network wallet.Network, index uint32) (*secp256k1.PrivateKey, string, error) {
	if len(d.seed) == 0 {
		return nil, "", ErrUnconfigured
	}
	path, err := Path(network, index)
	if err != nil {
		return nil, "", err
	}

	reader := hkdf.New(sha256.New, d.seed, []byte(hkdfSalt), []byte(path))
	okm := make([]byte, 32)
	if _, err := io.ReadFull(reader, okm); err != nil {
		return nil, "", fmt.Errorf("hdkey: derive key material: %w", err)
	}

	// Map the output key material into [1, n-1] so the scalar is always a
	// valid secp256k1 private key.
	n := secp256k1.S256().N
	scalar := new(big.Int).SetBytes(okm)
	scalar.Mod(scalar, new(big.Int).Sub(n, big.NewInt(1)))
	scalar.Add(scalar, big.NewInt(1))

	buf := make([]byte, 32)
	scalar.FillBytes(buf)
	return secp256k1.PrivKeyFromBytes(buf), path, nil
}

func coinType(network wallet.Network) (int, error) {
	switch network {
	case wallet.NetworkBitcoin:
		return coinTypeBitcoin, nil
	case wallet.NetworkEthereum, wallet.NetworkBSC:
		return coinTypeEthereum, nil
	case wallet.NetworkTron:
		return coinTypeTron, nil
	}
	return 0, fmt.Errorf("hdkey: unsupported network %q", network)
}

// btcAddress builds a P2PKH address: version byte over ripemd160(sha256(pub))
// with a base58check encoding.
func btcAddress(compressedPub []byte) string {
	digest := sha256.Sum256(compressedPub)
	hasher := ripemd160.New()
	hasher.Write(digest[:])
	return base58Check(btcVersionByte, hasher.Sum(nil))
}

// evmAddress builds a keccak256-based address with EIP-55 checksum casing.
// Ethereum and BSC share the same key space, so both map to this address.
func evmAddress(uncompressedPub []byte) string {
	return checksumHex(keccakAddressBytes(uncompressedPub))
}

// tronAddress wraps the keccak-derived 20-byte hash behind Tron's fixed
// address version prefix and base58check-encodes it.
func tronAddress(uncompressedPub []byte) string {
	return base58Check(tronVersionByte, keccakAddressBytes(uncompressedPub))
}

func keccakAddressBytes(uncompressedPub []byte) []byte {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(uncompressedPub[1:]) // drop the 0x04 marker
	sum := hasher.Sum(nil)
	return sum[12:]
}

func base58Check(version byte, payload []byte) string {
	data := append([]byte{version}, payload...)
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return base58.Encode(append(data, second[:4]...))
}

func checksumHex(addr []byte) string {
	lower := hex.EncodeToString(addr)
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(lower))
	sum := hasher.Sum(nil)

	out := make([]byte, len(lower))
	for i, c := range []byte(lower) {
		nibble := sum[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if c >= 'a' && c <= 'f' && nibble&0x0f >= 8 {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return "0x" + string(out)
}
