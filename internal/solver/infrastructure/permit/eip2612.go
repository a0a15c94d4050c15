// Package permit EIP-2612 permit 签名的摘要计算、签名与校验
package permit

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/wyfcoding/cowsolver/internal/solver/domain"
)

var (
	domainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	permitTypeHash = crypto.Keccak256Hash([]byte("Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"))
	versionHash    = crypto.Keccak256Hash([]byte("1"))
)

// Verifier 按资产名称和链 ID 构造 EIP-712 domain 并恢复签名者
type Verifier struct {
	chainID *big.Int
	names   map[common.Address]string
}

// NewVerifier names 为资产地址到代币名称的映射，未登记的资产一律校验失败
func NewVerifier(chainID int64, names map[common.Address]string) *Verifier {
	copied := make(map[common.Address]string, len(names))
	for k, v := range names {
		copied[k] = v
	}
	return &Verifier{chainID: big.NewInt(chainID), names: copied}
}

// Digest permit 的 EIP-712 签名摘要
func (v *Verifier) Digest(p domain.Permit, nonce uint64) (common.Hash, error) {
	name, ok := v.names[p.Asset]
	if !ok {
		return common.Hash{}, fmt.Errorf("asset %s is not registered", p.Asset.Hex())
	}
	if p.Value.IsNegative() || !p.Value.IsInteger() {
		return common.Hash{}, fmt.Errorf("permit value %s is not a uint256", p.Value)
	}

	domainSeparator := crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		crypto.Keccak256([]byte(name)),
		versionHash.Bytes(),
		word(v.chainID),
		common.LeftPadBytes(p.Asset.Bytes(), 32),
	)
	structHash := crypto.Keccak256Hash(
		permitTypeHash.Bytes(),
		common.LeftPadBytes(p.Owner.Bytes(), 32),
		common.LeftPadBytes(p.Spender.Bytes(), 32),
		word(p.Value.BigInt()),
		word(new(big.Int).SetUint64(nonce)),
		word(big.NewInt(p.Deadline.Unix())),
	)
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domainSeparator.Bytes(), structHash.Bytes()), nil
}

// Verify 签名恢复出的地址等于 owner 且 s 位于低半区
func (v *Verifier) Verify(p domain.Permit, nonce uint64) bool {
	digest, err := v.Digest(p, nonce)
	if err != nil {
		return false
	}

	recID := p.Auth.V
	if recID >= 27 {
		recID -= 27
	}
	r := new(big.Int).SetBytes(p.Auth.R.Bytes())
	s := new(big.Int).SetBytes(p.Auth.S.Bytes())
	if !crypto.ValidateSignatureValues(recID, r, s, true) {
		return false
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig[0:32], p.Auth.R.Bytes())
	copy(sig[32:64], p.Auth.S.Bytes())
	sig[64] = recID

	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == p.Owner
}

// Sign 用私钥签署 permit，返回 v 取 27/28 的授权
func (v *Verifier) Sign(key *ecdsa.PrivateKey, p domain.Permit, nonce uint64) (domain.Authorization, error) {
	digest, err := v.Digest(p, nonce)
	if err != nil {
		return domain.Authorization{}, err
	}
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return domain.Authorization{}, err
	}
	return domain.Authorization{
		V: sig[64] + 27,
		R: common.BytesToHash(sig[0:32]),
		S: common.BytesToHash(sig[32:64]),
	}, nil
}

// SignIntent 以 custody 为 spender 签署意图卖出资产的 permit，并写入 it.Auth
func (v *Verifier) SignIntent(key *ecdsa.PrivateKey, it *domain.Intent, custody common.Address, nonce uint64) error {
	auth, err := v.Sign(key, domain.Permit{
		Asset:    it.AssetSell,
		Owner:    it.Submitter,
		Spender:  custody,
		Value:    it.AmountIn,
		Deadline: it.Expiry,
	}, nonce)
	if err != nil {
		return err
	}
	it.Auth = auth
	return nil
}

func word(x *big.Int) []byte {
	return common.LeftPadBytes(x.Bytes(), 32)
}
