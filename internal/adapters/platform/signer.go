// signer.go — firma de operador para el relayer.
//
// Mensaje: timestamp + método + path + body, hash Keccak256, firma secp256k1
// con la clave del operador (formato [R || S || V]).
package platform

import (
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	headerAddress   = "X-Operator-Address"
	headerSignature = "X-Operator-Signature"
	headerTimestamp = "X-Timestamp"
)

// Signer firma peticiones con la clave del operador.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner carga la clave privada en hex (con o sin 0x).
func NewSigner(privateKeyHex string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("platform.NewSigner: invalid private key: %w", err)
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address devuelve la dirección del operador.
func (s *Signer) Address() common.Address {
	return s.address
}

func signingDigest(ts, method, path string, body []byte) []byte {
	msg := make([]byte, 0, len(ts)+len(method)+len(path)+len(body))
	msg = append(msg, ts...)
	msg = append(msg, method...)
	msg = append(msg, path...)
	msg = append(msg, body...)
	return crypto.Keccak256(msg)
}

// SignRequest añade las cabeceras de operador a req.
func (s *Signer) SignRequest(req *http.Request, body []byte, now time.Time) error {
	ts := strconv.FormatInt(now.Unix(), 10)
	sig, err := crypto.Sign(signingDigest(ts, req.Method, req.URL.Path, body), s.key)
	if err != nil {
		return fmt.Errorf("platform.SignRequest: %w", err)
	}
	req.Header.Set(headerAddress, s.address.Hex())
	req.Header.Set(headerSignature, hexutil.Encode(sig))
	req.Header.Set(headerTimestamp, ts)
	return nil
}

// RecoverSigner devuelve la dirección que firmó una petición. Lo usa el
// lado servidor (y los tests) para verificar las cabeceras.
func RecoverSigner(method, path string, body []byte, ts, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("platform.RecoverSigner: decode: %w", err)
	}
	pub, err := crypto.SigToPub(signingDigest(ts, method, path, body), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("platform.RecoverSigner: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
