package pairing

import (
	"encoding/hex"
	"errors"

	"github.com/and161185/paircloud/internal/crypto/peercrypto"
	"github.com/and161185/paircloud/internal/model"
	"github.com/and161185/paircloud/internal/qr"
	"github.com/and161185/paircloud/internal/vault"
)

// PairingQR builds the credential clients scan to pair with this server.
// Indirect credentials carry key material persisted under the QRKey secret.
func (c *Cloud) PairingQR() (string, error) {
	if c.opts.Role != model.RoleServer {
		return "", errors.New("pairing: only servers issue credentials")
	}
	if !c.opts.IndirectQR {
		return qr.Encode(qr.Credential{Type: qr.TypeDirect, ServerPublicKey: c.ident.PublicKey(), Suffix: c.opts.EntrySuffix})
	}
	km, ok := c.qrKey()
	if !ok {
		b, err := peercrypto.Rand(qr.KeyMaterialLen)
		if err != nil {
			return "", err
		}
		copy(km[:], b)
		if err := c.opts.Vault.Set(vault.KeyQRKey, vault.Ptr(hex.EncodeToString(b))); err != nil {
			return "", err
		}
	}
	ref := &qr.IndirectRef{ServerID: c.ident.UserID(), KeyMaterial: km}
	return qr.Encode(qr.Credential{Type: qr.TypeIndirect, Indirect: ref, Suffix: c.opts.EntrySuffix})
}

func (c *Cloud) qrKey() ([qr.KeyMaterialLen]byte, bool) {
	var km [qr.KeyMaterialLen]byte
	h, ok := c.opts.Vault.Get(vault.KeyQRKey)
	if !ok {
		return km, false
	}
	b, err := hex.DecodeString(h)
	if err != nil || len(b) != qr.KeyMaterialLen {
		return km, false
	}
	copy(km[:], b)
	return km, true
}
