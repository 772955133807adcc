package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/youmark/pkcs8"
)

// PEM block types accepted for the private key.
const (
	pemTypePKCS1          = "RSA PRIVATE KEY"
	pemTypePKCS8          = "PRIVATE KEY"
	pemTypeEncryptedPKCS8 = "ENCRYPTED PRIVATE KEY"
)

// loadPrivateKey reads and parses the RSA private key. Every failure,
// including a wrong password, is a *KeyError.
func loadPrivateKey(m Material, password []byte) (*rsa.PrivateKey, error) {
	data, err := m.load()
	if err != nil {
		return nil, &KeyError{Reason: "loading key material", Err: err}
	}

	return parsePrivateKey(data, password)
}

// parsePrivateKey decodes the first PEM block in data. Supported encodings are
// PKCS#1, PKCS#8, encrypted PKCS#8 and legacy encrypted PEM (Proc-Type header).
func parsePrivateKey(data, password []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, &KeyError{Reason: "no PEM block found"}
	}

	der := block.Bytes

	//nolint:staticcheck // legacy PEM encryption is still issued by some CAs
	if x509.IsEncryptedPEMBlock(block) {
		if len(password) == 0 {
			return nil, &KeyError{Reason: "key is encrypted but no password was given"}
		}

		//nolint:staticcheck // see above
		der, err := x509.DecryptPEMBlock(block, password)
		if err != nil {
			return nil, &KeyError{Reason: "decrypting PEM block", Err: err}
		}

		return parseDER(block.Type, der, nil)
	}

	return parseDER(block.Type, der, password)
}

func parseDER(blockType string, der, password []byte) (*rsa.PrivateKey, error) {
	switch blockType {
	case pemTypePKCS1:
		key, err := x509.ParsePKCS1PrivateKey(der)
		if err != nil {
			return nil, &KeyError{Reason: "parsing PKCS#1 key", Err: err}
		}

		return key, nil

	case pemTypePKCS8:
		parsed, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, &KeyError{Reason: "parsing PKCS#8 key", Err: err}
		}

		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, &KeyError{Reason: fmt.Sprintf("unsupported key algorithm %T, RSA required", parsed)}
		}

		return key, nil

	case pemTypeEncryptedPKCS8:
		if len(password) == 0 {
			return nil, &KeyError{Reason: "key is encrypted but no password was given"}
		}

		key, err := pkcs8.ParsePKCS8PrivateKeyRSA(der, password)
		if err != nil {
			return nil, &KeyError{Reason: "decrypting PKCS#8 key", Err: err}
		}

		return key, nil

	default:
		return nil, &KeyError{Reason: fmt.Sprintf("unsupported PEM block type %q", blockType)}
	}
}
