package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

// Operator request signature headers.
const (
	HeaderSignature = "X-Boatmarket-Signature"
	HeaderDate      = "X-Boatmarket-Date"
	HeaderNonce     = "X-Boatmarket-Nonce"
)

var ErrMissingSignatureHeaders = errors.New("missing signature headers")

type SignatureHeaders struct {
	Date      string
	Nonce     string
	Signature string
}

func ComputeBodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ComputeSignature signs the newline-joined canonical request.
func ComputeSignature(secret, method, path, query, bodyHash, date, nonce string) string {
	data := strings.Join([]string{
		strings.ToUpper(method),
		path,
		query,
		bodyHash,
		date,
		nonce,
	}, "\n")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func ValidateSignature(secret string, r *http.Request, body []byte, h SignatureHeaders) bool {
	expected := ComputeSignature(secret, r.Method, r.URL.Path, r.URL.RawQuery, ComputeBodyHash(body), h.Date, h.Nonce)
	return hmac.Equal([]byte(h.Signature), []byte(expected))
}

func ExtractSignatureHeaders(header http.Header) (SignatureHeaders, error) {
	h := SignatureHeaders{
		Date:      header.Get(HeaderDate),
		Nonce:     header.Get(HeaderNonce),
		Signature: header.Get(HeaderSignature),
	}
	if h.Date == "" || h.Nonce == "" || h.Signature == "" {
		return SignatureHeaders{}, ErrMissingSignatureHeaders
	}
	return h, nil
}
