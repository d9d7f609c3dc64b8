package authcore

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const totpSecretBytes = 20

var errEmptyTOTPSecret = errors.New("empty totp secret")

// totpParams are the RFC 6238 parameters shared by every enrolled user.
type totpParams struct {
	issuer    string
	digits    int
	period    int
	algorithm string
	skew      int
}

type totpManager struct {
	params totpParams
}

func newTOTPManager(cfg MFAConfig) *totpManager {
	alg := strings.ToUpper(cfg.TOTPAlgorithm)
	if alg == "" {
		alg = "SHA1"
	}
	return &totpManager{params: totpParams{
		issuer:    cfg.TOTPIssuer,
		digits:    cfg.TOTPDigits,
		period:    cfg.TOTPPeriod,
		algorithm: alg,
		skew:      cfg.TOTPSkew,
	}}
}

// GenerateSecret returns a fresh raw secret and its unpadded base32 form.
func (m *totpManager) GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}

	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return raw, enc.EncodeToString(raw), nil
}

// ProvisionURI builds the otpauth:// URI authenticator apps import.
func (m *totpManager) ProvisionURI(secretBase32, account string) string {
	issuer := m.params.issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(m.params.period))
	v.Set("digits", strconv.Itoa(m.params.digits))
	v.Set("algorithm", m.params.algorithm)

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// VerifyCode checks code against the steps within skew of now and returns
// the matching counter. Replay protection is the caller's job.
func (m *totpManager) VerifyCode(secret []byte, code string, now time.Time) (bool, int64, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.params.digits || !isNumericString(trimmed) {
		return false, 0, nil
	}
	if len(secret) == 0 {
		return false, 0, errEmptyTOTPSecret
	}

	base := now.Unix() / int64(m.params.period)
	for step := -m.params.skew; step <= m.params.skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotpCode(secret, counter, m.params.digits, m.params.algorithm)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}

	return false, 0, nil
}

// CodeAt returns the code for the step containing t.
func (m *totpManager) CodeAt(secret []byte, t time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errEmptyTOTPSecret
	}
	return hotpCode(secret, t.Unix()/int64(m.params.period), m.params.digits, m.params.algorithm)
}

// counterTTL is how long a last-used counter must outlive its step to
// cover the accepted skew window.
func (m *totpManager) counterTTL() time.Duration {
	return time.Duration((2*m.params.skew+2)*m.params.period) * time.Second
}

func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}

func isNumericString(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
